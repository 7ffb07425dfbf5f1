package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/services"
)

type signupRequest struct {
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
	Username  string `form:"username" json:"username"`
	Email     string `form:"email" json:"email"`
	Password1 string `form:"password_1" json:"password_1"`
	Password2 string `form:"password_2" json:"password_2"`
}

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

type refreshRequest struct {
	Refresh string `form:"refresh" json:"refresh"`
}

// editProfileRequest 中 nil 字段表示未提供。
type editProfileRequest struct {
	Username  *string `form:"username" json:"username"`
	Email     *string `form:"email" json:"email"`
	FirstName *string `form:"first_name" json:"first_name"`
	LastName  *string `form:"last_name" json:"last_name"`
}

type followActionRequest struct {
	Action string `form:"action" json:"action"`
}

type activityRequest struct {
	Limit int `form:"limit"`
}

type tokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// loginData 为登录响应：完整资料外加令牌对。
type loginData struct {
	*services.Profile
	Token tokenPair `json:"token"`
}

// @Summary      注册
// @Description  创建新用户，返回 {id, username}
// @Tags         user
// @Accept       multipart/form-data
// @Produce      json
// @Param        first_name formData string true "名"
// @Param        last_name  formData string true "姓"
// @Param        username   formData string true "用户名"
// @Param        email      formData string true "邮箱"
// @Param        password_1 formData string true "密码（至少 8 位）"
// @Param        password_2 formData string true "确认密码"
// @Success      201 {object} envelope
// @Failure      400 {object} envelope
// @Router       /user/signup/ [post]
func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, services.ValidationError("Invalid request body"))
		return
	}
	u, err := h.userSvc.Signup(c, services.SignupInput{
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		Username:             req.Username,
		Email:                req.Email,
		Password:             req.Password1,
		PasswordConfirmation: req.Password2,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", services.EventSignup, &u.ID, "signup")
	h.success(c, http.StatusCreated, "Signup successful", services.BasicUser{ID: u.ID, Username: u.Username})
}

// @Summary      登录
// @Description  校验用户名与密码，返回资料与 {access, refresh}，并设置会话 Cookie
// @Tags         user
// @Accept       multipart/form-data
// @Produce      json
// @Param        username formData string true "用户名"
// @Param        password formData string true "密码"
// @Success      200 {object} envelope
// @Failure      401 {object} envelope
// @Failure      429 {object} envelope
// @Router       /user/login/ [post]
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, services.ValidationError("Invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		h.fail(c, services.ValidationError("username and password are required"))
		return
	}
	res, err := h.authSvc.Login(c, req.Username, req.Password)
	if err != nil {
		if services.KindOf(err) == services.KindAuthentication {
			h.audit(c, "WARN", services.EventLoginFailure, nil, "bad credentials")
		}
		h.fail(c, err)
		return
	}
	if err := h.setSessionCookie(c, res.Session.SID); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", services.EventLoginSuccess, &res.Profile.ID, "login success")
	setNoCache(c)
	h.success(c, http.StatusOK, "Login successful", loginData{
		Profile: res.Profile,
		Token:   tokenPair{Refresh: res.Refresh, Access: res.Access},
	})
}

// @Summary      刷新访问令牌
// @Description  使用刷新令牌换取新的访问令牌（刷新令牌同时旋转）
// @Tags         user
// @Produce      json
// @Param        refresh formData string true "刷新令牌"
// @Success      200 {object} envelope
// @Failure      401 {object} envelope
// @Router       /user/token/refresh/ [post]
func (h *Handler) refreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, services.ValidationError("Invalid request body"))
		return
	}
	access, refresh, err := h.authSvc.Refresh(c, req.Refresh)
	if err != nil {
		h.fail(c, err)
		return
	}
	setNoCache(c)
	h.success(c, http.StatusOK, "Token refreshed", tokenPair{Refresh: refresh, Access: access})
}

// @Summary      登出
// @Description  删除服务端会话、清除 Cookie，并撤销当前访问令牌
// @Tags         user
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} envelope
// @Failure      401 {object} envelope
// @Router       /user/logout/ [post]
func (h *Handler) logout(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.authSvc.Logout(c, p); err != nil {
		h.fail(c, err)
		return
	}
	h.clearSessionCookie(c)
	h.audit(c, "INFO", services.EventLogout, &p.UserID, "logout")
	h.success(c, http.StatusOK, "Logout successful", nil)
}

// @Summary      当前用户资料
// @Tags         user
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} envelope
// @Failure      401 {object} envelope
// @Router       /user/ [get]
func (h *Handler) profile(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	prof, err := h.userSvc.Profile(c, p.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "user profile retrieved", prof)
}

// @Summary      账户活动
// @Description  返回调用者最近的审计记录（登录、关注、发帖等），新的在前
// @Tags         user
// @Produce      json
// @Security     BearerAuth
// @Param        limit query int false "条数（默认 50，最多 100）"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Router       /user/activity/ [get]
func (h *Handler) activity(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	var req activityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, services.ValidationError("limit: Enter a whole number."))
		return
	}
	entries, err := h.logSvc.Recent(c, p.UserID, req.Limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "Activity retrieved", entries)
}

// @Summary      修改资料
// @Description  部分更新 username、email、first_name、last_name
// @Tags         user
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        username   formData string false "用户名（至少 3 位）"
// @Param        email      formData string false "邮箱"
// @Param        first_name formData string false "名"
// @Param        last_name  formData string false "姓"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Router       /user/edit/ [patch]
func (h *Handler) editProfile(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	var req editProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, services.ValidationError("Invalid request body"))
		return
	}
	prof, err := h.userSvc.UpdateProfile(c, p.UserID, services.ProfileUpdate{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "User Detail Updated Successfully", prof)
}

// @Summary      关注/取关
// @Tags         user
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id     path     int    true "目标用户 ID"
// @Param        action formData string true "follow 或 unfollow"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Failure      404 {object} envelope
// @Failure      409 {object} envelope
// @Router       /user/{id}/action/ [post]
func (h *Handler) followAction(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	target, err := pathID(c, "id", "User")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req followActionRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, services.ValidationError("Invalid request body"))
		return
	}
	action := services.FollowAction(req.Action)
	res, err := h.userSvc.SetFollowState(c, p.UserID, target, action)
	if err != nil {
		h.fail(c, err)
		return
	}
	event := services.EventFollow
	if action == services.ActionUnfollow {
		event = services.EventUnfollow
	}
	h.audit(c, "INFO", event, &p.UserID, res.Message)
	log.WithFields(log.Fields{"follower": p.UserID, "followee": target, "action": action}).Debug("follow state changed")
	h.success(c, http.StatusOK, res.Message, res.Profile)
}
