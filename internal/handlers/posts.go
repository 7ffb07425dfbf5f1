package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"clonetwitter/internal/services"
)

// postRequest 为发帖/改帖的 multipart 表单；nil 表示未提供。
type postRequest struct {
	Text  *string               `form:"text" json:"text"`
	Image *multipart.FileHeader `form:"image" json:"-"`
}

type listPostsRequest struct {
	Choice string `form:"choice"`
}

// bindPost 绑定请求并打开上传文件；调用方负责关闭返回的 closer。
// 大小与格式校验留给 PostService，使作者检查先于载荷校验。
func (h *Handler) bindPost(c *gin.Context) (services.PostInput, io.Closer, error) {
	var req postRequest
	if err := c.ShouldBind(&req); err != nil {
		return services.PostInput{}, nil, services.ValidationError("Invalid request body")
	}
	in := services.PostInput{Text: req.Text}
	if req.Image == nil {
		return in, nil, nil
	}
	f, err := req.Image.Open()
	if err != nil {
		return in, nil, fmt.Errorf("open upload: %w", err)
	}
	in.Image = f
	return in, f, nil
}

// @Summary      帖子列表
// @Description  按 choice 列出帖子（all、mine、followers、following），结果按用户缓存至 TTL 到期
// @Tags         post
// @Produce      json
// @Security     BearerAuth
// @Param        choice query string false "all | mine | followers | following"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Router       /post/ [get]
func (h *Handler) listPosts(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	var req listPostsRequest
	_ = c.ShouldBindQuery(&req)
	choice, err := services.ParseFeedChoice(req.Choice)
	if err != nil {
		h.fail(c, err)
		return
	}
	posts, err := h.feedSvc.List(c, p.UserID, choice)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "Posts retrieved", posts)
}

// @Summary      帖子详情
// @Tags         post
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "帖子 ID"
// @Success      200 {object} envelope
// @Failure      404 {object} envelope
// @Router       /post/{id}/ [get]
func (h *Handler) retrievePost(c *gin.Context) {
	if _, ok := h.caller(c); !ok {
		return
	}
	id, err := pathID(c, "id", "Post")
	if err != nil {
		h.fail(c, err)
		return
	}
	post, err := h.postSvc.Get(c, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "Post retrieved", post)
}

// @Summary      删除帖子
// @Tags         post
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "帖子 ID"
// @Success      200 {object} envelope
// @Failure      403 {object} envelope
// @Failure      404 {object} envelope
// @Router       /post/{id}/ [delete]
func (h *Handler) deletePost(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	id, err := pathID(c, "id", "Post")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.postSvc.Delete(c, p.UserID, id); err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", services.EventPostDeleted, &p.UserID, fmt.Sprintf("post %d deleted", id))
	h.success(c, http.StatusOK, "Post deleted", nil)
}

// @Summary      发帖
// @Description  文本与图片至少提供一个；图片会被重新编码为 JPEG
// @Tags         post
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        text  formData string false "文本"
// @Param        image formData file   false "图片（jpg、png、gif）"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Router       /post/create/ [post]
func (h *Handler) createPost(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	in, closer, err := h.bindPost(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}
	post, err := h.postSvc.Create(c, p.UserID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", services.EventPostCreated, &p.UserID, fmt.Sprintf("post %d created", post.ID))
	h.success(c, http.StatusOK, "You have just added a post", post)
}

// @Summary      编辑帖子
// @Description  仅作者可编辑；部分更新后重新校验空值与重复
// @Tags         post
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id    path     int    true  "帖子 ID"
// @Param        text  formData string false "文本"
// @Param        image formData file   false "图片"
// @Success      200 {object} envelope
// @Failure      400 {object} envelope
// @Failure      403 {object} envelope
// @Failure      404 {object} envelope
// @Router       /post/{id}/edit/ [patch]
func (h *Handler) editPost(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	id, err := pathID(c, "id", "Post")
	if err != nil {
		h.fail(c, err)
		return
	}
	in, closer, err := h.bindPost(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}
	post, err := h.postSvc.Edit(c, p.UserID, id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "INFO", services.EventPostEdited, &p.UserID, fmt.Sprintf("post %d edited", id))
	h.success(c, http.StatusOK, "You have just edited a post", post)
}

// @Summary      刷新 feed 缓存
// @Description  忽略 TTL，重新计算调用者的全部四种 feed
// @Tags         post
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} envelope
// @Router       /post/feeds/refresh/ [get]
func (h *Handler) refreshFeeds(c *gin.Context) {
	p, ok := h.caller(c)
	if !ok {
		return
	}
	counts, err := h.feedSvc.Refresh(c, p.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.success(c, http.StatusOK, "Feeds refreshed", counts)
}
