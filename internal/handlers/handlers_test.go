package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"clonetwitter/internal/config"
	"clonetwitter/internal/services"
	"clonetwitter/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	t      *testing.T
	cfg    config.Config
	engine *gin.Engine
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Media.Root = t.TempDir()
	cfg.Limits.LoginPerMinute = 100
	for _, m := range mutate {
		m(&cfg)
	}
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { storage.CloseDatabase(db) })
	kv, err := storage.NewMemoryKV(1000)
	require.NoError(t, err)

	users := services.NewUserService(db, nil)
	users.SetHashCost(bcrypt.MinCost)
	auth := services.NewAuthService(users, services.NewTokenService(cfg), services.NewSessionService(kv, cfg),
		services.NewRefreshService(kv, cfg.Token.RefreshTokenTTL), services.NewRevocationService(kv))
	posts := services.NewPostService(db, services.NewImageService(cfg.Media), nil, cfg.Media.URLPrefix)
	feed := services.NewFeedService(db, services.NewKVFeedCache(kv), cfg.Feed.CacheTTL, cfg.Media.URLPrefix)
	h := New(cfg, Services{Users: users, Auth: auth, Posts: posts, Feed: feed, Logs: services.NewLogService(db)}, kv)
	return &testServer{t: t, cfg: cfg, engine: h.Engine()}
}

type apiResponse struct {
	Code    int
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Cookies []*http.Cookie
}

func (s *testServer) do(req *http.Request) apiResponse {
	s.t.Helper()
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var out apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	out.Code = w.Code
	out.Cookies = w.Result().Cookies()
	return out
}

func (s *testServer) form(method, path, token string, values url.Values) apiResponse {
	req := httptest.NewRequest(method, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) get(path, token string) apiResponse {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(req)
}

func (s *testServer) signup(username string) {
	s.t.Helper()
	res := s.form(http.MethodPost, "/user/signup/", "", url.Values{
		"first_name": {"F"}, "last_name": {"L"}, "username": {username},
		"email": {username + "@example.com"}, "password_1": {"password123"}, "password_2": {"password123"},
	})
	require.Equal(s.t, http.StatusCreated, res.Code, res.Message)
}

type loginPayload struct {
	ID    uint64 `json:"id"`
	Token struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	} `json:"token"`
}

func (s *testServer) login(username string) (loginPayload, apiResponse) {
	s.t.Helper()
	res := s.form(http.MethodPost, "/user/login/", "", url.Values{"username": {username}, "password": {"password123"}})
	require.Equal(s.t, http.StatusOK, res.Code, res.Message)
	var lp loginPayload
	require.NoError(s.t, json.Unmarshal(res.Data, &lp))
	return lp, res
}

func TestSignupLoginProfileFlow(t *testing.T) {
	s := newTestServer(t)
	res := s.form(http.MethodPost, "/user/signup/", "", url.Values{
		"first_name": {"Ada"}, "last_name": {"L"}, "username": {"ada"},
		"email": {"ada@example.com"}, "password_1": {"password123"}, "password_2": {"password123"},
	})
	require.Equal(t, http.StatusCreated, res.Code)
	require.Equal(t, "Success", res.Status)
	require.Equal(t, "Signup successful", res.Message)
	require.JSONEq(t, `{"id":1,"username":"ada"}`, string(res.Data))

	lp, loginRes := s.login("ada")
	require.NotEmpty(t, lp.Token.Access)
	require.NotEmpty(t, lp.Token.Refresh)
	require.EqualValues(t, 1, lp.ID)
	require.NotEmpty(t, loginRes.Cookies)

	prof := s.get("/user/", lp.Token.Access)
	require.Equal(t, http.StatusOK, prof.Code)
	var p services.Profile
	require.NoError(t, json.Unmarshal(prof.Data, &p))
	require.Equal(t, "ada", p.Username)
	require.Equal(t, "ada@example.com", p.Email)
}

func TestErrorStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.signup("one")
	s.signup("two")
	lp, _ := s.login("one")
	tok := lp.Token.Access

	// Authentication -> 401
	res := s.form(http.MethodPost, "/user/login/", "", url.Values{"username": {"one"}, "password": {"wrong-pass"}})
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, "Failed", res.Status)
	require.Equal(t, "Wrong credentials. Please kindly check your login credentials", res.Message)
	require.Equal(t, http.StatusUnauthorized, s.get("/user/", "").Code)

	// SelfReference -> 400
	res = s.form(http.MethodPost, "/user/1/action/", tok, url.Values{"action": {"follow"}})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "You cannot follow or unfollow yourself", res.Message)

	// NotFound -> 404
	res = s.form(http.MethodPost, "/user/42/action/", tok, url.Values{"action": {"follow"}})
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Equal(t, `No User exists with this ID "42"`, res.Message)

	// Conflict -> 409
	res = s.form(http.MethodPost, "/user/2/action/", tok, url.Values{"action": {"follow"}})
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "You just followed two successfully", res.Message)
	res = s.form(http.MethodPost, "/user/2/action/", tok, url.Values{"action": {"follow"}})
	require.Equal(t, http.StatusConflict, res.Code)

	// Validation -> 400
	res = s.get("/post/?choice=bogus", tok)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "Please Enter a valid choice", res.Message)

	// Authorization -> 403
	other, _ := s.login("two")
	res = s.form(http.MethodPost, "/post/create/", other.Token.Access, url.Values{"text": {"mine"}})
	require.Equal(t, http.StatusOK, res.Code)
	var post services.PostView
	require.NoError(t, json.Unmarshal(res.Data, &post))
	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/post/%d/", post.ID), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	res = s.do(req)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "You are not the author of this post", res.Message)
}

func TestCompatFlat400(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Errors.CompatFlat400 = true })
	s.signup("flat")
	lp, _ := s.login("flat")
	res := s.form(http.MethodPost, "/user/99/action/", lp.Token.Access, url.Values{"action": {"follow"}})
	require.Equal(t, http.StatusBadRequest, res.Code)
	res = s.form(http.MethodPost, "/user/login/", "", url.Values{"username": {"flat"}, "password": {"nope-nope"}})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestSessionCookieAuthAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.signup("cookie")
	lp, loginRes := s.login("cookie")

	var session *http.Cookie
	for _, ck := range loginRes.Cookies {
		if ck.Name == s.cfg.Session.CookieName {
			session = ck
		}
	}
	require.NotNil(t, session)

	req := httptest.NewRequest(http.MethodGet, "/user/", nil)
	req.AddCookie(session)
	require.Equal(t, http.StatusOK, s.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/user/logout/", nil)
	req.Header.Set("Authorization", "Bearer "+lp.Token.Access)
	req.AddCookie(session)
	res := s.do(req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "Logout successful", res.Message)

	// 会话与访问令牌均已失效
	req = httptest.NewRequest(http.MethodGet, "/user/", nil)
	req.AddCookie(session)
	require.Equal(t, http.StatusUnauthorized, s.do(req).Code)
	require.Equal(t, http.StatusUnauthorized, s.get("/user/", lp.Token.Access).Code)
}

func TestRefreshTokenEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.signup("fresh")
	lp, _ := s.login("fresh")

	res := s.form(http.MethodPost, "/user/token/refresh/", "", url.Values{"refresh": {lp.Token.Refresh}})
	require.Equal(t, http.StatusOK, res.Code)
	var pair tokenPair
	require.NoError(t, json.Unmarshal(res.Data, &pair))
	require.Equal(t, http.StatusOK, s.get("/user/", pair.Access).Code)

	res = s.form(http.MethodPost, "/user/token/refresh/", "", url.Values{"refresh": {lp.Token.Refresh}})
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestEditProfile(t *testing.T) {
	s := newTestServer(t)
	s.signup("editor")
	s.signup("taken")
	lp, _ := s.login("editor")

	res := s.form(http.MethodPatch, "/user/edit/", lp.Token.Access, url.Values{"username": {"TAKEN"}})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "A user with this username already exists", res.Message)

	res = s.form(http.MethodPatch, "/user/edit/", lp.Token.Access, url.Values{"first_name": {"Eddie"}})
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "User Detail Updated Successfully", res.Message)
	var p services.Profile
	require.NoError(t, json.Unmarshal(res.Data, &p))
	require.Equal(t, "Eddie", p.FirstName)
	require.Equal(t, "editor", p.Username)
}

func multipartPost(t *testing.T, method, path, token string, text *string, img []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if text != nil {
		require.NoError(t, mw.WriteField("text", *text))
	}
	if img != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func testPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPostLifecycleAndFeedCache(t *testing.T) {
	s := newTestServer(t)
	s.signup("poster")
	lp, _ := s.login("poster")
	tok := lp.Token.Access

	res := s.do(multipartPost(t, http.MethodPost, "/post/create/", tok, nil, nil))
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "Query cannot be empty", res.Message)

	text := "hello"
	res = s.do(multipartPost(t, http.MethodPost, "/post/create/", tok, &text, testPNG(t)))
	require.Equal(t, http.StatusOK, res.Code, res.Message)
	require.Equal(t, "You have just added a post", res.Message)
	var created services.PostView
	require.NoError(t, json.Unmarshal(res.Data, &created))
	require.NotNil(t, created.Image)

	// 图片可通过 /media 访问
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, *created.Image, nil))
	require.Equal(t, http.StatusOK, w.Code)

	list := s.get("/post/?choice=mine", tok)
	require.Equal(t, http.StatusOK, list.Code)
	var posts []services.PostView
	require.NoError(t, json.Unmarshal(list.Data, &posts))
	require.Len(t, posts, 1)

	res = s.form(http.MethodPost, "/post/create/", tok, url.Values{"text": {"second"}})
	require.Equal(t, http.StatusOK, res.Code)
	res = s.form(http.MethodPost, "/post/create/", tok, url.Values{"text": {"second"}})
	require.Equal(t, "Duplicate data", res.Message)

	// 缓存快照在 TTL 内保持不变，刷新后可见新帖
	list = s.get("/post/?choice=mine", tok)
	require.NoError(t, json.Unmarshal(list.Data, &posts))
	require.Len(t, posts, 1)

	res = s.get("/post/feeds/refresh/", tok)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"all":2,"mine":2,"followers":0,"following":0}`, string(res.Data))

	list = s.get("/post/?choice=mine", tok)
	require.NoError(t, json.Unmarshal(list.Data, &posts))
	require.Len(t, posts, 2)

	edited := "hello, edited"
	res = s.do(multipartPost(t, http.MethodPatch, fmt.Sprintf("/post/%d/edit/", created.ID), tok, &edited, nil))
	require.Equal(t, http.StatusOK, res.Code, res.Message)
	require.Equal(t, "You have just edited a post", res.Message)

	got := s.get(fmt.Sprintf("/post/%d/", created.ID), tok)
	require.Equal(t, http.StatusOK, got.Code)
	var view services.PostView
	require.NoError(t, json.Unmarshal(got.Data, &view))
	require.Equal(t, edited, *view.Text)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/post/%d/", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	res = s.do(req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "Post deleted", res.Message)
	require.Equal(t, http.StatusNotFound, s.get(fmt.Sprintf("/post/%d/", created.ID), tok).Code)
}

func TestEditByNonAuthorIsForbiddenBeforePayloadChecks(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Media.MaxUploadBytes = 16 })
	s.signup("owner")
	s.signup("intruder")
	owner, _ := s.login("owner")
	intruder, _ := s.login("intruder")

	res := s.form(http.MethodPost, "/post/create/", owner.Token.Access, url.Values{"text": {"mine"}})
	require.Equal(t, http.StatusOK, res.Code, res.Message)
	var created services.PostView
	require.NoError(t, json.Unmarshal(res.Data, &created))
	path := fmt.Sprintf("/post/%d/edit/", created.ID)

	// 图片超限
	res = s.do(multipartPost(t, http.MethodPatch, path, intruder.Token.Access, nil, testPNG(t)))
	require.Equal(t, http.StatusForbidden, res.Code, res.Message)
	require.Equal(t, "You are not the author of this post", res.Message)

	// 无效图片
	dup := "mine"
	res = s.do(multipartPost(t, http.MethodPatch, path, intruder.Token.Access, &dup, []byte("not an image")))
	require.Equal(t, http.StatusForbidden, res.Code, res.Message)

	res = s.do(multipartPost(t, http.MethodPatch, path, owner.Token.Access, nil, testPNG(t)))
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "Image must not exceed 16 bytes", res.Message)
}

func TestActivityListsCallerEvents(t *testing.T) {
	s := newTestServer(t)
	s.signup("watcher")
	s.signup("other")
	lp, _ := s.login("watcher")
	s.login("other")

	res := s.get("/user/activity/", lp.Token.Access)
	require.Equal(t, http.StatusOK, res.Code, res.Message)
	var entries []services.ActivityEntry
	require.NoError(t, json.Unmarshal(res.Data, &entries))
	require.Len(t, entries, 2)
	require.Equal(t, services.EventLoginSuccess, entries[0].Event)
	require.Equal(t, services.EventSignup, entries[1].Event)

	res = s.get("/user/activity/?limit=1", lp.Token.Access)
	require.NoError(t, json.Unmarshal(res.Data, &entries))
	require.Len(t, entries, 1)

	require.Equal(t, http.StatusBadRequest, s.get("/user/activity/?limit=x", lp.Token.Access).Code)
	require.Equal(t, http.StatusUnauthorized, s.get("/user/activity/", "").Code)
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Limits.LoginPerMinute = 1 })
	s.signup("limited")
	s.login("limited")
	res := s.form(http.MethodPost, "/user/login/", "", url.Values{"username": {"limited"}, "password": {"password123"}})
	require.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
