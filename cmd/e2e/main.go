package main

// e2e 对运行中的服务执行一次全链路巡检：注册、登录、关注、发帖、feed 缓存与刷新、登出。

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var verbose bool
var baseURL *url.URL

// scenario 封装一次端到端巡检过程中共享的资源。
type scenario struct {
	client   *http.Client
	password string
}

// envelope 对应服务端统一响应外壳。
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type account struct {
	ID       uint64
	Username string
	Access   string
	Refresh  string
}

func banner(title string) {
	log.Infof("=== %s ===", title)
}

func step(format string, args ...interface{}) {
	log.Infof(" • "+format, args...)
}

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

func main() {
	var (
		base     string
		prefix   string
		password string
		timeout  time.Duration
	)
	flag.StringVar(&base, "base", "http://127.0.0.1:8000", "Base URL of the server")
	flag.StringVar(&prefix, "username", "e2e", "Username prefix for the e2e users")
	flag.StringVar(&password, "password", "P@ssw0rd9", "Password for the e2e users")
	flag.DurationVar(&timeout, "timeout", 20*time.Second, "HTTP timeout for requests")
	flag.BoolVar(&verbose, "v", true, "Verbose logging")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	var err error
	baseURL, err = url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		log.Fatalf("parse base url: %v", err)
	}
	jar, _ := cookiejar.New(nil)
	sc := &scenario{client: &http.Client{Jar: jar, Timeout: timeout}, password: password}
	sc.run(prefix)
}

func (s *scenario) run(prefix string) {
	log.Infof("E2E start -> %s", baseURL)

	banner("Health Checks")
	step("Probe /healthz")
	must(expectStatus(s.client, "/healthz", 200), "healthz")
	step("Probe /metrics")
	must(expectStatus(s.client, "/metrics", 200), "metrics")

	banner("Signup & Login")
	suffix := time.Now().UnixNano()
	alice := s.signupLogin(fmt.Sprintf("%s_a_%d", prefix, suffix))
	bob := s.signupLogin(fmt.Sprintf("%s_b_%d", prefix, suffix))
	if verbose {
		header, payload := decodeJWT(alice.Access)
		log.Debugf("access token header=%s payload=%s", header, payload)
	}

	step("Duplicate signup is rejected")
	_, code := s.call("POST", "/user/signup/", "", signupForm(alice.Username, s.password), nil)
	if code != 400 {
		log.Fatalf("duplicate signup: status %d want 400", code)
	}

	banner("Follow Graph")
	step("%s follows %s", bob.Username, alice.Username)
	env, code := s.call("POST", fmt.Sprintf("/user/%d/action/", alice.ID), bob.Access, url.Values{"action": {"follow"}}, nil)
	expect(code, 200, env, "follow")
	step("Following again conflicts")
	env, code = s.call("POST", fmt.Sprintf("/user/%d/action/", alice.ID), bob.Access, url.Values{"action": {"follow"}}, nil)
	expect(code, 409, env, "follow twice")
	step("Self follow is rejected")
	env, code = s.call("POST", fmt.Sprintf("/user/%d/action/", bob.ID), bob.Access, url.Values{"action": {"follow"}}, nil)
	expect(code, 400, env, "self follow")

	banner("Posts & Feeds")
	step("Warm bob's following feed")
	before := s.countPosts(bob, "following")
	step("%s posts text + image", alice.Username)
	env, code = s.call("POST", "/post/create/", alice.Access, url.Values{"text": {fmt.Sprintf("hello from e2e %d", suffix)}}, samplePNG())
	expect(code, 200, env, "create post")
	var post struct {
		ID    uint64  `json:"id"`
		Image *string `json:"image"`
	}
	must(json.Unmarshal(env.Data, &post), "decode post")
	if post.Image != nil {
		step("Fetch image %s", *post.Image)
		must(expectStatus(s.client, *post.Image, 200), "media")
	}
	step("Cached feed is unchanged within TTL")
	if got := s.countPosts(bob, "following"); got != before {
		log.Fatalf("following feed changed before refresh: %d -> %d", before, got)
	}
	step("Refresh feeds")
	env, code = s.call("GET", "/post/feeds/refresh/", bob.Access, nil, nil)
	expect(code, 200, env, "refresh feeds")
	if got := s.countPosts(bob, "following"); got != before+1 {
		log.Fatalf("following feed after refresh: %d want %d", got, before+1)
	}
	step("Non-author cannot delete")
	env, code = s.call("DELETE", fmt.Sprintf("/post/%d/", post.ID), bob.Access, nil, nil)
	expect(code, 403, env, "delete by non-author")
	step("Author edits and deletes")
	env, code = s.call("PATCH", fmt.Sprintf("/post/%d/edit/", post.ID), alice.Access, url.Values{"text": {fmt.Sprintf("edited %d", suffix)}}, nil)
	expect(code, 200, env, "edit post")
	env, code = s.call("DELETE", fmt.Sprintf("/post/%d/", post.ID), alice.Access, nil, nil)
	expect(code, 200, env, "delete post")

	banner("Token Lifecycle")
	step("Refresh access token")
	env, code = s.call("POST", "/user/token/refresh/", "", url.Values{"refresh": {alice.Refresh}}, nil)
	expect(code, 200, env, "token refresh")
	step("Logout revokes the access token")
	env, code = s.call("POST", "/user/logout/", bob.Access, nil, nil)
	expect(code, 200, env, "logout")
	_, code = s.call("GET", "/user/", bob.Access, nil, nil)
	if code != 401 {
		log.Fatalf("profile after logout: status %d want 401", code)
	}

	log.Info("E2E OK，全链路检查通过")
}

func signupForm(username, password string) url.Values {
	return url.Values{
		"first_name": {"E2E"}, "last_name": {"User"}, "username": {username},
		"email": {username + "@example.com"}, "password_1": {password}, "password_2": {password},
	}
}

func (s *scenario) signupLogin(username string) account {
	step("Signup %s", username)
	env, code := s.call("POST", "/user/signup/", "", signupForm(username, s.password), nil)
	expect(code, 201, env, "signup")
	step("Login %s", username)
	env, code = s.call("POST", "/user/login/", "", url.Values{"username": {username}, "password": {s.password}}, nil)
	expect(code, 200, env, "login")
	var data struct {
		ID    uint64 `json:"id"`
		Token struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		} `json:"token"`
	}
	must(json.Unmarshal(env.Data, &data), "decode login")
	return account{ID: data.ID, Username: username, Access: data.Token.Access, Refresh: data.Token.Refresh}
}

func (s *scenario) countPosts(a account, choice string) int {
	env, code := s.call("GET", "/post/?choice="+choice, a.Access, nil, nil)
	expect(code, 200, env, "list posts")
	var posts []json.RawMessage
	must(json.Unmarshal(env.Data, &posts), "decode posts")
	return len(posts)
}

func expect(code, want int, env envelope, what string) {
	if code != want {
		log.Fatalf("%s: status %d want %d (%s)", what, code, want, env.Message)
	}
}

// call 发送表单请求（带图片时使用 multipart），返回响应外壳与状态码。
func (s *scenario) call(method, path, token string, form url.Values, img []byte) (envelope, int) {
	var body io.Reader
	contentType := ""
	switch {
	case img != nil:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, vv := range form {
			for _, v := range vv {
				_ = mw.WriteField(k, v)
			}
		}
		fw, err := mw.CreateFormFile("image", "e2e.png")
		must(err, "multipart")
		_, _ = fw.Write(img)
		must(mw.Close(), "multipart close")
		body, contentType = &buf, mw.FormDataContentType()
	case form != nil:
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}
	req, err := http.NewRequest(method, baseURL.ResolveReference(mustURL(path)).String(), body)
	must(err, "new request")
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	must(err, method+" "+path)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if verbose {
		log.Debugf("%s %s -> %d\n响应体: %s", method, path, resp.StatusCode, safeTrunc(prettyJSON(b), 1200))
	}
	var env envelope
	_ = json.Unmarshal(b, &env)
	return env, resp.StatusCode
}

func expectStatus(client *http.Client, path string, want int) error {
	resp, err := client.Get(baseURL.ResolveReference(mustURL(path)).String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("GET %s: status %d want %d body: %s", path, resp.StatusCode, want, string(b))
	}
	return nil
}

func samplePNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		img.Set(x, x, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func mustURL(p string) *url.URL { u, _ := url.Parse(p); return u }

func prettyJSON(b []byte) string {
	var js any
	if err := json.Unmarshal(b, &js); err != nil {
		return string(b)
	}
	pb, _ := json.MarshalIndent(js, "", "  ")
	return string(pb)
}

func safeTrunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func decodeJWT(tok string) (string, string) {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return "", ""
	}
	dec := func(p string) string {
		b, err := base64.RawURLEncoding.DecodeString(p)
		if err != nil {
			return ""
		}
		return prettyJSON(b)
	}
	return dec(parts[0]), dec(parts[1])
}
