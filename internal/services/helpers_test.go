package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"clonetwitter/internal/config"
	"clonetwitter/internal/storage"
)

// testEnv 聚合一组基于 SQLite 内存库与进程内 KV 的服务实例。
type testEnv struct {
	cfg      config.Config
	db       *gorm.DB
	kv       *storage.MemoryKV
	now      time.Time
	users    *UserService
	tokens   *TokenService
	sessions *SessionService
	refresh  *RefreshService
	revoke   *RevocationService
	auth     *AuthService
	posts    *PostService
	feed     *FeedService
	events   *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Media.Root = t.TempDir()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { storage.CloseDatabase(db) })
	kv, err := storage.NewMemoryKV(1000)
	require.NoError(t, err)

	env := &testEnv{cfg: cfg, db: db, kv: kv, now: time.Unix(1_700_000_000, 0), events: &recordingPublisher{}}
	kv.SetClock(func() time.Time { return env.now })

	env.users = NewUserService(db, env.events)
	env.users.SetHashCost(bcrypt.MinCost)
	env.tokens = NewTokenService(cfg)
	env.sessions = NewSessionService(kv, cfg)
	env.refresh = NewRefreshService(kv, cfg.Token.RefreshTokenTTL)
	env.revoke = NewRevocationService(kv)
	env.auth = NewAuthService(env.users, env.tokens, env.sessions, env.refresh, env.revoke)
	env.posts = NewPostService(db, NewImageService(cfg.Media), env.events, cfg.Media.URLPrefix)
	env.feed = NewFeedService(db, NewKVFeedCache(kv), cfg.Feed.CacheTTL, cfg.Media.URLPrefix)
	return env
}

// advance 推进 KV 的时钟。
func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *testEnv) signup(t *testing.T, username string) *storage.User {
	t.Helper()
	u, err := e.users.Signup(context.Background(), SignupInput{
		FirstName: "First", LastName: "Last", Username: username,
		Email: username + "@example.com", Password: "password123", PasswordConfirmation: "password123",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) follow(t *testing.T, follower, followee uint64) {
	t.Helper()
	_, err := e.users.SetFollowState(context.Background(), follower, followee, ActionFollow)
	require.NoError(t, err)
}

func (e *testEnv) post(t *testing.T, posterID uint64, text string) *PostView {
	t.Helper()
	p, err := e.posts.Create(context.Background(), posterID, PostInput{Text: &text})
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type recordedEvent struct {
	Subject string
	Payload any
}

type recordingPublisher struct{ events []recordedEvent }

func (p *recordingPublisher) Publish(_ context.Context, subject string, payload any) error {
	p.events = append(p.events, recordedEvent{Subject: subject, Payload: payload})
	return nil
}

func (p *recordingPublisher) subjects() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject)
	}
	return out
}
