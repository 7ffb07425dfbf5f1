package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

// KV 抽象 services 需要的 redis 子集（会话、刷新令牌、撤销、限流、feed 缓存）。
// *redis.Client 天然满足该接口；MemoryKV 为单机/测试场景的进程内实现。
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ KV = (*redis.Client)(nil)

type memEntry struct {
	val string
	exp time.Time // 零值表示永不过期
}

// MemoryKV 基于有界 LRU 的进程内 KV，按条目记录过期时间，语义与 redis 命令保持一致。
type MemoryKV struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memEntry]
	now   func() time.Time
}

// NewMemoryKV 创建最多保存 size 个键的进程内 KV。
func NewMemoryKV(size int) (*MemoryKV, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	return &MemoryKV{cache: c, now: time.Now}, nil
}

// SetClock 仅用于测试，替换内部时间函数。
func (m *MemoryKV) SetClock(clock func() time.Time) {
	if clock != nil {
		m.mu.Lock()
		m.now = clock
		m.mu.Unlock()
	}
}

// lookup 需在持锁状态下调用；过期条目被惰性删除。
func (m *MemoryKV) lookup(key string) (memEntry, bool) {
	e, ok := m.cache.Get(key)
	if !ok {
		return memEntry{}, false
	}
	if !e.exp.IsZero() && !m.now().Before(e.exp) {
		m.cache.Remove(key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryKV) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(e.val, nil)
}

func (m *MemoryKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(key, memEntry{val: s, exp: m.expiry(expiration)})
	return redis.NewStatusResult("OK", nil)
}

func (m *MemoryKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.lookup(k); ok {
			m.cache.Remove(k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *MemoryKV) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.lookup(key)
	var n int64
	if e.val != "" {
		v, err := strconv.ParseInt(e.val, 10, 64)
		if err != nil {
			return redis.NewIntResult(0, fmt.Errorf("ERR value is not an integer or out of range"))
		}
		n = v
	}
	n++
	e.val = strconv.FormatInt(n, 10)
	m.cache.Add(key, e)
	return redis.NewIntResult(n, nil)
}

func (m *MemoryKV) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewBoolResult(false, nil)
	}
	e.exp = m.expiry(expiration)
	m.cache.Add(key, e)
	return redis.NewBoolResult(true, nil)
}
