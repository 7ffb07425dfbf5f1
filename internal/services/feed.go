package services

// Feed 服务：按 (choice, viewer) 缓存帖子列表快照。
// 缓存条目只会因 TTL 到期或 Refresh 显式重算而变化，帖子与关注关系的写操作都不会使其失效。

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"clonetwitter/internal/metrics"
	"clonetwitter/internal/storage"
)

// FeedChoice 选择列出的帖子子集。
type FeedChoice string

const (
	ChoiceAll       FeedChoice = "all"
	ChoiceMine      FeedChoice = "mine"
	ChoiceFollowers FeedChoice = "followers"
	ChoiceFollowing FeedChoice = "following"
)

// FeedChoices 为全部合法取值，Refresh 按此顺序重算。
var FeedChoices = []FeedChoice{ChoiceAll, ChoiceMine, ChoiceFollowers, ChoiceFollowing}

// ParseFeedChoice 解析 choice，空字符串视为 all。
func ParseFeedChoice(raw string) (FeedChoice, error) {
	if raw == "" {
		return ChoiceAll, nil
	}
	for _, c := range FeedChoices {
		if string(c) == raw {
			return c, nil
		}
	}
	return "", ValidationError("Please Enter a valid choice")
}

// FeedCache 为 feed 快照的缓存能力；ok=false 表示未命中或已过期。
type FeedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// KVFeedCache 基于 storage.KV（Redis 或进程内 LRU）实现 FeedCache。
type KVFeedCache struct{ kv storage.KV }

func NewKVFeedCache(kv storage.KV) *KVFeedCache { return &KVFeedCache{kv: kv} }

func (c *KVFeedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.kv.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (c *KVFeedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.kv.Set(ctx, key, value, ttl).Err()
}

// FeedKey 返回 (choice, viewer) 的缓存键。
func FeedKey(choice FeedChoice, viewerID uint64) string {
	return fmt.Sprintf("feed:%s:%d", choice, viewerID)
}

type FeedService struct {
	db        *gorm.DB
	cache     FeedCache
	ttl       time.Duration
	urlPrefix string
}

func NewFeedService(db *gorm.DB, cache FeedCache, ttl time.Duration, urlPrefix string) *FeedService {
	return &FeedService{db: db, cache: cache, ttl: ttl, urlPrefix: urlPrefix}
}

// List 返回缓存快照；未命中时从存储计算并写入缓存。
func (s *FeedService) List(ctx context.Context, viewerID uint64, choice FeedChoice) ([]PostView, error) {
	key := FeedKey(choice, viewerID)
	b, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.FeedCacheLookups.WithLabelValues(string(choice), "error").Inc()
		log.WithError(err).WithField("key", key).Warn("feed cache read failed")
	case ok:
		var posts []PostView
		if err := json.Unmarshal(b, &posts); err == nil {
			metrics.FeedCacheLookups.WithLabelValues(string(choice), "hit").Inc()
			return posts, nil
		}
		log.WithField("key", key).Warn("feed cache entry corrupt")
	default:
		metrics.FeedCacheLookups.WithLabelValues(string(choice), "miss").Inc()
	}
	return s.recompute(ctx, viewerID, choice)
}

// Refresh 忽略 TTL，重算并覆盖 viewer 的全部 feed，返回各 choice 的条数。
func (s *FeedService) Refresh(ctx context.Context, viewerID uint64) (map[FeedChoice]int, error) {
	counts := make(map[FeedChoice]int, len(FeedChoices))
	for _, c := range FeedChoices {
		posts, err := s.recompute(ctx, viewerID, c)
		if err != nil {
			return nil, err
		}
		counts[c] = len(posts)
	}
	return counts, nil
}

func (s *FeedService) recompute(ctx context.Context, viewerID uint64, choice FeedChoice) ([]PostView, error) {
	posts, err := s.query(ctx, viewerID, choice)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(posts)
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	if err := s.cache.Set(ctx, FeedKey(choice, viewerID), b, s.ttl); err != nil {
		log.WithError(err).WithField("choice", choice).Warn("feed cache write failed")
	}
	return posts, nil
}

// query 从存储读取 choice 对应的帖子，按创建时间倒序。
func (s *FeedService) query(ctx context.Context, viewerID uint64, choice FeedChoice) ([]PostView, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&storage.Post{}).Preload("Poster")
	switch choice {
	case ChoiceMine:
		q = q.Where("poster_id = ?", viewerID)
	case ChoiceFollowers:
		sub := db.Model(&storage.Follow{}).Select("follower_id").Where("followee_id = ?", viewerID)
		q = q.Where("poster_id IN (?)", sub)
	case ChoiceFollowing:
		sub := db.Model(&storage.Follow{}).Select("followee_id").Where("follower_id = ?", viewerID)
		q = q.Where("poster_id IN (?)", sub)
	case ChoiceAll:
	default:
		return nil, ValidationError("Please Enter a valid choice")
	}
	var rows []storage.Post
	if err := q.Order("created_at desc").Order("id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	out := make([]PostView, 0, len(rows))
	for _, p := range rows {
		out = append(out, toPostView(p, s.urlPrefix))
	}
	return out, nil
}
