package services

// 帖子服务：创建、读取、编辑与删除帖子。写操作不触碰 feed 缓存，缓存仅随 TTL 过期或显式刷新而更新。

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"clonetwitter/internal/metrics"
	"clonetwitter/internal/storage"
)

// PostView 为帖子的对外视图，Image 为可访问的 URL。
type PostView struct {
	ID          uint64    `json:"id"`
	Text        *string   `json:"text"`
	Image       *string   `json:"image"`
	DateCreated time.Time `json:"date_created"`
	Poster      BasicUser `json:"poster"`
}

// PostInput 为创建/编辑帖子的输入；nil 表示未提供。
type PostInput struct {
	Text  *string
	Image io.Reader
}

type PostService struct {
	db        *gorm.DB
	images    *ImageService
	events    EventPublisher
	urlPrefix string
}

func NewPostService(db *gorm.DB, images *ImageService, events EventPublisher, urlPrefix string) *PostService {
	if events == nil {
		events = NopPublisher{}
	}
	return &PostService{db: db, images: images, events: events, urlPrefix: urlPrefix}
}

// Create 校验并创建帖子；文本与图片至少提供一个，且 (text, image) 不得与已有帖子重复。
func (s *PostService) Create(ctx context.Context, callerID uint64, in PostInput) (*PostView, error) {
	text := cleanText(in.Text)
	if text == nil && in.Image == nil {
		return nil, ValidationError("Query cannot be empty")
	}
	// 新图片路径唯一，只有纯文本帖子可能重复
	if in.Image == nil {
		dup, err := s.duplicate(ctx, text, nil, 0)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, ValidationError("Duplicate data")
		}
	}
	var image *string
	if in.Image != nil {
		rel, err := s.images.Save(in.Image)
		if err != nil {
			return nil, err
		}
		image = &rel
	}
	p := &storage.Post{Text: text, Image: image, PosterID: callerID}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if image != nil {
			s.images.Remove(*image)
		}
		return nil, fmt.Errorf("create post: %w", err)
	}
	metrics.PostsWritten.WithLabelValues("create").Inc()
	publish(ctx, s.events, SubjectPostCreated, PostEvent{PostID: p.ID, PosterID: callerID, HasImage: image != nil, CreatedAt: p.CreatedAt})
	return s.Get(ctx, p.ID)
}

// Get 返回单个帖子。
func (s *PostService) Get(ctx context.Context, id uint64) (*PostView, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	v := toPostView(*p, s.urlPrefix)
	return &v, nil
}

// Edit 依次检查存在性与作者身份，再对更新后的状态重新执行空值与重复校验。
func (s *PostService) Edit(ctx context.Context, callerID, id uint64, in PostInput) (*PostView, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.PosterID != callerID {
		return nil, AuthorizationError("You are not the author of this post")
	}
	text := p.Text
	if in.Text != nil {
		text = cleanText(in.Text)
	}
	if text == nil && p.Image == nil && in.Image == nil {
		return nil, ValidationError("Query cannot be empty")
	}
	if in.Image == nil {
		dup, err := s.duplicate(ctx, text, p.Image, p.ID)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, ValidationError("Duplicate data")
		}
	}
	image := p.Image
	if in.Image != nil {
		rel, err := s.images.Save(in.Image)
		if err != nil {
			return nil, err
		}
		image = &rel
	}
	err = s.db.WithContext(ctx).Model(&storage.Post{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"text": text, "image": image}).Error
	if err != nil {
		if in.Image != nil {
			s.images.Remove(*image)
		}
		return nil, fmt.Errorf("update post: %w", err)
	}
	if in.Image != nil && p.Image != nil {
		s.images.Remove(*p.Image)
	}
	metrics.PostsWritten.WithLabelValues("edit").Inc()
	publish(ctx, s.events, SubjectPostUpdated, PostEvent{PostID: p.ID, PosterID: p.PosterID, HasImage: image != nil, CreatedAt: p.CreatedAt})
	return s.Get(ctx, p.ID)
}

// Delete 删除帖子并尽力删除其图片文件。
func (s *PostService) Delete(ctx context.Context, callerID, id uint64) error {
	p, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if p.PosterID != callerID {
		return AuthorizationError("You are not the author of this post")
	}
	if err := s.db.WithContext(ctx).Delete(&storage.Post{}, p.ID).Error; err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if p.Image != nil {
		s.images.Remove(*p.Image)
	}
	metrics.PostsWritten.WithLabelValues("delete").Inc()
	publish(ctx, s.events, SubjectPostDeleted, PostEvent{PostID: p.ID, PosterID: p.PosterID, HasImage: p.Image != nil, CreatedAt: p.CreatedAt})
	return nil
}

func (s *PostService) find(ctx context.Context, id uint64) (*storage.Post, error) {
	var p storage.Post
	if err := s.db.WithContext(ctx).Preload("Poster").Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("No Post exists with this ID \"%d\"", id)
		}
		return nil, fmt.Errorf("find post: %w", err)
	}
	return &p, nil
}

// duplicate 判断是否存在相同 (text, image) 的其他帖子，NULL 视为“缺省”参与比较。
func (s *PostService) duplicate(ctx context.Context, text, image *string, exceptID uint64) (bool, error) {
	q := s.db.WithContext(ctx).Model(&storage.Post{})
	if text == nil {
		q = q.Where("text IS NULL")
	} else {
		q = q.Where("text = ?", *text)
	}
	if image == nil {
		q = q.Where("image IS NULL")
	} else {
		q = q.Where("image = ?", *image)
	}
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return n > 0, nil
}

// cleanText 将空白文本视为未提供。
func cleanText(t *string) *string {
	if t == nil || strings.TrimSpace(*t) == "" {
		return nil
	}
	v := *t
	return &v
}

func toPostView(p storage.Post, urlPrefix string) PostView {
	v := PostView{
		ID:          p.ID,
		Text:        p.Text,
		DateCreated: p.CreatedAt.UTC(),
		Poster:      BasicUser{ID: p.Poster.ID, Username: p.Poster.Username},
	}
	if p.Image != nil {
		url := strings.TrimRight(urlPrefix, "/") + "/" + *p.Image
		v.Image = &url
	}
	return v
}
