package services

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/config"
)

// postImageDir 为帖子图片相对 media 根目录的子目录。
const postImageDir = "post/images"

// ImageService 将上传图片重新编码为低质量 JPEG 并保存在 media 根目录下。
// maxBytes 为单张上传的字节上限，0 表示不限制。
type ImageService struct {
	root     string
	quality  int
	maxBytes int64
}

func NewImageService(cfg config.MediaConfig) *ImageService {
	q := cfg.JPEGQuality
	if q <= 0 || q > 100 {
		q = 20
	}
	return &ImageService{root: cfg.Root, quality: q, maxBytes: cfg.MaxUploadBytes}
}

// Save 解码 r 中的图片并以 JPEG 写入，返回相对路径（如 post/images/<uuid>.jpg）。
// 调用方应先完成权限检查：超限与解码失败都作为 ValidationError 返回。
func (s *ImageService) Save(r io.Reader) (string, error) {
	if s.maxBytes > 0 {
		raw, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
		if err != nil {
			return "", fmt.Errorf("read upload: %w", err)
		}
		if int64(len(raw)) > s.maxBytes {
			return "", ValidationError("Image must not exceed %d bytes", s.maxBytes)
		}
		r = bytes.NewReader(raw)
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", ValidationError("Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
	}
	dir := filepath.Join(s.root, filepath.FromSlash(postImageDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	name := uuid.NewString() + ".jpg"
	if err := imaging.Save(img, filepath.Join(dir, name), imaging.JPEGQuality(s.quality)); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path.Join(postImageDir, name), nil
}

// Remove 尽力删除已保存的图片；路径必须位于图片目录内。
func (s *ImageService) Remove(rel string) {
	if rel == "" || !strings.HasPrefix(rel, postImageDir+"/") || strings.Contains(rel, "..") {
		return
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("image", rel).Warn("image remove failed")
	}
}
