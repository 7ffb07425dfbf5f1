package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// RandString 返回 n 个随机字节的 base64url（无填充）编码。
func RandString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprint 返回 s 的 SHA-256 摘要（base64url），用作不透明令牌在 KV 中的键，避免明文落盘。
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
