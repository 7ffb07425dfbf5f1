// Package config 描述服务的全部可调参数（存储、缓存、令牌、会话、feed、媒体、限流、事件），
// 以内置默认值为底，再由 config.yaml/yml/json 覆盖。
package config
