// Package storage 负责关系库与 KV 的接入：按 driver 选择 GORM 方言并自动迁移模型，
// 以及 Redis 客户端和进程内 LRU 两种 KV 实现。业务代码只经由 services 使用这里的类型。
package storage
