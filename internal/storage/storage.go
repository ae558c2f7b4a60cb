package storage

import (
	"context"
	"errors"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// Storage 持久化键值存储（浏览器 localStorage 的等价物）
// 购物车账本整体序列化后存放在单个键下
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Pinger 可探活的存储（用于健康检查）
type Pinger interface {
	Ping(ctx context.Context) error
}
