package cache

import (
	"fmt"

	"github.com/property-predictor/offline-cache/internal/config"
)

// NewStorage 根据 StorageDriver 选择存储实现，整个进程复用一份实例。
func NewStorage(cfg config.GlobalConfig) (Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		return NewMemoryStorage(), nil
	case config.StorageDriverFS:
		return NewFSStorage(cfg.StoragePath)
	case config.StorageDriverLevelDB, "":
		return NewLevelDBStorage(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
