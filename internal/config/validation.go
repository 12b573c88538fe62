package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverLevelDB: {},
	StorageDriverFS:      {},
	StorageDriverMemory:  {},
}

const supportedStorageDriverList = "leveldb|fs|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.StorageDriver != StorageDriverMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}

	w := c.Worker
	if err := validateNameSegment(w.CachePrefix); err != nil {
		return fmt.Errorf("%s: %w", workerField("CachePrefix"), err)
	}
	if err := validateNameSegment(w.CacheVersion); err != nil {
		return fmt.Errorf("%s: %w", workerField("CacheVersion"), err)
	}
	if !strings.HasPrefix(w.NotificationRoute, "/") {
		return newFieldError(workerField("NotificationRoute"), "必须以 / 开头")
	}
	for _, scheme := range w.BypassSchemes {
		if strings.ContainsAny(scheme, ":/ ") {
			return newFieldError(workerField("BypassSchemes"), fmt.Sprintf("非法 scheme: %s", scheme))
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

// validateNameSegment 限制命名空间片段的字符集，保证 fs 驱动可以直接用作目录名。
func validateNameSegment(value string) error {
	if value == "" {
		return errors.New("不能为空")
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("包含非法字符 %q", r)
		}
	}
	return nil
}
