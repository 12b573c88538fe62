// Package manifest 提供安装阶段预缓存的静态资源清单。
package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultAssets 与前端构建产物对应：文档根、入口 HTML、manifest 描述文件与图标。
var defaultAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/vite.svg",
	"/icon-192.png",
	"/icon-512.png",
}

// File 是 YAML 清单文件的结构：
//
//	assets:
//	  - /
//	  - /index.html
type File struct {
	Assets []string `yaml:"assets"`
}

// Default 返回内置清单的副本。
func Default() []string {
	return append([]string(nil), defaultAssets...)
}

// Load 读取 YAML 清单；path 为空时返回内置清单。
func Load(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资源清单失败: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析资源清单失败: %w", err)
	}
	if err := Validate(file.Assets); err != nil {
		return nil, err
	}
	return file.Assets, nil
}

// Validate 要求清单非空、每项均为站内绝对路径且不重复。
func Validate(assets []string) error {
	if len(assets) == 0 {
		return fmt.Errorf("资源清单为空")
	}
	seen := make(map[string]struct{}, len(assets))
	for i, asset := range assets {
		if !strings.HasPrefix(asset, "/") || strings.HasPrefix(asset, "//") {
			return fmt.Errorf("assets[%d]: 必须是以 / 开头的站内路径: %q", i, asset)
		}
		if _, ok := seen[asset]; ok {
			return fmt.Errorf("assets[%d]: 重复路径 %q", i, asset)
		}
		seen[asset] = struct{}{}
	}
	return nil
}
