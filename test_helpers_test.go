package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// configFixture 返回 internal/config/testdata 下的配置样例；go test 以包目录为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("解析样例路径失败: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// writeManifestFile 生成只含 assets 列表的预缓存清单。
func writeManifestFile(t *testing.T, assets ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("assets:\n")
	for _, asset := range assets {
		b.WriteString("  - " + asset + "\n")
	}
	file := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(file, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}
	return file
}
