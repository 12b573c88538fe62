package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StorageDriver = "memory"
Origin = "http://127.0.0.1:5000"
FetchTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StorageDriver = "memory"
Origin = "http://127.0.0.1:5000/"
FetchTimeout = 5
`
	loaded := mustLoad(t, writeTempConfig(t, cfg))
	if loaded.Global.FetchTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", loaded.Global.FetchTimeout.DurationValue())
	}
	if loaded.Global.Origin != "http://127.0.0.1:5000" {
		t.Fatalf("Origin 末尾斜杠应被去除，得到 %s", loaded.Global.Origin)
	}
	if loaded.Worker.StaticCacheName() != "property-predictor-static-v1.0.0" {
		t.Fatalf("应使用默认命名空间前缀与版本，得到 %s", loaded.Worker.StaticCacheName())
	}
}

func TestLoadResolvesManifestRelativeToConfig(t *testing.T) {
	cfg := `
StorageDriver = "memory"
Origin = "http://127.0.0.1:5000"

[Worker]
AssetManifest = "assets.yaml"
`
	path := writeTempConfig(t, cfg)
	loaded := mustLoad(t, path)
	want := filepath.Join(filepath.Dir(path), "assets.yaml")
	if loaded.Worker.AssetManifest != want {
		t.Fatalf("清单路径应相对配置文件解析，期望 %s 得到 %s", want, loaded.Worker.AssetManifest)
	}
}
