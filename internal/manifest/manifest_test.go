package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesFrontendBuild(t *testing.T) {
	assets := Default()
	if len(assets) != 6 || assets[0] != "/" || assets[1] != "/index.html" {
		t.Fatalf("unexpected default assets: %v", assets)
	}
	assets[0] = "/mutated"
	if Default()[0] != "/" {
		t.Fatalf("Default 应返回副本")
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	assets, err := Load("")
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if len(assets) != len(Default()) {
		t.Fatalf("空路径应返回内置清单")
	}
}

func TestLoadYAML(t *testing.T) {
	assets, err := Load(filepath.Join("..", "config", "testdata", "assets.yaml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	want := []string{"/", "/index.html", "/manifest.json"}
	if len(assets) != len(want) {
		t.Fatalf("unexpected assets: %v", assets)
	}
	for i := range want {
		if assets[i] != want[i] {
			t.Fatalf("清单顺序应保持不变: %v", assets)
		}
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"relative":  "assets:\n  - index.html\n",
		"duplicate": "assets:\n  - /\n  - /\n",
		"empty":     "assets: []\n",
		"external":  "assets:\n  - //cdn.example/x.js\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "assets.yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatalf("写入清单失败: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("非法清单应返回错误")
			}
		})
	}
}
