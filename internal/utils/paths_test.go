package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestResolvePathsHomeOverride(t *testing.T) {
	root := t.TempDir()
	paths := resolvePaths("gasless-arcade", "linux", envMap(map[string]string{HomeEnv: root}))

	if paths.DataDir != root || paths.ConfigDir != root {
		t.Errorf("Expected config and data under %s, got %+v", root, paths)
	}
	if paths.LogDir != filepath.Join(root, "logs") {
		t.Errorf("Expected logs under %s, got %s", root, paths.LogDir)
	}
}

func TestResolvePathsXDG(t *testing.T) {
	paths := resolvePaths("arcade", "linux", envMap(map[string]string{
		"XDG_CONFIG_HOME": "/cfg",
		"XDG_DATA_HOME":   "/data",
		"XDG_STATE_HOME":  "/state",
	}))

	if paths.ConfigDir != filepath.Join("/cfg", "arcade") {
		t.Errorf("Unexpected config dir %s", paths.ConfigDir)
	}
	if paths.DataDir != filepath.Join("/data", "arcade") {
		t.Errorf("Unexpected data dir %s", paths.DataDir)
	}
	if paths.LogDir != filepath.Join("/state", "arcade", "logs") {
		t.Errorf("Unexpected log dir %s", paths.LogDir)
	}
}

func TestGetAppPathsCreatesDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "home")
	t.Setenv(HomeEnv, root)

	paths := GetAppPaths("")
	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.DataDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Expected %s to exist", dir)
		}
	}
}
