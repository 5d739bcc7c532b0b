package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "gasless-arcade"

// HomeEnv overrides the platform layout: config, logs and data all live
// under this one directory. Useful for tests and for running two agents on
// one machine.
const HomeEnv = "GASLESS_ARCADE_HOME"

// AppPaths are the directories the backend and agent write to. The data dir
// holds the SQLite file, keystore, TLS material and PID file.
type AppPaths struct {
	ConfigDir string
	LogDir    string
	DataDir   string
}

// GetAppPaths resolves and creates the directories for name (default
// gasless-arcade). When a directory cannot be created every path falls
// back to the working directory.
func GetAppPaths(name string) *AppPaths {
	if name == "" {
		name = appName
	}

	paths := resolvePaths(name, runtime.GOOS, os.Getenv)
	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &AppPaths{ConfigDir: ".", LogDir: ".", DataDir: "."}
		}
	}
	return paths
}

func resolvePaths(name, goos string, getenv func(string) string) *AppPaths {
	if root := getenv(HomeEnv); root != "" {
		return &AppPaths{
			ConfigDir: root,
			LogDir:    filepath.Join(root, "logs"),
			DataDir:   root,
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if home, err = os.Getwd(); err != nil {
			home = "."
		}
	}

	orDefault := func(key string, def ...string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return filepath.Join(append([]string{home}, def...)...)
	}

	switch goos {
	case "windows":
		dir := filepath.Join(orDefault("APPDATA", "AppData", "Roaming"), name)
		return &AppPaths{ConfigDir: dir, LogDir: filepath.Join(dir, "logs"), DataDir: dir}
	case "darwin":
		dir := filepath.Join(home, "Library", "Application Support", name)
		return &AppPaths{ConfigDir: dir, LogDir: filepath.Join(home, "Library", "Logs", name), DataDir: dir}
	case "linux", "freebsd", "openbsd", "netbsd":
		// XDG base directories
		return &AppPaths{
			ConfigDir: filepath.Join(orDefault("XDG_CONFIG_HOME", ".config"), name),
			LogDir:    filepath.Join(orDefault("XDG_STATE_HOME", ".local", "state"), name, "logs"),
			DataDir:   filepath.Join(orDefault("XDG_DATA_HOME", ".local", "share"), name),
		}
	default:
		dir := filepath.Join(home, "."+name)
		return &AppPaths{ConfigDir: dir, LogDir: dir, DataDir: dir}
	}
}
