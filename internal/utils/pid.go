package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var ErrNotRunning = errors.New("PID file does not exist - server is not running")

// PIDManager tracks the serve process through a PID file in the data dir.
type PIDManager struct {
	path string
}

func NewPIDManager(cm *ConfigManager) *PIDManager {
	name := filepath.FromSlash(cm.GetConfigWithDefault("pid_path", "gasless-arcade.pid"))
	if filepath.IsAbs(name) {
		return &PIDManager{path: name}
	}
	return &PIDManager{path: filepath.Join(GetAppPaths("").DataDir, name)}
}

// NewPIDManagerAt uses path as is.
func NewPIDManagerAt(path string) *PIDManager {
	return &PIDManager{path: path}
}

func (p *PIDManager) Path() string {
	return p.path
}

func (p *PIDManager) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for PID file: %v", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(pid)), 0644)
}

func (p *PIDManager) ReadPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file: %v", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID format in file: %v", err)
	}
	return pid, nil
}

func (p *PIDManager) RemovePIDFile() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %v", err)
	}
	return nil
}

func (p *PIDManager) IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// StopProcess sends SIGTERM and waits up to grace before killing the
// process. Windows only supports Kill.
func (p *PIDManager) StopProcess(pid int, grace time.Duration) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process with PID %d: %v", pid, err)
	}

	if runtime.GOOS == "windows" {
		return process.Kill()
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %v", pid, err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(grace)

	for {
		select {
		case <-timeout:
			return process.Kill()
		case <-ticker.C:
			if !p.IsProcessRunning(pid) {
				return nil
			}
		}
	}
}
