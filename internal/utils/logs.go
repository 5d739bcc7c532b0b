package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Logger is the logging surface components depend on.
type Logger interface {
	Debug(message string, category string)
	Info(message string, category string)
	Warn(message string, category string)
	Error(message string, category string)
}

// LogsManager writes JSON lines through logrus. Every line carries the
// caller's category and file:line.
type LogsManager struct {
	logger *log.Logger
	file   *rotatingFile
}

// NewLogsManager logs to logfile in the log dir, rotating it by size and by
// hour or day. When the file cannot be opened it logs to stderr.
func NewLogsManager(cm *ConfigManager) *LogsManager {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	level, err := log.ParseLevel(cm.GetConfigWithDefault("log_level", "info"))
	if err != nil {
		configWarn("log_level %v, using info", err)
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	lm := &LogsManager{logger: logger}

	rf, err := openRotatingFile(
		filepath.Join(GetAppPaths("").LogDir, filepath.FromSlash(cm.GetConfigWithDefault("logfile", "gasless-arcade.log"))),
		rotationPolicy{
			enabled:    cm.GetConfigBool("log_enable_rotation", true),
			maxBytes:   cm.GetConfigInt64("log_max_size_mb", 100, 0, 10240) * 1024 * 1024,
			maxAge:     time.Duration(cm.GetConfigInt("log_max_age_days", 30, 0, 3650)) * 24 * time.Hour,
			maxBackups: cm.GetConfigInt("log_max_backups", 10, 0, 1000),
			interval:   cm.GetConfigWithDefault("log_rotation_interval", "daily"),
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr: %v\n", err)
		logger.SetOutput(os.Stderr)
		return lm
	}

	lm.file = rf
	if cm.GetConfigBool("log_console", false) {
		logger.SetOutput(io.MultiWriter(rf, os.Stderr))
	} else {
		logger.SetOutput(rf)
	}
	return lm
}

// NewWriterLogsManager logs to w instead of a file. Passing nil discards
// all output.
func NewWriterLogsManager(w io.Writer, level string) *LogsManager {
	if w == nil {
		w = io.Discard
	}

	logger := log.New()
	logger.SetOutput(w)
	logger.SetFormatter(&log.JSONFormatter{})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return &LogsManager{logger: logger}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "<???>:1"
	}
	if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (lm *LogsManager) log(level log.Level, message string, category string) {
	if !lm.logger.IsLevelEnabled(level) {
		return
	}
	lm.logger.WithFields(log.Fields{
		"category": category,
		"file":     caller(3),
	}).Log(level, message)
}

func (lm *LogsManager) Debug(message string, category string) {
	lm.log(log.DebugLevel, message, category)
}

func (lm *LogsManager) Info(message string, category string) {
	lm.log(log.InfoLevel, message, category)
}

func (lm *LogsManager) Warn(message string, category string) {
	lm.log(log.WarnLevel, message, category)
}

func (lm *LogsManager) Error(message string, category string) {
	lm.log(log.ErrorLevel, message, category)
}

// WithField returns a logrus entry carrying category plus one extra field.
func (lm *LogsManager) WithField(category string, key string, value interface{}) *log.Entry {
	return lm.logger.WithFields(log.Fields{
		"category": category,
		key:        value,
	})
}

// Logrus exposes the underlying logger for packages that take *logrus.Logger.
func (lm *LogsManager) Logrus() *log.Logger {
	return lm.logger
}

func (lm *LogsManager) SetLogLevel(levelStr string) error {
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %v", levelStr, err)
	}
	lm.logger.SetLevel(level)
	return nil
}

// Close closes the log file. Later writes are dropped.
func (lm *LogsManager) Close() error {
	if lm.file == nil {
		return nil
	}
	return lm.file.Close()
}

type rotationPolicy struct {
	enabled    bool
	maxBytes   int64
	maxAge     time.Duration
	maxBackups int
	interval   string // hourly or daily
}

// rotatingFile is an append-only log file that moves itself to a
// timestamped .bak when it grows past maxBytes or its period ends.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	policy   rotationPolicy
	file     *os.File
	size     int64
	openedAt time.Time
	now      func() time.Time
}

func openRotatingFile(path string, policy rotationPolicy) (*rotatingFile, error) {
	rf := &rotatingFile{path: path, policy: policy, now: time.Now}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	rf.file = file
	rf.size = 0
	rf.openedAt = rf.now()
	if stat, err := file.Stat(); err == nil {
		rf.size = stat.Size()
		rf.openedAt = stat.ModTime()
	}
	return nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return len(p), nil
	}
	if rf.policy.enabled && rf.due(int64(len(p))) {
		if err := rf.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
		if rf.file == nil {
			return len(p), nil
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *rotatingFile) due(incoming int64) bool {
	if rf.policy.maxBytes > 0 && rf.size > 0 && rf.size+incoming > rf.policy.maxBytes {
		return true
	}
	now := rf.now()
	switch rf.policy.interval {
	case "hourly":
		return !now.Truncate(time.Hour).Equal(rf.openedAt.Truncate(time.Hour))
	case "daily":
		y1, m1, d1 := now.Date()
		y2, m2, d2 := rf.openedAt.Date()
		return y1 != y2 || m1 != m2 || d1 != d2
	}
	return false
}

func (rf *rotatingFile) rotate() error {
	rf.file.Close()
	rf.file = nil

	backup := fmt.Sprintf("%s.%s.bak", rf.path, rf.now().Format("2006-01-02_15-04-05.000"))
	if err := os.Rename(rf.path, backup); err != nil && !os.IsNotExist(err) {
		rf.open()
		return err
	}
	if err := rf.open(); err != nil {
		return err
	}
	rf.prune()
	return nil
}

// prune drops backups older than maxAge, then the oldest beyond maxBackups.
func (rf *rotatingFile) prune() {
	matches, err := filepath.Glob(rf.path + ".*.bak")
	if err != nil {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var kept []backup
	for _, m := range matches {
		stat, err := os.Stat(m)
		if err != nil {
			continue
		}
		if rf.policy.maxAge > 0 && rf.now().Sub(stat.ModTime()) > rf.policy.maxAge {
			os.Remove(m)
			continue
		}
		kept = append(kept, backup{path: m, modTime: stat.ModTime()})
	}

	if rf.policy.maxBackups <= 0 || len(kept) <= rf.policy.maxBackups {
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
	for _, b := range kept[:len(kept)-rf.policy.maxBackups] {
		os.Remove(b.path)
	}
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}
