package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = log.New(os.Stderr, "[baseband] ", log.LstdFlags|log.Lmicroseconds)
)

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

// SetLogOutput redirects the package logger, e.g. to a buffer in tests.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

type LogConfig struct {
	Directory  string `yaml:"directory"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// SetupLogging sends log output to stderr and a rotating file under
// cfg.Directory. The returned closer releases the file.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := cfg.Filename
	if name == "" {
		name = "baseband.log"
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	SetLogOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}
