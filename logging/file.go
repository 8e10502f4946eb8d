package logging

import (
	"io"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the rotating log file writer.
type FileConfig struct {
	// Directory is where log files are written
	Directory string `yaml:"directory"`
	// Filename is the base name of the log file
	Filename string `yaml:"filename"`
	// MaxSize is the maximum size of a log file in megabytes before rotation
	MaxSize int `yaml:"max_size"`
	// MaxBackups is the number of rotated files to retain
	MaxBackups int `yaml:"max_backups"`
	// MaxAge is the maximum age of a rotated file in days
	MaxAge int `yaml:"max_age"`
	// Compress enables gzip compression of rotated files
	Compress bool `yaml:"compress"`
}

// NewFileWriter returns a rotating file writer suitable for
// NewZerologAdapterWithWriter. Zero config fields fall back to defaults.
func NewFileWriter(config FileConfig) io.Writer {
	if config.Directory == "" {
		config.Directory = "./logs"
	}
	if config.Filename == "" {
		config.Filename = "mail.log"
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 10
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 5
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(config.Directory, config.Filename),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}
