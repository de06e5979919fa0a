package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger. When debug is true the level is
// lowered to DebugLevel, otherwise InfoLevel. When logsDir is non-empty, log
// output is mirrored into a size-rotated file in that directory in addition
// to stderr.
func Setup(debug bool, logsDir string) error {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if logsDir == "" {
		log.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, "chatflow.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}
