package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FILE. With no
// log file it writes to stderr. The returned closer releases the file.
func (c *Config) NewLogger() (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if c.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return logger, io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(c.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}
