package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Sink persists security records durably.
type Sink interface {
	Write(record any) error
	Close() error
}

// keepRotatedFiles is high enough that rotated security logs are never purged.
const keepRotatedFiles uint = 1 << 20

// FileSink appends newline-delimited JSON records to a daily rotated file.
// The configured path is kept as a symlink to the current file.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink opens (or creates) the log at path in append mode.
func NewFileSink(path string) (*FileSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("security sink: path is required")
	}

	ext := filepath.Ext(path)
	pattern := strings.TrimSuffix(path, ext) + ".%Y%m%d" + ext

	rl, err := rotatelogs.New(
		pattern,
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationCount(keepRotatedFiles),
	)
	if err != nil {
		return nil, fmt.Errorf("security sink: open %s: %w", path, err)
	}
	return &FileSink{w: rl}, nil
}

// Write encodes record as a single JSON line.
func (s *FileSink) Write(record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("security sink: encode: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("security sink: closed")
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("security sink: write: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
