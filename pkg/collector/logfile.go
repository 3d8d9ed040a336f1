package collector

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/arobust/arobust/pkg/types"
)

// DefaultMaxLines is the number of trailing lines kept per collection
const DefaultMaxLines = 1000

// LogCollector tails a training log file, returning only what was appended
// since the previous collection.
type LogCollector struct {
	Base

	path     string
	maxLines int

	mu     sync.Mutex
	offset int64
}

// NewLogCollector creates a collector for the log at path
func NewLogCollector(path string, maxLines int, opts ...Option) *LogCollector {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	c := &LogCollector{path: path, maxLines: maxLines}
	c.Base.init("log", types.DataTypeTrainingLog, opts...)
	return c
}

// Path returns the tailed file
func (c *LogCollector) Path() string { return c.path }

// IsEnabled reports whether the log file exists
func (c *LogCollector) IsEnabled() bool {
	if c.path == "" {
		return false
	}
	info, err := os.Stat(c.path)
	return err == nil && !info.IsDir()
}

// Collect reads the content appended since the last call. A file that shrank
// was truncated or rotated and is read again from the start.
func (c *LogCollector) Collect(ctx context.Context) (Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}

	size := info.Size()
	if size < c.offset {
		c.logger.Info().Int64("offset", c.offset).Int64("size", size).Msg("log file truncated, reading from start")
		c.offset = 0
	}
	if size == c.offset {
		return Empty(), nil
	}

	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	data, err := io.ReadAll(io.LimitReader(f, size-c.offset))
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	c.offset += int64(len(data))

	return NewPayload(tailLines(string(data), c.maxLines)), nil
}

func tailLines(content string, n int) string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var (
	_ Collector    = (*LogCollector)(nil)
	_ ClientSetter = (*LogCollector)(nil)
)
