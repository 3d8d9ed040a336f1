package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arobust/arobust/pkg/types"
)

// StackSource produces a textual stack dump
type StackSource interface {
	Dump(ctx context.Context) (string, error)
}

// GoroutineSource dumps the stacks of every goroutine in this process
type GoroutineSource struct{}

func (GoroutineSource) Dump(context.Context) (string, error) {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n]), nil
		}
		if len(buf) >= 64<<20 {
			return string(buf[:n]), nil
		}
		buf = make([]byte, len(buf)*2)
	}
}

// CommandSource runs an external dumper, e.g. ["py-spy", "dump", "--pid", "1234"]
type CommandSource struct {
	Command []string
	Timeout time.Duration
}

func (s *CommandSource) Dump(ctx context.Context) (string, error) {
	if len(s.Command) == 0 {
		return "", errors.New("no command specified")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := fmt.Sprintf("command %v: %v", s.Command, err)
		if stderr.Len() > 0 {
			msg += ": " + strings.TrimSpace(stderr.String())
		}
		return "", errors.New(msg)
	}
	return stdout.String(), nil
}

// StackCollector reports stack dumps of the training process
type StackCollector struct {
	Base
	source  StackSource
	enabled atomic.Bool
}

// NewStackCollector creates a collector over source; nil dumps this process
func NewStackCollector(source StackSource, opts ...Option) *StackCollector {
	if source == nil {
		source = GoroutineSource{}
	}
	c := &StackCollector{source: source}
	c.enabled.Store(true)
	c.Base.init("stack", types.DataTypeStackTrace, opts...)
	return c
}

// SetEnabled switches collection on or off at runtime
func (c *StackCollector) SetEnabled(v bool) { c.enabled.Store(v) }

func (c *StackCollector) IsEnabled() bool { return c.enabled.Load() }

func (c *StackCollector) Collect(ctx context.Context) (Payload, error) {
	out, err := c.source.Dump(ctx)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	return NewPayload(strings.TrimSpace(out)), nil
}

var (
	_ Collector    = (*StackCollector)(nil)
	_ ClientSetter = (*StackCollector)(nil)
	_ StackSource  = GoroutineSource{}
	_ StackSource  = (*CommandSource)(nil)
)
