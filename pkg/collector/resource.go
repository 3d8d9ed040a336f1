package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"

	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/types"
)

// Sampler produces resource usage samples
type Sampler interface {
	Sample(ctx context.Context) (types.ResourceStats, error)
}

// GPUQuerier lists accelerator usage. Hosts without accelerators return no
// stats and no error.
type GPUQuerier interface {
	QueryGPUs(ctx context.Context) ([]types.GPUStats, error)
}

// ProcSampler reads CPU and memory usage from a procfs mount
type ProcSampler struct {
	fs     procfs.FS
	gpus   GPUQuerier
	logger zerolog.Logger

	mu        sync.Mutex
	prevTotal float64
	prevIdle  float64
	primed    bool
}

// NewProcSampler creates a sampler over the procfs mounted at procPath.
// gpus may be nil.
func NewProcSampler(procPath string, gpus GPUQuerier) (*ProcSampler, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	return &ProcSampler{
		fs:     fs,
		gpus:   gpus,
		logger: log.WithCollector("resource", string(types.DataTypeResourceUsage)),
	}, nil
}

// Sample returns current usage. CPU usage is computed over the interval since
// the previous sample; the first sample reports 0. A failed GPU query is
// logged and the sample is returned without GPUs.
func (s *ProcSampler) Sample(ctx context.Context) (types.ResourceStats, error) {
	stats := types.ResourceStats{Timestamp: time.Now().Unix()}

	stat, err := s.fs.Stat()
	if err != nil {
		return stats, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	stats.CPUPercent = s.cpuPercent(stat.CPUTotal)

	mem, err := s.fs.Meminfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read memory stats: %w", err)
	}
	if mem.MemTotal != nil {
		stats.TotalMemoryMB = *mem.MemTotal / 1024
		available := uint64(0)
		switch {
		case mem.MemAvailable != nil:
			available = *mem.MemAvailable
		case mem.MemFree != nil:
			available = *mem.MemFree
		}
		if available <= *mem.MemTotal {
			stats.UsedMemoryMB = (*mem.MemTotal - available) / 1024
		}
	}

	if s.gpus != nil {
		gpus, err := s.gpus.QueryGPUs(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("gpu query failed, sampling cpu and memory only")
		} else {
			stats.GPUs = gpus
		}
	}
	return stats, nil
}

func (s *ProcSampler) cpuPercent(c procfs.CPUStat) float64 {
	idle := c.Idle + c.Iowait
	total := idle + c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal

	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		s.prevTotal, s.prevIdle, s.primed = total, idle, true
	}()
	if !s.primed {
		return 0
	}
	dTotal := total - s.prevTotal
	dIdle := idle - s.prevIdle
	if dTotal <= 0 {
		return 0
	}
	return (1 - dIdle/dTotal) * 100
}

// NvidiaSMI queries GPUs through the nvidia-smi CLI
type NvidiaSMI struct {
	Path    string
	Timeout time.Duration
}

// QueryGPUs runs nvidia-smi. A missing binary means no GPUs.
func (n *NvidiaSMI) QueryGPUs(ctx context.Context) ([]types.GPUStats, error) {
	path := n.Path
	if path == "" {
		path = "nvidia-smi"
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return nil, nil
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"--query-gpu=index,memory.total,memory.used,utilization.gpu",
		"--format=csv,noheader,nounits")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseNvidiaSMI(stdout.String())
}

// ParseNvidiaSMI parses "index, memory.total, memory.used, utilization.gpu" CSV rows
func ParseNvidiaSMI(out string) ([]types.GPUStats, error) {
	r := csv.NewReader(strings.NewReader(out))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = 4

	var gpus []types.GPUStats
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse nvidia-smi output: %w", err)
		}
		index, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid gpu index %q: %w", row[0], err)
		}
		total, err := gpuUint(row[1])
		if err != nil {
			return nil, fmt.Errorf("invalid gpu memory total %q: %w", row[1], err)
		}
		used, err := gpuUint(row[2])
		if err != nil {
			return nil, fmt.Errorf("invalid gpu memory used %q: %w", row[2], err)
		}
		util, err := gpuFloat(row[3])
		if err != nil {
			return nil, fmt.Errorf("invalid gpu utilization %q: %w", row[3], err)
		}
		gpus = append(gpus, types.GPUStats{
			Index:         index,
			TotalMemoryMB: total,
			UsedMemoryMB:  used,
			Utilization:   util,
		})
	}
	return gpus, nil
}

// unavailable reports the placeholders nvidia-smi prints for fields a device
// does not expose, such as "[N/A]" or "[Not Supported]" on MIG slices.
func unavailable(field string) bool {
	return field == "N/A" || (strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"))
}

// gpuUint parses a numeric field; unavailable fields read as 0
func gpuUint(field string) (uint64, error) {
	field = strings.TrimSpace(field)
	if unavailable(field) {
		return 0, nil
	}
	return strconv.ParseUint(field, 10, 64)
}

func gpuFloat(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if unavailable(field) {
		return 0, nil
	}
	return strconv.ParseFloat(field, 64)
}

// ResourceCollector reports node CPU, memory and GPU usage
type ResourceCollector struct {
	Base
	sampler Sampler
}

// NewResourceCollector creates a collector over sampler
func NewResourceCollector(sampler Sampler, opts ...Option) *ResourceCollector {
	c := &ResourceCollector{sampler: sampler}
	c.Base.init("resource", types.DataTypeResourceUsage, opts...)
	return c
}

func (c *ResourceCollector) IsEnabled() bool {
	return c.sampler != nil
}

// Collect takes one sample and encodes it as JSON
func (c *ResourceCollector) Collect(ctx context.Context) (Payload, error) {
	stats, err := c.sampler.Sample(ctx)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return Empty(), &CollectionError{Collector: c.name, Err: err}
	}
	return NewPayload(string(data)), nil
}

var (
	_ Collector    = (*ResourceCollector)(nil)
	_ ClientSetter = (*ResourceCollector)(nil)
	_ Sampler      = (*ProcSampler)(nil)
	_ GPUQuerier   = (*NvidiaSMI)(nil)
)
