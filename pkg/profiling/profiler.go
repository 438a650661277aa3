// Package profiling captures Go runtime profiles around a command and
// samples heap usage, so the bounded-memory behaviour of a transfer can be
// checked after the fact.
package profiling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"go.uber.org/zap"
)

// ProfileType represents the type of profiling to perform
type ProfileType string

const (
	CPUProfile       ProfileType = "cpu"
	MemoryProfile    ProfileType = "memory"
	GoroutineProfile ProfileType = "goroutine"
	TraceProfile     ProfileType = "trace"
	AllProfiles      ProfileType = "all"
)

// ParseTypes parses a comma-separated list of profile types.
func ParseTypes(s string) ([]ProfileType, error) {
	var out []ProfileType
	for _, part := range strings.Split(s, ",") {
		switch t := ProfileType(strings.ToLower(strings.TrimSpace(part))); t {
		case "":
		case CPUProfile, MemoryProfile, GoroutineProfile, TraceProfile:
			out = append(out, t)
		case AllProfiles:
			out = append(out, CPUProfile, MemoryProfile, GoroutineProfile, TraceProfile)
		default:
			return nil, errors.New(errors.ErrorTypeValidation, "unknown profile type").WithDetail("type", part)
		}
	}
	return out, nil
}

// Config contains configuration for profiling
type Config struct {
	Types     []ProfileType
	OutputDir string
	// SampleInterval is the heap sampling period; 0 means 100ms.
	SampleInterval time.Duration
}

// RuntimeMetrics summarizes the runtime between Start and Stop.
type RuntimeMetrics struct {
	Duration       time.Duration
	PeakAllocBytes uint64
	TotalAlloc     uint64
	NumGC          uint32
	Goroutines     int
}

// Profiler writes the configured profiles into OutputDir.
type Profiler struct {
	config    Config
	logger    *zap.Logger
	startTime time.Time
	cpuFile   *os.File
	traceFile *os.File
	stop      chan struct{}
	wg        sync.WaitGroup

	mu         sync.Mutex
	start      runtime.MemStats
	peak       uint64
	stopped    bool
	lastReport RuntimeMetrics
}

// NewProfiler creates a new profiler instance
func NewProfiler(config Config, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 100 * time.Millisecond
	}
	return &Profiler{config: config, logger: logger, stop: make(chan struct{})}
}

func (p *Profiler) has(t ProfileType) bool {
	for _, c := range p.config.Types {
		if c == t {
			return true
		}
	}
	return false
}

func (p *Profiler) create(name string) (*os.File, error) {
	f, err := os.Create(filepath.Join(p.config.OutputDir, name))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create profile file").WithDetail("file", name)
	}
	return f, nil
}

// Start begins profiling
func (p *Profiler) Start(ctx context.Context) error {
	p.startTime = time.Now()
	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create profile directory")
	}
	runtime.ReadMemStats(&p.start)
	p.peak = p.start.HeapAlloc

	if p.has(CPUProfile) {
		f, err := p.create("cpu.prof")
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profiling")
		}
		p.cpuFile = f
	}
	if p.has(TraceProfile) {
		f, err := p.create("trace.out")
		if err != nil {
			return err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start tracing")
		}
		p.traceFile = f
	}

	p.wg.Add(1)
	go p.sample(ctx)

	p.logger.Info("profiling started",
		zap.String("output_dir", p.config.OutputDir),
		zap.Any("types", p.config.Types))
	return nil
}

func (p *Profiler) sample(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.SampleInterval)
	defer ticker.Stop()
	var ms runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&ms)
			p.mu.Lock()
			p.peak = max(p.peak, ms.HeapAlloc)
			p.mu.Unlock()
		}
	}
}

// Stop stops profiling, writes the snapshot profiles and returns the
// runtime summary. Calling Stop again returns the same summary.
func (p *Profiler) Stop() (RuntimeMetrics, error) {
	p.mu.Lock()
	if p.stopped {
		defer p.mu.Unlock()
		return p.lastReport, nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
	}
	if p.traceFile != nil {
		trace.Stop()
		_ = p.traceFile.Close()
	}

	var firstErr error
	if p.has(MemoryProfile) {
		runtime.GC()
		if err := p.writeProfile("heap", "memory.prof"); err != nil {
			firstErr = err
		}
	}
	if p.has(GoroutineProfile) {
		if err := p.writeProfile("goroutine", "goroutine.prof"); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReport = RuntimeMetrics{
		Duration:       time.Since(p.startTime),
		PeakAllocBytes: max(p.peak, ms.HeapAlloc),
		TotalAlloc:     ms.TotalAlloc - p.start.TotalAlloc,
		NumGC:          ms.NumGC - p.start.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
	p.logger.Info("profiling completed",
		zap.Duration("duration", p.lastReport.Duration),
		zap.Uint64("peak_heap_bytes", p.lastReport.PeakAllocBytes),
		zap.Uint32("gc_cycles", p.lastReport.NumGC),
		zap.String("output_dir", p.config.OutputDir))
	return p.lastReport, firstErr
}

func (p *Profiler) writeProfile(name, file string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return errors.New(errors.ErrorTypeInternal, fmt.Sprintf("no %s profile", name))
	}
	f, err := p.create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := prof.WriteTo(f, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write profile").WithDetail("file", file)
	}
	return nil
}
