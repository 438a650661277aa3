package testutil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/dustin/go-humanize"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// TestEnvironment bundles a context and a scratch directory for tests that
// create containers on disk.
type TestEnvironment struct {
	t       *testing.T
	ctx     context.Context
	tempDir string
}

// NewTestEnvironment creates a new test environment. The directory and the
// context are released when the test completes.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	return &TestEnvironment{
		t:       t,
		ctx:     ctx,
		tempDir: t.TempDir(),
	}
}

// Context returns the test context
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// TempDir returns the temporary directory
func (e *TestEnvironment) TempDir() string {
	return e.tempDir
}

// Locator returns a table locator for node inside the named container of
// the scratch directory.
func (e *TestEnvironment) Locator(container, node string) table.Locator {
	return table.Locator{Path: filepath.Join(e.tempDir, container), Node: node}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	HeapAlloc  uint64
	HeapInuse  uint64
	TotalAlloc uint64
}

// CaptureMemoryProfile runs a GC and captures the current heap statistics.
func CaptureMemoryProfile() *MemoryProfile {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		TotalAlloc: m.TotalAlloc,
	}
}

// String formats the profile for test logs.
func (p *MemoryProfile) String() string {
	return "heap=" + humanize.IBytes(p.HeapAlloc) + " inuse=" + humanize.IBytes(p.HeapInuse) +
		" total=" + humanize.IBytes(p.TotalAlloc)
}
