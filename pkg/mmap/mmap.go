// Package mmap maps files read-only into memory. Column files of read-only
// tables are served straight from the mapping without copying.
package mmap

import (
	"os"
	"sync"

	"github.com/ajitpratap0/tabular/pkg/errors"
)

// Advice is an access pattern hint passed to the kernel.
type Advice int

const (
	Normal Advice = iota
	Sequential
	Random
	WillNeed
)

// File is a read-only mapping of a whole file. An empty file maps to an
// empty slice without a system mapping.
type File struct {
	path string
	f    *os.File
	data []byte
	mu   sync.Mutex
}

// Open maps path into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.BackendIO(err, "open mapped file").WithDetail("path", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.BackendIO(err, "stat mapped file").WithDetail("path", path)
	}
	m := &File{path: path, f: f}
	if st.Size() == 0 {
		return m, nil
	}
	data, err := mapFile(f, int(st.Size()))
	if err != nil {
		f.Close()
		return nil, errors.BackendIO(err, "map file").WithDetail("path", path)
	}
	m.data = data
	return m, nil
}

// Bytes returns the mapped contents. The slice is invalid after Close.
func (m *File) Bytes() []byte { return m.data }

// Len returns the mapped length.
func (m *File) Len() int { return len(m.data) }

// Advise passes an access pattern hint for the whole mapping. Failures are
// not fatal to reads and are returned for logging only.
func (m *File) Advise(a Advice) error {
	if len(m.data) == 0 {
		return nil
	}
	return advise(m.data, a)
}

// Close unmaps the file; it is idempotent.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.data != nil {
		err = unmap(m.data)
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	if err != nil {
		return errors.BackendIO(err, "unmap file").WithDetail("path", m.path)
	}
	return nil
}
