//go:build linux

package mmap

import (
	"os"
	"syscall"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
}

func unmap(b []byte) error {
	return syscall.Munmap(b)
}

func advise(b []byte, a Advice) error {
	switch a {
	case Sequential:
		return syscall.Madvise(b, syscall.MADV_SEQUENTIAL)
	case Random:
		return syscall.Madvise(b, syscall.MADV_RANDOM)
	case WillNeed:
		return syscall.Madvise(b, syscall.MADV_WILLNEED)
	}
	return nil
}
