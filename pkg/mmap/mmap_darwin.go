//go:build darwin

package mmap

import (
	"os"
	"syscall"
	"unsafe"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
}

func unmap(b []byte) error {
	return syscall.Munmap(b)
}

// madvise has no syscall wrapper on darwin
func advise(b []byte, a Advice) error {
	var flag uintptr
	switch a {
	case Sequential:
		flag = 2
	case Random:
		flag = 1
	case WillNeed:
		flag = 3
	default:
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MADVISE, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), flag)
	if errno != 0 {
		return errno
	}
	return nil
}
