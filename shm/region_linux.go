// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build linux

package shm

import (
	"fmt"

	"github.com/gogpu/sharedimage"
	"golang.org/x/sys/unix"
)

// memfdRegion is an anonymous memory file mapped shared, so its fd can be
// passed to another process and mapped there.
type memfdRegion struct {
	fd   int
	data []byte
}

func newPlatformRegion(size int) (sharedimage.SharedRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: region size %d", size)
	}
	fd, err := unix.MemfdCreate("sharedimage", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	return &memfdRegion{fd: fd, data: data}, nil
}

func (r *memfdRegion) Bytes() []byte { return r.data }
func (r *memfdRegion) Len() int      { return len(r.data) }
func (r *memfdRegion) Fd() int       { return r.fd }

func (r *memfdRegion) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := unix.Close(r.fd); err == nil {
		err = cerr
	}
	r.fd = -1
	return err
}
