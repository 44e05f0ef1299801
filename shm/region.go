// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shm

import (
	"fmt"

	"github.com/gogpu/sharedimage"
)

// heapRegion is a SharedRegion over ordinary process memory. It has no
// file descriptor, so it cannot cross a process boundary.
type heapRegion struct {
	data []byte
}

// NewHeapRegion allocates a process-local region of size bytes.
func NewHeapRegion(size int) (sharedimage.SharedRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: region size %d", size)
	}
	return &heapRegion{data: make([]byte, size)}, nil
}

func (r *heapRegion) Bytes() []byte { return r.data }
func (r *heapRegion) Len() int      { return len(r.data) }
func (r *heapRegion) Fd() int       { return -1 }

func (r *heapRegion) Close() error {
	r.data = nil
	return nil
}

// NewRegion allocates a region that can be shared with other processes
// where the platform supports it, and falls back to process memory.
func NewRegion(size int) (sharedimage.SharedRegion, error) {
	r, err := newPlatformRegion(size)
	if err == nil {
		return r, nil
	}
	sharedimage.Logger().Debug("shm: platform region unavailable, using heap", "size", size, "err", err)
	return NewHeapRegion(size)
}

// NewHandle allocates a region sized for a tightly packed image and wraps
// it in a shared memory buffer handle.
func NewHandle(desc sharedimage.Descriptor) (sharedimage.BufferHandle, error) {
	size := sharedimage.EstimatedSize(desc.Format, desc.Size)
	if size == 0 {
		return sharedimage.BufferHandle{}, fmt.Errorf("shm: %w: %v %v", sharedimage.ErrInvalidDescriptor, desc.Format, desc.Size)
	}
	r, err := NewRegion(int(size))
	if err != nil {
		return sharedimage.BufferHandle{}, err
	}
	return sharedimage.BufferHandle{
		Type:   sharedimage.HandleSharedMemory,
		Region: r,
		Stride: sharedimage.MinStride(desc.Format, desc.Size.X),
	}, nil
}
