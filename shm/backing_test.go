// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shm

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
)

func testDesc(usage sharedimage.Usage) sharedimage.Descriptor {
	return sharedimage.Descriptor{
		Mailbox: sharedimage.NewMailbox(),
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Size:    image.Pt(4, 3),
		Usage:   usage,
	}
}

func heapHandle(t *testing.T, desc sharedimage.Descriptor) sharedimage.BufferHandle {
	t.Helper()
	r, err := NewHeapRegion(int(sharedimage.EstimatedSize(desc.Format, desc.Size)))
	if err != nil {
		t.Fatalf("NewHeapRegion: %v", err)
	}
	return sharedimage.BufferHandle{Type: sharedimage.HandleSharedMemory, Region: r}
}

func TestNewHeapRegion(t *testing.T) {
	r, err := NewHeapRegion(64)
	if err != nil {
		t.Fatalf("NewHeapRegion(64): %v", err)
	}
	if r.Len() != 64 || len(r.Bytes()) != 64 {
		t.Errorf("Len() = %d, len(Bytes()) = %d, want 64", r.Len(), len(r.Bytes()))
	}
	if r.Fd() != -1 {
		t.Errorf("Fd() = %d, want -1", r.Fd())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	if _, err := NewHeapRegion(0); err == nil {
		t.Error("NewHeapRegion(0) succeeded, want error")
	}
}

func TestNewRegionWritable(t *testing.T) {
	r, err := NewRegion(4096)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	defer r.Close()

	b := r.Bytes()
	if len(b) != 4096 {
		t.Fatalf("len(Bytes()) = %d, want 4096", len(b))
	}
	b[0], b[4095] = 0xAB, 0xCD
	if r.Bytes()[0] != 0xAB || r.Bytes()[4095] != 0xCD {
		t.Error("writes to the region were not visible")
	}
}

func TestNewBackingValidation(t *testing.T) {
	desc := testDesc(sharedimage.UsageCPUWrite)
	small, _ := NewHeapRegion(8)

	tests := []struct {
		name   string
		desc   sharedimage.Descriptor
		handle sharedimage.BufferHandle
	}{
		{"empty handle", desc, sharedimage.BufferHandle{}},
		{"no region", desc, sharedimage.BufferHandle{Type: sharedimage.HandleSharedMemory}},
		{"region too small", desc, sharedimage.BufferHandle{Type: sharedimage.HandleSharedMemory, Region: small}},
		{"negative offset", desc, sharedimage.BufferHandle{Type: sharedimage.HandleSharedMemory, Region: small, Offset: -1}},
		{"zero mailbox", sharedimage.Descriptor{Format: desc.Format, Size: desc.Size}, heapHandle(t, desc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBacking(tt.desc, tt.handle, false)
			if !errors.Is(err, sharedimage.ErrInvalidDescriptor) {
				t.Errorf("NewBacking() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestBackingIsClearedAfterImport(t *testing.T) {
	desc := testDesc(sharedimage.UsageCPUWrite)
	b, err := NewBacking(desc, heapHandle(t, desc), false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	if !b.IsCleared() {
		t.Error("imported backing should be cleared")
	}
	if got := b.EstimatedSizeForMemTracking(); got != 4*3*4 {
		t.Errorf("EstimatedSizeForMemTracking() = %d, want 48", got)
	}
	if b.Name() != BackingName {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestBackingSharesRegionMemory(t *testing.T) {
	m := sharedimage.NewManager()
	desc := testDesc(sharedimage.UsageCPUWrite)
	handle := heapHandle(t, desc)
	b, err := NewBacking(desc, handle, false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	ref := m.Register(b, nil)

	// Client writes the first pixel directly into the region.
	copy(handle.Region.Bytes(), []byte{10, 20, 30, 255})

	mem := m.ProduceMemory(desc.Mailbox, nil)
	if mem == nil {
		t.Fatal("ProduceMemory returned nil")
	}
	read := mem.BeginScopedReadAccess()
	if read == nil {
		t.Fatal("BeginScopedReadAccess returned nil")
	}
	if got := read.Pixmap().Row(0)[:4]; got[0] != 10 || got[3] != 255 {
		t.Errorf("first pixel = %v, want [10 20 30 255]", got)
	}
	read.End()
	mem.Close()
	ref.Close()

	if m.Len() != 0 {
		t.Errorf("manager still holds %d images", m.Len())
	}
	if b.Region() != nil {
		t.Error("Destroy did not release the region")
	}
}

func TestBackingRasterGatedByUsage(t *testing.T) {
	tests := []struct {
		usage sharedimage.Usage
		want  bool
	}{
		{sharedimage.UsageCPUWrite, true},
		{sharedimage.UsageRaster, true},
		{sharedimage.UsageScanout, false},
		{sharedimage.UsageDisplay, false},
	}
	for _, tt := range tests {
		t.Run(tt.usage.String(), func(t *testing.T) {
			m := sharedimage.NewManager()
			desc := testDesc(tt.usage)
			b, err := NewBacking(desc, heapHandle(t, desc), false)
			if err != nil {
				t.Fatalf("NewBacking: %v", err)
			}
			ref := m.Register(b, nil)
			defer ref.Close()

			rep := m.ProduceRaster(desc.Mailbox, nil)
			if (rep != nil) != tt.want {
				t.Fatalf("ProduceRaster() = %v, want non-nil %v", rep, tt.want)
			}
			if rep != nil {
				rep.Close()
			}
		})
	}
}

func TestBackingRasterWrite(t *testing.T) {
	m := sharedimage.NewManager()
	desc := testDesc(sharedimage.UsageCPUWrite)
	handle := heapHandle(t, desc)
	b, err := NewBacking(desc, handle, false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	ref := m.Register(b, nil)
	defer ref.Close()

	rep := m.ProduceRaster(desc.Mailbox, nil)
	w := rep.BeginScopedWriteAccess(false)
	if w == nil {
		t.Fatal("BeginScopedWriteAccess returned nil")
	}
	if second := rep.BeginScopedWriteAccess(false); second != nil {
		t.Error("second concurrent write access was granted")
	}
	w.Surface().Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	w.End()
	rep.Close()

	if got := handle.Region.Bytes()[:4]; got[0] != 1 || got[1] != 2 || got[2] != 3 || got[3] != 4 {
		t.Errorf("region bytes = %v, want [1 2 3 4]", got)
	}
}

func TestBackingOverlayServesPixels(t *testing.T) {
	m := sharedimage.NewManager()
	desc := testDesc(sharedimage.UsageScanout)
	b, err := NewBacking(desc, heapHandle(t, desc), false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	ref := m.Register(b, nil)
	defer ref.Close()

	ov := m.ProduceOverlay(desc.Mailbox, nil)
	if ov == nil {
		t.Fatal("ProduceOverlay returned nil")
	}
	defer ov.Close()
	acc := ov.BeginScopedReadAccess(true)
	if acc == nil {
		t.Fatal("BeginScopedReadAccess returned nil")
	}
	defer acc.End()
	if acc.Image().IsNative() || acc.Image().Pixels != b.Pixmap() {
		t.Error("overlay should scan out the shared memory pixmap")
	}
}

func TestBackingUpdateWaitsOnFence(t *testing.T) {
	desc := testDesc(sharedimage.UsageCPUWrite)
	b, err := NewBacking(desc, heapHandle(t, desc), false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	f := &countingFence{}
	b.Update(f)
	b.Update(nil)
	if f.waits != 1 {
		t.Errorf("fence waited %d times, want 1", f.waits)
	}
}

func TestBackingNativePixmapNeedsFd(t *testing.T) {
	desc := testDesc(sharedimage.UsageScanout)
	b, err := NewBacking(desc, heapHandle(t, desc), false)
	if err != nil {
		t.Fatalf("NewBacking: %v", err)
	}
	if b.NativePixmap() != nil {
		t.Error("heap region should not expose a native pixmap")
	}
}

func TestFactoryIsSupported(t *testing.T) {
	f := NewFactory()
	base := sharedimage.SupportQuery{
		Format:     gputypes.TextureFormatRGBA8Unorm,
		Size:       image.Pt(4, 4),
		HandleType: sharedimage.HandleSharedMemory,
	}
	tests := []struct {
		name   string
		modify func(*sharedimage.SupportQuery)
		want   bool
	}{
		{"cpu write", func(q *sharedimage.SupportQuery) { q.Usage = sharedimage.UsageCPUWrite }, true},
		{"scanout", func(q *sharedimage.SupportQuery) { q.Usage = sharedimage.UsageScanout }, true},
		{"gles2", func(q *sharedimage.SupportQuery) { q.Usage = sharedimage.UsageGLES2 }, false},
		{"webgpu", func(q *sharedimage.SupportQuery) { q.Usage = sharedimage.UsageWebGPU }, false},
		{"empty handle", func(q *sharedimage.SupportQuery) { q.HandleType = sharedimage.HandleEmpty }, false},
		{"pixel data", func(q *sharedimage.SupportQuery) { q.HasPixelData = true }, false},
		{"depth format", func(q *sharedimage.SupportQuery) { q.Format = gputypes.TextureFormatDepth24Plus }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base
			tt.modify(&q)
			if got := f.IsSupported(q); got != tt.want {
				t.Errorf("IsSupported(%+v) = %v, want %v", q, got, tt.want)
			}
		})
	}
}

func TestFactoryCreate(t *testing.T) {
	f := NewFactory()
	desc := testDesc(sharedimage.UsageCPUWrite)

	if b := f.CreateSharedImage(desc, false); b != nil {
		t.Error("CreateSharedImage should not allocate without a handle")
	}
	if b := f.CreateSharedImageWithData(desc, make([]byte, 48)); b != nil {
		t.Error("CreateSharedImageWithData should not be supported")
	}
	if b := f.CreateSharedImageFromHandle(desc, sharedimage.BufferHandle{}, false); b != nil {
		t.Error("CreateSharedImageFromHandle with an empty handle should fail")
	}
	b := f.CreateSharedImageFromHandle(desc, heapHandle(t, desc), false)
	if b == nil {
		t.Fatal("CreateSharedImageFromHandle returned nil")
	}
	b.Destroy()
}

func TestNewHandle(t *testing.T) {
	desc := testDesc(sharedimage.UsageCPUWrite)
	h, err := NewHandle(desc)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	defer h.Region.Close()
	if h.Type != sharedimage.HandleSharedMemory {
		t.Errorf("Type = %v", h.Type)
	}
	if h.Stride != 16 {
		t.Errorf("Stride = %d, want 16", h.Stride)
	}
	if h.Region.Len() < 48 {
		t.Errorf("region of %d bytes is too small", h.Region.Len())
	}

	if _, err := NewHandle(sharedimage.Descriptor{Format: gputypes.TextureFormatRGBA8Unorm}); err == nil {
		t.Error("NewHandle with an empty size succeeded")
	}
}

type countingFence struct{ waits int }

func (f *countingFence) Wait() error {
	f.waits++
	return nil
}
