// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package compound

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/memdump"
	"github.com/gogpu/sharedimage/shm"
	"github.com/gogpu/sharedimage/texture"
	"golang.org/x/image/draw"
)

const testUsage = sharedimage.UsageCPUWrite | sharedimage.UsageGLES2 | sharedimage.UsageRaster |
	sharedimage.UsageDisplay | sharedimage.UsageScanout

// countingDevice counts texel transfers of a software device.
type countingDevice struct {
	*texture.SoftwareDevice
	writes     int
	reads      int
	failWrites bool
}

func (d *countingDevice) WriteTexture(tex sharedimage.Texture, src *sharedimage.Pixmap) error {
	d.writes++
	if d.failWrites {
		return errors.New("device lost")
	}
	return d.SoftwareDevice.WriteTexture(tex, src)
}

func (d *countingDevice) ReadTexture(tex sharedimage.Texture, dst *sharedimage.Pixmap) error {
	d.reads++
	return d.SoftwareDevice.ReadTexture(tex, dst)
}

// countingFactory counts GPU backing allocations.
type countingFactory struct {
	sharedimage.BackingFactory
	creates int
	fail    bool
}

func (f *countingFactory) CreateSharedImage(desc sharedimage.Descriptor, threadSafe bool) sharedimage.Backing {
	f.creates++
	if f.fail {
		return nil
	}
	return f.BackingFactory.CreateSharedImage(desc, threadSafe)
}

type fixture struct {
	m       *sharedimage.Manager
	tracker *sharedimage.MemoryTypeTracker
	dev     *countingDevice
	factory *countingFactory
	weak    *sharedimage.WeakFactory
	backing *Backing
	ref     *sharedimage.FactoryRef
}

func newFixture(t *testing.T, allowShmOverlays bool) *fixture {
	t.Helper()
	f := &fixture{
		m:       sharedimage.NewManager(),
		tracker: sharedimage.NewMemoryTypeTracker(sharedimage.NewMemoryTracker(1, 1)),
		dev:     &countingDevice{SoftwareDevice: texture.NewSoftwareDevice()},
	}
	f.factory = &countingFactory{BackingFactory: texture.NewFactory(f.dev)}
	f.weak = sharedimage.NewWeakFactory(f.factory)

	desc := sharedimage.Descriptor{
		Mailbox: sharedimage.NewMailbox(),
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Size:    image.Pt(4, 2),
		Usage:   testUsage,
	}
	handle, err := shm.NewHandle(desc)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	f.backing, err = New(f.weak, allowShmOverlays, desc, handle, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ref = f.m.Register(f.backing, f.tracker)
	if f.ref == nil {
		t.Fatal("Register returned nil")
	}
	return f
}

func (f *fixture) mailbox() sharedimage.Mailbox { return f.backing.Mailbox() }

func (f *fixture) uploads() int {
	u, _ := f.backing.TransferCounts()
	return u
}

func (f *fixture) readbacks() int {
	_, r := f.backing.TransferCounts()
	return r
}

func (f *fixture) checkFresh(t *testing.T, wantShm, wantGPU bool) {
	t.Helper()
	shmFresh, gpuFresh := f.backing.Freshness()
	if shmFresh != wantShm || gpuFresh != wantGPU {
		t.Errorf("freshness = (shm %v, gpu %v), want (shm %v, gpu %v)", shmFresh, gpuFresh, wantShm, wantGPU)
	}
}

// glAccess opens and closes one GL access.
func (f *fixture) glAccess(t *testing.T, rep *sharedimage.GLTextureRepresentation, mode sharedimage.AccessMode) {
	t.Helper()
	a := rep.BeginScopedAccess(mode, false)
	if a == nil {
		t.Fatalf("BeginScopedAccess(%v) = nil", mode)
	}
	a.End()
}

func TestNewIsCPUOnly(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	if f.backing.Name() != BackingName {
		t.Errorf("Name() = %q", f.backing.Name())
	}
	if f.backing.HasGPUBacking() {
		t.Error("GPU backing allocated at creation")
	}
	if !f.backing.IsCleared() {
		t.Error("imported image is not cleared")
	}
	f.checkFresh(t, true, false)
	if f.factory.creates != 0 {
		t.Errorf("factory creates = %d, want 0", f.factory.creates)
	}
}

func TestNewRejectsBadHandle(t *testing.T) {
	desc := sharedimage.Descriptor{
		Mailbox: sharedimage.NewMailbox(),
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Size:    image.Pt(4, 2),
		Usage:   testUsage,
	}
	_, err := New(nil, false, desc, sharedimage.BufferHandle{}, false)
	if !errors.Is(err, sharedimage.ErrInvalidDescriptor) {
		t.Errorf("New with empty handle = %v, want ErrInvalidDescriptor", err)
	}
}

func TestLazyAllocationOnce(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()
	skia := f.m.ProduceSkia(f.mailbox(), f.tracker)
	if skia == nil {
		t.Fatal("ProduceSkia = nil")
	}
	defer skia.Close()

	if !f.backing.HasGPUBacking() {
		t.Fatal("GPU backing not allocated")
	}
	if f.factory.creates != 1 {
		t.Errorf("factory creates = %d, want 1", f.factory.creates)
	}
	gpu := f.backing.GPUBacking()
	if !gpu.Usage().Has(sharedimage.UsageCPUUpload) {
		t.Errorf("GPU usage %v lacks CPUUpload", gpu.Usage())
	}
	if !gpu.IsCleared() {
		t.Error("GPU backing is not cleared")
	}
}

func TestInnerBackingHoldsNoRefs(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	f.glAccess(t, gl, sharedimage.AccessModeRead)

	if f.backing.GPUBacking().HasAnyRefs() {
		t.Error("GPU backing has references")
	}
	if got := f.backing.RefCount(); got != 2 {
		t.Errorf("compound RefCount() = %d, want 2", got)
	}
	gl.Close()
	if got := f.backing.RefCount(); got != 1 {
		t.Errorf("compound RefCount() after Close = %d, want 1", got)
	}
}

func TestReadUploadsOnce(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()

	for range 3 {
		f.glAccess(t, gl, sharedimage.AccessModeRead)
	}
	if f.uploads() != 1 || f.dev.writes != 1 {
		t.Errorf("uploads = %d, device writes = %d, want 1", f.uploads(), f.dev.writes)
	}
	f.checkFresh(t, true, true)
}

func TestUpdateInvalidatesGPU(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()

	f.glAccess(t, gl, sharedimage.AccessModeRead)
	f.ref.Update(nil)
	f.checkFresh(t, true, false)

	f.glAccess(t, gl, sharedimage.AccessModeRead)
	if f.uploads() != 2 {
		t.Errorf("uploads = %d, want 2", f.uploads())
	}
	f.checkFresh(t, true, true)
}

func TestWriteThenCopyToGpuMemoryBuffer(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()

	f.glAccess(t, gl, sharedimage.AccessModeReadWrite)
	f.checkFresh(t, false, true)
	if f.uploads() != 1 {
		t.Errorf("uploads before write = %d, want 1", f.uploads())
	}

	if !f.ref.CopyToGpuMemoryBuffer() {
		t.Fatal("CopyToGpuMemoryBuffer() = false")
	}
	if f.readbacks() != 1 {
		t.Errorf("readbacks = %d, want 1", f.readbacks())
	}
	f.checkFresh(t, true, true)

	if !f.ref.CopyToGpuMemoryBuffer() {
		t.Fatal("second CopyToGpuMemoryBuffer() = false")
	}
	if f.readbacks() != 1 {
		t.Errorf("readbacks after second copy = %d, want 1", f.readbacks())
	}
}

func TestSomeCopyAlwaysFresh(t *testing.T) {
	const (
		update = iota
		read
		write
		copyBack
		numSteps
	)
	names := [numSteps]string{"update", "read", "write", "copy"}

	tests := []struct {
		name  string
		steps []int
	}{
		{"write after update", []int{update, write, update, read, copyBack}},
		{"copy before gpu", []int{copyBack, update, copyBack, read}},
		{"repeated writes", []int{write, write, copyBack, write, update, write}},
	}
	rng := rand.New(rand.NewPCG(7, 11))
	for i := range 4 {
		steps := make([]int, 24)
		for j := range steps {
			steps[j] = rng.IntN(numSteps)
		}
		tests = append(tests, struct {
			name  string
			steps []int
		}{fmt.Sprintf("random %d", i), steps})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			defer f.ref.Close()
			gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
			if gl == nil {
				t.Fatal("ProduceGLTexture = nil")
			}
			defer gl.Close()

			for i, step := range tt.steps {
				switch step {
				case update:
					f.ref.Update(nil)
				case read:
					f.glAccess(t, gl, sharedimage.AccessModeRead)
				case write:
					f.glAccess(t, gl, sharedimage.AccessModeReadWrite)
				case copyBack:
					if !f.ref.CopyToGpuMemoryBuffer() {
						t.Fatalf("step %d: CopyToGpuMemoryBuffer() = false", i)
					}
				}
				if shmFresh, gpuFresh := f.backing.Freshness(); !shmFresh && !gpuFresh {
					t.Fatalf("step %d (%s): neither copy is fresh", i, names[step])
				}
			}
		})
	}
}

func TestCopyToGpuMemoryBufferWithoutGPU(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	if !f.ref.CopyToGpuMemoryBuffer() {
		t.Error("CopyToGpuMemoryBuffer() = false on a CPU-only image")
	}
	if f.readbacks() != 0 || f.dev.reads != 0 {
		t.Errorf("readbacks = %d, device reads = %d, want 0", f.readbacks(), f.dev.reads)
	}
}

func TestPixelsRoundTrip(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	mem := f.backing.SharedMemory().Pixmap()
	mem.Fill(color.RGBA{R: 10, G: 20, B: 30, A: 255})
	f.ref.Update(nil)

	skia := f.m.ProduceSkia(f.mailbox(), f.tracker)
	if skia == nil {
		t.Fatal("ProduceSkia = nil")
	}
	defer skia.Close()

	read := skia.BeginScopedReadAccess()
	if read == nil {
		t.Fatal("BeginScopedReadAccess = nil")
	}
	if got := color.RGBAModel.Convert(read.Image().At(3, 1)).(color.RGBA); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("GPU pixel = %v, want the uploaded color", got)
	}
	read.End()

	write := skia.BeginScopedWriteAccess(false)
	if write == nil {
		t.Fatal("BeginScopedWriteAccess = nil")
	}
	surface := write.Surface()
	draw.Draw(surface, surface.Bounds(), image.NewUniform(color.RGBA{R: 200, A: 255}), image.Point{}, draw.Src)
	write.End()
	f.checkFresh(t, false, true)

	if !bytes.Equal(mem.Row(0)[:4], []byte{10, 20, 30, 255}) {
		t.Errorf("shared memory changed before readback: %v", mem.Row(0)[:4])
	}
	if !f.ref.CopyToGpuMemoryBuffer() {
		t.Fatal("CopyToGpuMemoryBuffer() = false")
	}
	for y := range 2 {
		for x := range 4 {
			if px := mem.Row(y)[x*4 : x*4+4]; !bytes.Equal(px, []byte{200, 0, 0, 255}) {
				t.Fatalf("pixel (%d,%d) = %v after readback", x, y, px)
			}
		}
	}
}

func TestAllocationFailureIsSticky(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()
	f.factory.fail = true

	if rep := f.m.ProduceGLTexture(f.mailbox(), f.tracker); rep != nil {
		t.Error("ProduceGLTexture succeeded after allocation failure")
	}
	if rep := f.m.ProduceSkia(f.mailbox(), f.tracker); rep != nil {
		t.Error("ProduceSkia succeeded after allocation failure")
	}
	f.factory.fail = false
	if rep := f.m.ProduceLegacyOverlay(f.mailbox(), f.tracker); rep != nil {
		t.Error("ProduceLegacyOverlay retried the factory")
	}
	if rep := f.m.ProduceOverlay(f.mailbox(), f.tracker); rep != nil {
		t.Error("ProduceOverlay retried the factory")
	}
	if f.factory.creates != 1 {
		t.Errorf("factory creates = %d, want 1", f.factory.creates)
	}

	mem := f.m.ProduceMemory(f.mailbox(), f.tracker)
	if mem == nil {
		t.Fatal("ProduceMemory = nil after GPU failure")
	}
	defer mem.Close()
	a := mem.BeginScopedReadAccess()
	if a == nil || a.Pixmap() != f.backing.SharedMemory().Pixmap() {
		t.Error("memory access does not serve shared memory")
	}
	if a != nil {
		a.End()
	}
}

func TestInvalidatedFactory(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()
	f.weak.Invalidate()

	if rep := f.m.ProduceGLTexture(f.mailbox(), f.tracker); rep != nil {
		t.Error("ProduceGLTexture succeeded with an invalidated factory")
	}
	if f.factory.creates != 0 {
		t.Errorf("factory creates = %d, want 0", f.factory.creates)
	}
	if f.backing.HasGPUBacking() {
		t.Error("GPU backing allocated")
	}
}

func TestUploadFailureDeniesAccess(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()

	f.dev.failWrites = true
	if a := gl.BeginScopedAccess(sharedimage.AccessModeRead, false); a != nil {
		a.End()
		t.Fatal("access granted although the upload failed")
	}
	f.checkFresh(t, true, false)

	f.dev.failWrites = false
	f.glAccess(t, gl, sharedimage.AccessModeRead)
	f.checkFresh(t, true, true)
}

func TestOverlay(t *testing.T) {
	tests := []struct {
		name             string
		allowShmOverlays bool
		needsNative      bool
		wantNative       bool
		wantUploads      int
	}{
		{"native read uploads", false, true, true, 2},
		{"memory read uploads", false, false, true, 2},
		{"shared memory overlays", true, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.allowShmOverlays)
			defer f.ref.Close()

			rep := f.m.ProduceOverlay(f.mailbox(), f.tracker)
			if rep == nil {
				t.Fatal("ProduceOverlay = nil")
			}
			defer rep.Close()
			if f.backing.HasGPUBacking() != !tt.allowShmOverlays {
				t.Errorf("HasGPUBacking() after ProduceOverlay = %v, want %v", f.backing.HasGPUBacking(), !tt.allowShmOverlays)
			}

			for i := range 2 {
				if i > 0 {
					f.ref.Update(nil)
				}
				a := rep.BeginScopedReadAccess(tt.needsNative)
				if a == nil {
					t.Fatalf("read %d: BeginScopedReadAccess = nil", i)
				}
				img := a.Image()
				a.End()

				if img.IsNative() != tt.wantNative {
					t.Errorf("read %d: IsNative() = %v, want %v", i, img.IsNative(), tt.wantNative)
				}
				if !tt.wantNative && img.Pixels != f.backing.SharedMemory().Pixmap() {
					t.Errorf("read %d: overlay pixels are not the shared memory", i)
				}
			}
			if f.uploads() != tt.wantUploads {
				t.Errorf("uploads = %d, want %d", f.uploads(), tt.wantUploads)
			}
		})
	}
}

func TestOverlayAfterGPUWriteUsesGPU(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()
	f.glAccess(t, gl, sharedimage.AccessModeReadWrite)

	rep := f.m.ProduceOverlay(f.mailbox(), f.tracker)
	if rep == nil {
		t.Fatal("ProduceOverlay = nil")
	}
	defer rep.Close()
	a := rep.BeginScopedReadAccess(false)
	if a == nil {
		t.Fatal("BeginScopedReadAccess = nil")
	}
	defer a.End()
	if !a.Image().IsNative() {
		t.Error("stale shared memory was scanned out")
	}
}

func TestLegacyOverlayUploads(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	rep := f.m.ProduceLegacyOverlay(f.mailbox(), f.tracker)
	if rep == nil {
		t.Fatal("ProduceLegacyOverlay = nil")
	}
	defer rep.Close()
	if !rep.RenderToOverlay() {
		t.Fatal("RenderToOverlay() = false")
	}
	if f.uploads() != 1 {
		t.Errorf("uploads = %d, want 1", f.uploads())
	}
	rep.NotifyOverlayPromotion(true, image.Rect(0, 0, 4, 2))
	tex := f.backing.GPUBacking().(*texture.Backing)
	if promoted, rect := tex.OverlayPromotion(); !promoted || rect != image.Rect(0, 0, 4, 2) {
		t.Errorf("OverlayPromotion() = %v, %v", promoted, rect)
	}
}

func TestDestroyReleasesGPU(t *testing.T) {
	tests := []struct {
		name        string
		contextLost bool
		wantLive    int
	}{
		{"with context", false, 0},
		{"context lost", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
			if gl == nil {
				t.Fatal("ProduceGLTexture = nil")
			}
			if tt.contextLost {
				f.m.OnContextLost(f.mailbox())
			}
			gl.Close()
			f.ref.Close()

			if f.m.Has(f.mailbox()) {
				t.Error("mailbox still registered")
			}
			if got := f.dev.LiveTextures(); got != tt.wantLive {
				t.Errorf("LiveTextures() = %d, want %d", got, tt.wantLive)
			}
		})
	}
}

func TestMemoryDump(t *testing.T) {
	f := newFixture(t, false)
	defer f.ref.Close()

	gl := f.m.ProduceGLTexture(f.mailbox(), f.tracker)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	defer gl.Close()

	pmd := memdump.New()
	f.m.OnMemoryDump(f.mailbox(), pmd, 1, 9)

	name := sharedimage.DumpName(1, f.mailbox())
	for _, child := range []string{name, name + "/shared_memory", name + "/gpu", name + "/gpu/texture"} {
		d := pmd.Dump(child)
		if d == nil {
			t.Errorf("dump %q missing", child)
			continue
		}
		if size, _ := d.Scalar(sharedimage.DumpSizeName); size != 32 {
			t.Errorf("dump %q size = %d, want 32", child, size)
		}
	}
}
