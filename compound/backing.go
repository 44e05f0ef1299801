// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package compound implements a shared image that keeps a shared memory
// copy and a lazily created GPU copy of the same pixels coherent.
//
// The shared memory side is always present and serves CPU access. The
// GPU side is allocated through a revocable factory reference the first
// time GPU access is requested. Two freshness flags record which copies
// hold the latest content: GPU access uploads stale texels first, GPU
// writes make the memory stale, Update makes the GPU stale, and
// CopyToGpuMemoryBuffer reads GPU writes back into memory.
package compound

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/shm"
	"golang.org/x/image/draw"
)

// BackingName is reported by Backing.Name.
const BackingName = "CompoundBacking"

// Backing is a shared image over shared memory with an optional GPU copy.
type Backing struct {
	*sharedimage.BackingBase

	shm              *shm.Backing
	allowShmOverlays bool

	mu         sync.Mutex
	gpuFactory *sharedimage.WeakFactory
	gpu        sharedimage.Backing
	shmFresh   bool
	gpuFresh   bool
	uploads    int
	readbacks  int
}

// New imports handle as the shared memory side of a compound image. The
// GPU side is created later through gpuFactory. With allowShmOverlays the
// display scans out shared memory directly and overlays never need a GPU
// copy.
func New(gpuFactory *sharedimage.WeakFactory, allowShmOverlays bool, desc sharedimage.Descriptor, handle sharedimage.BufferHandle, threadSafe bool) (*Backing, error) {
	mem, err := shm.NewBacking(desc, handle, threadSafe)
	if err != nil {
		return nil, fmt.Errorf("compound: %w", err)
	}
	c := &Backing{
		BackingBase:      sharedimage.NewBackingBase(desc, mem.EstimatedSizeForMemTracking(), threadSafe),
		shm:              mem,
		allowShmOverlays: allowShmOverlays,
		gpuFactory:       gpuFactory,
		shmFresh:         true,
	}
	c.SetCleared()
	return c, nil
}

// Name implements sharedimage.Backing.
func (c *Backing) Name() string { return BackingName }

// SharedMemory returns the shared memory side.
func (c *Backing) SharedMemory() *shm.Backing { return c.shm }

// GPUBacking returns the GPU side, or nil if it was never allocated.
func (c *Backing) GPUBacking() sharedimage.Backing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gpu
}

// HasGPUBacking reports whether the GPU side was allocated.
func (c *Backing) HasGPUBacking() bool { return c.GPUBacking() != nil }

// Freshness reports which copies hold the latest content.
func (c *Backing) Freshness() (shmFresh, gpuFresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shmFresh, c.gpuFresh
}

// TransferCounts returns how many uploads and readbacks were performed.
func (c *Backing) TransferCounts() (uploads, readbacks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads, c.readbacks
}

// Update records that the client rewrote shared memory. The GPU copy is
// stale until the next GPU access uploads it.
func (c *Backing) Update(fence sharedimage.Fence) {
	c.shm.Update(fence)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shmFresh = true
	c.gpuFresh = false
}

// CopyToGpuMemoryBuffer reads GPU writes back into shared memory. Both
// copies are fresh afterwards.
func (c *Backing) CopyToGpuMemoryBuffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shmFresh {
		return true
	}
	mt, ok := c.gpu.(sharedimage.MemoryTransfer)
	if !ok {
		return false
	}
	if !mt.ReadbackToMemory(c.shm.Pixmap()) {
		sharedimage.Logger().Error("compound: readback failed", "mailbox", c.Mailbox())
		return false
	}
	c.readbacks++
	c.shmFresh = true
	return true
}

// NativePixmap returns the shared memory as a platform buffer.
func (c *Backing) NativePixmap() sharedimage.NativePixmap { return c.shm.NativePixmap() }

// OnMemoryDump dumps both sides below dumpName.
func (c *Backing) OnMemoryDump(dumpName string, dumpGUID sharedimage.DumpGUID, sink sharedimage.DumpSink, clientTracingID uint64) {
	c.shm.OnMemoryDump(dumpName, dumpGUID, sink, clientTracingID)

	gpu := c.GPUBacking()
	if gpu == nil {
		return
	}
	name := dumpName + "/gpu"
	child := sink.CreateAllocatorDump(name)
	child.AddScalar(sharedimage.DumpSizeName, sharedimage.DumpUnitsBytes, gpu.EstimatedSizeForMemTracking())
	gpu.OnMemoryDump(name, child.GUID(), sink, clientTracingID)
}

// Destroy destroys both sides. A lost context is passed on to the GPU
// side so that it drops its resources without using the device.
func (c *Backing) Destroy() {
	c.mu.Lock()
	gpu := c.gpu
	c.gpu = nil
	c.gpuFactory = nil
	c.mu.Unlock()

	if gpu != nil {
		if !c.HaveContext() {
			gpu.OnContextLost()
		}
		gpu.Destroy()
	}
	c.shm.Destroy()
}

// lazyAllocateLocked returns the GPU side, creating it on first use. A
// failed or impossible creation drops the factory so it is never retried.
func (c *Backing) lazyAllocateLocked() sharedimage.Backing {
	if c.gpu != nil {
		return c.gpu
	}
	if c.gpuFactory == nil {
		return nil
	}
	f := c.gpuFactory.Get()
	if f == nil {
		sharedimage.Logger().Warn("compound: GPU backing factory is gone", "mailbox", c.Mailbox())
		c.gpuFactory = nil
		return nil
	}

	desc := c.Descriptor()
	desc.Usage |= sharedimage.UsageCPUUpload
	gpu := f.CreateSharedImage(desc, c.IsThreadSafe())
	if gpu == nil {
		sharedimage.Logger().Warn("compound: GPU backing allocation failed",
			"mailbox", c.Mailbox(), "factory", f.Name(), "format", desc.Format, "size", desc.Size)
		c.gpuFactory = nil
		return nil
	}
	// Content comes from shared memory, so the GPU side counts as
	// initialized.
	gpu.SetCleared()
	c.gpu = gpu
	sharedimage.Logger().Debug("compound: allocated GPU backing",
		"mailbox", c.Mailbox(), "backing", gpu.Name())
	return gpu
}

func (c *Backing) lazyAllocate() sharedimage.Backing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lazyAllocateLocked()
}

// beginGPUAccess brings the GPU copy up to date before an access. It
// fails when the upload fails, in which case access must be denied.
func (c *Backing) beginGPUAccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gpu == nil {
		return false
	}
	if c.shmFresh && !c.gpuFresh {
		mt, ok := c.gpu.(sharedimage.MemoryTransfer)
		if !ok || !mt.UploadFromMemory(c.shm.Pixmap()) {
			sharedimage.Logger().Error("compound: upload failed", "mailbox", c.Mailbox())
			return false
		}
		c.uploads++
	}
	c.gpuFresh = true
	return true
}

// markGPUWrite makes the GPU copy the only fresh one.
func (c *Backing) markGPUWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gpuFresh = true
	c.shmFresh = false
}

// produceInner allocates the GPU side and asks it for a representation
// through fn. The inner representation holds no reference.
func produceInner[P any, R any](c *Backing, fn func(P) *R) *R {
	gpu := c.lazyAllocate()
	if gpu == nil {
		return nil
	}
	p, ok := gpu.(P)
	if !ok {
		return nil
	}
	return fn(p)
}

// ProduceGLTexture serves validating GL access from the GPU side.
func (c *Backing) ProduceGLTexture(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	inner := produceInner(c, func(p sharedimage.GLTextureProducer) *sharedimage.GLTextureRepresentation {
		return p.ProduceGLTexture(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, c, t, inner.Flavor(), &glAccess{c: c, inner: inner})
}

// ProduceGLTexturePassthrough serves passthrough GL access from the GPU
// side.
func (c *Backing) ProduceGLTexturePassthrough(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	inner := produceInner(c, func(p sharedimage.GLTexturePassthroughProducer) *sharedimage.GLTextureRepresentation {
		return p.ProduceGLTexturePassthrough(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, c, t, inner.Flavor(), &glAccess{c: c, inner: inner})
}

// ProduceRGBEmulationGLTexture serves an alpha-ignoring GL view from the
// GPU side.
func (c *Backing) ProduceRGBEmulationGLTexture(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	inner := produceInner(c, func(p sharedimage.RGBEmulationGLTextureProducer) *sharedimage.GLTextureRepresentation {
		return p.ProduceRGBEmulationGLTexture(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, c, t, inner.Flavor(), &glAccess{c: c, inner: inner})
}

// ProduceSkia serves canvas access from the GPU side.
func (c *Backing) ProduceSkia(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.SkiaRepresentation {
	inner := produceInner(c, func(p sharedimage.SkiaProducer) *sharedimage.SkiaRepresentation {
		return p.ProduceSkia(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewSkiaRepresentation(m, c, t, &canvasAccess{c: c, inner: inner})
}

// ProduceDawn serves WebGPU access from the GPU side.
func (c *Backing) ProduceDawn(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker, device gpucontext.DeviceProvider) *sharedimage.DawnRepresentation {
	inner := produceInner(c, func(p sharedimage.DawnProducer) *sharedimage.DawnRepresentation {
		return p.ProduceDawn(nil, t, device)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewDawnRepresentation(m, c, t, device, &dawnAccess{c: c, inner: inner})
}

// ProduceLegacyOverlay serves swap-chain overlays from the GPU side.
func (c *Backing) ProduceLegacyOverlay(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.LegacyOverlayRepresentation {
	inner := produceInner(c, func(p sharedimage.LegacyOverlayProducer) *sharedimage.LegacyOverlayRepresentation {
		return p.ProduceLegacyOverlay(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewLegacyOverlayRepresentation(m, c, t, &legacyOverlayAccess{c: c, inner: inner})
}

// ProduceOverlay serves scanout. With shared memory overlays allowed the
// display reads shared memory and the GPU side is never needed; otherwise
// the GPU side is allocated now and every read uploads stale texels.
func (c *Backing) ProduceOverlay(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.OverlayRepresentation {
	if c.allowShmOverlays {
		return sharedimage.NewOverlayRepresentation(m, c, t, shmOverlayAccess{c: c})
	}
	inner := produceInner(c, func(p sharedimage.OverlayProducer) *sharedimage.OverlayRepresentation {
		return p.ProduceOverlay(nil, t)
	})
	if inner == nil {
		return nil
	}
	return sharedimage.NewOverlayRepresentation(m, c, t, &overlayAccess{c: c, inner: inner})
}

// ProduceMemory serves CPU reads of shared memory. It does not read GPU
// writes back; callers flush with CopyToGpuMemoryBuffer first.
func (c *Backing) ProduceMemory(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.MemoryRepresentation {
	return sharedimage.NewMemoryRepresentation(m, c, t, memoryAccess{c: c})
}

type memoryAccess struct{ c *Backing }

func (a memoryAccess) BeginReadAccess() (*sharedimage.Pixmap, bool) { return a.c.shm.Pixmap(), true }
func (a memoryAccess) EndReadAccess()                               {}

type glAccess struct {
	c      *Backing
	inner  *sharedimage.GLTextureRepresentation
	access *sharedimage.GLScopedAccess
}

func (a *glAccess) Texture() sharedimage.Texture { return a.inner.Texture() }

func (a *glAccess) BeginAccess(mode sharedimage.AccessMode) bool {
	if !a.c.beginGPUAccess() {
		return false
	}
	a.access = a.inner.BeginScopedAccess(mode, true)
	if a.access == nil {
		return false
	}
	if mode.IsWrite() {
		a.c.markGPUWrite()
	}
	return true
}

func (a *glAccess) EndAccess() {
	if a.access != nil {
		a.access.End()
		a.access = nil
	}
}

func (a *glAccess) Release() { a.inner.Close() }

type canvasAccess struct {
	c     *Backing
	inner *sharedimage.SkiaRepresentation
	read  *sharedimage.ImageReadAccess
	write *sharedimage.SurfaceWriteAccess
}

func (a *canvasAccess) BeginReadAccess() (image.Image, bool) {
	if !a.c.beginGPUAccess() {
		return nil, false
	}
	a.read = a.inner.BeginScopedReadAccess()
	if a.read == nil {
		return nil, false
	}
	return a.read.Image(), true
}

func (a *canvasAccess) EndReadAccess() {
	if a.read != nil {
		a.read.End()
		a.read = nil
	}
}

func (a *canvasAccess) BeginWriteAccess() (draw.Image, bool) {
	if !a.c.beginGPUAccess() {
		return nil, false
	}
	a.write = a.inner.BeginScopedWriteAccess(true)
	if a.write == nil {
		return nil, false
	}
	a.c.markGPUWrite()
	return a.write.Surface(), true
}

func (a *canvasAccess) EndWriteAccess() {
	if a.write != nil {
		a.write.End()
		a.write = nil
	}
}

func (a *canvasAccess) Release() { a.inner.Close() }

type dawnAccess struct {
	c      *Backing
	inner  *sharedimage.DawnRepresentation
	access *sharedimage.DawnScopedAccess
}

func (a *dawnAccess) BeginAccess(usage gputypes.TextureUsage) (sharedimage.Texture, bool) {
	if !a.c.beginGPUAccess() {
		return nil, false
	}
	a.access = a.inner.BeginScopedAccess(usage, true)
	if a.access == nil {
		return nil, false
	}
	if sharedimage.IsWriteUsage(usage) {
		a.c.markGPUWrite()
	}
	return a.access.Texture(), true
}

func (a *dawnAccess) EndAccess() {
	if a.access != nil {
		a.access.End()
		a.access = nil
	}
}

func (a *dawnAccess) Release() { a.inner.Close() }

type legacyOverlayAccess struct {
	c     *Backing
	inner *sharedimage.LegacyOverlayRepresentation
}

func (a *legacyOverlayAccess) RenderToOverlay() bool {
	if !a.c.beginGPUAccess() {
		return false
	}
	return a.inner.RenderToOverlay()
}

func (a *legacyOverlayAccess) NotifyOverlayPromotion(promoted bool, bounds image.Rectangle) {
	a.inner.NotifyOverlayPromotion(promoted, bounds)
}

func (a *legacyOverlayAccess) Release() { a.inner.Close() }

// shmOverlayAccess scans out shared memory and never touches the GPU.
type shmOverlayAccess struct{ c *Backing }

func (a shmOverlayAccess) BeginReadAccess(bool) (sharedimage.OverlayImage, bool) {
	return sharedimage.OverlayImage{Pixels: a.c.shm.Pixmap()}, true
}

func (a shmOverlayAccess) EndReadAccess() {}

type overlayAccess struct {
	c      *Backing
	inner  *sharedimage.OverlayRepresentation
	access *sharedimage.OverlayScopedReadAccess
}

func (a *overlayAccess) BeginReadAccess(needsNativeImage bool) (sharedimage.OverlayImage, bool) {
	if !a.c.beginGPUAccess() {
		return sharedimage.OverlayImage{}, false
	}
	a.access = a.inner.BeginScopedReadAccess(needsNativeImage)
	if a.access == nil {
		return sharedimage.OverlayImage{}, false
	}
	return a.access.Image(), true
}

func (a *overlayAccess) EndReadAccess() {
	if a.access != nil {
		a.access.End()
		a.access = nil
	}
}

func (a *overlayAccess) Release() { a.inner.Close() }
