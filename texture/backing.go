// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package texture implements shared images backed by one GPU texture.
// The texture serves GL, WebGPU, canvas and overlay access, and can be
// kept coherent with a CPU copy through upload and readback.
package texture

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"golang.org/x/image/draw"
)

// BackingName is reported by Backing.Name.
const BackingName = "TextureBacking"

// Usages served by each capability.
const (
	glUsage      = sharedimage.UsageGLES2 | sharedimage.UsageRaster | sharedimage.UsageDisplay
	canvasUsage  = sharedimage.UsageRaster | sharedimage.UsageDisplay | sharedimage.UsageOOPRasterization
	overlayUsage = sharedimage.UsageScanout
)

// Backing is a shared image stored in one GPU texture.
type Backing struct {
	*sharedimage.BackingBase

	device      Device
	passthrough bool

	// mu guards the texture and the access state.
	mu      sync.Mutex
	texture sharedimage.Texture
	readers int
	writing bool

	promoted    bool
	overlayRect image.Rectangle

	stagingOnce sync.Once
	staging     *sharedimage.Pixmap
}

// NewBacking allocates the texture for desc on device. A passthrough
// backing serves the passthrough GL decoder and the validating one
// otherwise.
func NewBacking(desc sharedimage.Descriptor, device Device, passthrough, threadSafe bool) (*Backing, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	tex, err := device.CreateTexture("sharedimage_"+desc.Mailbox.String(), desc.Format, desc.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedimage.ErrAllocationFailed, err)
	}
	return &Backing{
		BackingBase: sharedimage.NewBackingBase(desc, sharedimage.EstimatedSize(desc.Format, desc.Size), threadSafe),
		device:      device,
		passthrough: passthrough,
		texture:     tex,
	}, nil
}

// Name implements sharedimage.Backing.
func (b *Backing) Name() string { return BackingName }

// Texture returns the GPU texture, or nil once destroyed.
func (b *Backing) Texture() sharedimage.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.texture
}

// Device returns the device owning the texture.
func (b *Backing) Device() Device { return b.device }

// IsPassthrough reports which GL decoder flavor the backing serves.
func (b *Backing) IsPassthrough() bool { return b.passthrough }

// OverlayPromotion returns the last promotion reported through a legacy
// overlay representation.
func (b *Backing) OverlayPromotion() (bool, image.Rectangle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.promoted, b.overlayRect
}

// Update waits on fence. The texture has no external memory to re-read.
func (b *Backing) Update(fence sharedimage.Fence) {
	if fence == nil {
		return
	}
	if err := fence.Wait(); err != nil {
		sharedimage.Logger().Warn("texture: update fence failed", "mailbox", b.Mailbox(), "err", err)
	}
}

// Destroy releases the texture. When the context is lost the texture is
// dropped without touching the device.
func (b *Backing) Destroy() {
	b.mu.Lock()
	tex := b.texture
	b.texture = nil
	b.mu.Unlock()
	if tex == nil {
		return
	}
	if !b.HaveContext() {
		sharedimage.Logger().Debug("texture: dropping texture of lost context", "mailbox", b.Mailbox())
		return
	}
	b.device.ReleaseTexture(tex)
}

// UploadFromMemory copies src into the texture.
func (b *Backing) UploadFromMemory(src *sharedimage.Pixmap) bool {
	tex := b.Texture()
	if tex == nil {
		return false
	}
	if err := b.device.WriteTexture(tex, src); err != nil {
		sharedimage.Logger().Error("texture: upload failed", "mailbox", b.Mailbox(), "err", err)
		return false
	}
	return true
}

// ReadbackToMemory copies the texture into dst.
func (b *Backing) ReadbackToMemory(dst *sharedimage.Pixmap) bool {
	tex := b.Texture()
	if tex == nil {
		return false
	}
	if err := b.device.ReadTexture(tex, dst); err != nil {
		sharedimage.Logger().Error("texture: readback failed", "mailbox", b.Mailbox(), "err", err)
		return false
	}
	return true
}

// OnMemoryDump adds the texture as a service-owned node. The owning edge
// starts at the client side GUID of the shared image, so tools attribute
// the texture memory to the service rather than to the client.
func (b *Backing) OnMemoryDump(dumpName string, _ sharedimage.DumpGUID, sink sharedimage.DumpSink, _ uint64) {
	tex := b.Texture()
	if tex == nil {
		return
	}
	child := sink.CreateAllocatorDump(dumpName + "/texture")
	child.AddScalar(sharedimage.DumpSizeName, sharedimage.DumpUnitsBytes, b.EstimatedSizeForMemTracking())

	serviceGUID := sharedimage.GUIDForName(fmt.Sprintf("gpu/texture/%s/%d", b.device.Name(), tex.ServiceID()))
	sink.CreateSharedGlobalAllocatorDump(serviceGUID)
	sink.AddOwnershipEdge(sharedimage.SharedImageGUID(b.Mailbox()), serviceGUID, sharedimage.ServiceOwningEdgeImportance)
}

// beginAccess admits one reader or one writer at a time unless the image
// allows concurrent read and write.
func (b *Backing) beginAccess(write bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.texture == nil {
		return false
	}
	concurrent := b.Usage().Has(sharedimage.UsageConcurrentReadWrite)
	if write {
		if b.writing || (b.readers > 0 && !concurrent) {
			return false
		}
		b.writing = true
		return true
	}
	if b.writing && !concurrent {
		return false
	}
	b.readers++
	return true
}

func (b *Backing) endAccess(write bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if write {
		b.writing = false
	} else if b.readers > 0 {
		b.readers--
	}
}

// ProduceGLTexture serves the validating GL decoder.
func (b *Backing) ProduceGLTexture(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	if b.passthrough || !b.Usage().HasAny(glUsage) {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, b, t, sharedimage.GLValidating, &glAccess{b: b})
}

// ProduceGLTexturePassthrough serves the passthrough GL decoder.
func (b *Backing) ProduceGLTexturePassthrough(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	if !b.passthrough || !b.Usage().HasAny(glUsage) {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, b, t, sharedimage.GLPassthrough, &glAccess{b: b})
}

// ProduceRGBEmulationGLTexture serves an RGB view of an RGBA texture to
// the validating decoder.
func (b *Backing) ProduceRGBEmulationGLTexture(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.GLTextureRepresentation {
	if b.passthrough || !b.Usage().HasAny(glUsage) || !sharedimage.HasAlpha(b.Format()) {
		return nil
	}
	return sharedimage.NewGLTextureRepresentation(m, b, t, sharedimage.GLRGBEmulation, &glAccess{b: b})
}

// ProduceSkia serves canvas drawing through a CPU staging copy of the
// texture.
func (b *Backing) ProduceSkia(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.SkiaRepresentation {
	if !b.Usage().HasAny(canvasUsage) || b.stagingPixmap().Image() == nil {
		return nil
	}
	return sharedimage.NewSkiaRepresentation(m, b, t, &canvasAccess{b: b})
}

// ProduceDawn serves WebGPU access. A device is accepted only when it is
// the one the texture lives on.
func (b *Backing) ProduceDawn(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker, device gpucontext.DeviceProvider) *sharedimage.DawnRepresentation {
	if !b.Usage().Has(sharedimage.UsageWebGPU) {
		return nil
	}
	if wd, ok := b.device.(*WGPUDevice); ok && device != nil && device.Device() != wd.Provider().Device() {
		sharedimage.Logger().Error("texture: dawn access from a foreign device", "mailbox", b.Mailbox())
		return nil
	}
	return sharedimage.NewDawnRepresentation(m, b, t, device, &dawnAccess{b: b})
}

// ProduceOverlay serves the texture for scanout.
func (b *Backing) ProduceOverlay(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.OverlayRepresentation {
	if !b.Usage().HasAny(overlayUsage) {
		return nil
	}
	return sharedimage.NewOverlayRepresentation(m, b, t, &overlayAccess{b: b})
}

// ProduceLegacyOverlay serves swap-chain style presentation.
func (b *Backing) ProduceLegacyOverlay(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.LegacyOverlayRepresentation {
	if !b.Usage().HasAny(overlayUsage) {
		return nil
	}
	return sharedimage.NewLegacyOverlayRepresentation(m, b, t, legacyOverlayAccess{b: b})
}

func (b *Backing) stagingPixmap() *sharedimage.Pixmap {
	b.stagingOnce.Do(func() {
		b.staging = sharedimage.NewPixmap(b.Format(), b.Size().X, b.Size().Y)
	})
	return b.staging
}

type glAccess struct {
	b     *Backing
	write bool
}

func (a *glAccess) Texture() sharedimage.Texture { return a.b.Texture() }

func (a *glAccess) BeginAccess(mode sharedimage.AccessMode) bool {
	write := mode.IsWrite()
	if !a.b.beginAccess(write) {
		return false
	}
	a.write = write
	return true
}

func (a *glAccess) EndAccess() { a.b.endAccess(a.write) }

type dawnAccess struct {
	b     *Backing
	write bool
}

func (a *dawnAccess) BeginAccess(usage gputypes.TextureUsage) (sharedimage.Texture, bool) {
	write := sharedimage.IsWriteUsage(usage)
	if !a.b.beginAccess(write) {
		return nil, false
	}
	a.write = write
	return a.b.Texture(), true
}

func (a *dawnAccess) EndAccess() { a.b.endAccess(a.write) }

type overlayAccess struct{ b *Backing }

func (a *overlayAccess) BeginReadAccess(bool) (sharedimage.OverlayImage, bool) {
	if !a.b.beginAccess(false) {
		return sharedimage.OverlayImage{}, false
	}
	return sharedimage.OverlayImage{Native: a.b.Texture()}, true
}

func (a *overlayAccess) EndReadAccess() { a.b.endAccess(false) }

type legacyOverlayAccess struct{ b *Backing }

func (a legacyOverlayAccess) RenderToOverlay() bool { return a.b.Texture() != nil }

func (a legacyOverlayAccess) NotifyOverlayPromotion(promoted bool, bounds image.Rectangle) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.promoted = promoted
	a.b.overlayRect = bounds
}

// canvasAccess draws into the staging pixmap and uploads it when the
// write ends.
type canvasAccess struct{ b *Backing }

func (a *canvasAccess) BeginReadAccess() (image.Image, bool) {
	if !a.b.beginAccess(false) {
		return nil, false
	}
	staging := a.b.stagingPixmap()
	if !a.b.ReadbackToMemory(staging) {
		a.b.endAccess(false)
		return nil, false
	}
	return staging.Image(), true
}

func (a *canvasAccess) EndReadAccess() { a.b.endAccess(false) }

func (a *canvasAccess) BeginWriteAccess() (draw.Image, bool) {
	if !a.b.beginAccess(true) {
		return nil, false
	}
	staging := a.b.stagingPixmap()
	if a.b.IsCleared() && !a.b.ReadbackToMemory(staging) {
		a.b.endAccess(true)
		return nil, false
	}
	return staging.Image(), true
}

func (a *canvasAccess) EndWriteAccess() {
	a.b.UploadFromMemory(a.b.stagingPixmap())
	a.b.endAccess(true)
}
