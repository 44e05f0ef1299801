// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package shm implements shared images whose pixels live in a shared
// memory region written by the client. They serve CPU memory and raster
// access, and scanout where the display reads memory directly.
package shm

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"golang.org/x/image/draw"
)

// BackingName is reported by Backing.Name.
const BackingName = "SharedMemoryBacking"

// Backing is a shared image over a client-provided shared memory region.
type Backing struct {
	*sharedimage.BackingBase

	region sharedimage.SharedRegion
	offset int
	pixmap *sharedimage.Pixmap
}

// NewBacking imports handle as the memory of a shared image described by
// desc. The handle must be a shared memory handle large enough for the
// image; the backing owns the region from then on.
func NewBacking(desc sharedimage.Descriptor, handle sharedimage.BufferHandle, threadSafe bool) (*Backing, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if handle.Type != sharedimage.HandleSharedMemory || handle.Region == nil {
		return nil, fmt.Errorf("shm: %w: handle type %v", sharedimage.ErrInvalidDescriptor, handle.Type)
	}
	mem := handle.Region.Bytes()
	if handle.Offset < 0 || handle.Offset > len(mem) {
		return nil, fmt.Errorf("shm: %w: offset %d outside %d byte region",
			sharedimage.ErrInvalidDescriptor, handle.Offset, len(mem))
	}
	pm, err := sharedimage.WrapPixmap(desc.Format, desc.Size.X, desc.Size.Y, handle.Stride, mem[handle.Offset:])
	if err != nil {
		return nil, fmt.Errorf("shm: %w: %v", sharedimage.ErrInvalidDescriptor, err)
	}

	size := sharedimage.EstimatedSize(desc.Format, desc.Size)
	b := &Backing{
		BackingBase: sharedimage.NewBackingBase(desc, size, threadSafe),
		region:      handle.Region,
		offset:      handle.Offset,
		pixmap:      pm,
	}
	// Imported memory holds whatever the client wrote.
	b.SetCleared()
	return b, nil
}

// Name implements sharedimage.Backing.
func (b *Backing) Name() string { return BackingName }

// Pixmap returns the pixels in the shared region.
func (b *Backing) Pixmap() *sharedimage.Pixmap { return b.pixmap }

// Region returns the shared memory region.
func (b *Backing) Region() sharedimage.SharedRegion { return b.region }

// Update waits for the client to finish writing. The pixels are read in
// place, so there is nothing to copy.
func (b *Backing) Update(fence sharedimage.Fence) {
	if fence == nil {
		return
	}
	if err := fence.Wait(); err != nil {
		sharedimage.Logger().Warn("shm: update fence failed", "mailbox", b.Mailbox(), "err", err)
	}
}

// Destroy unmaps the region.
func (b *Backing) Destroy() {
	if b.region == nil {
		return
	}
	if err := b.region.Close(); err != nil {
		sharedimage.Logger().Warn("shm: close region", "mailbox", b.Mailbox(), "err", err)
	}
	b.region = nil
}

// NativePixmap returns the region as a platform buffer when it has a file
// descriptor.
func (b *Backing) NativePixmap() sharedimage.NativePixmap {
	if b.region == nil || b.region.Fd() < 0 {
		return nil
	}
	return nativePixmap{b: b}
}

// OnMemoryDump records the region as owned by the shared image.
func (b *Backing) OnMemoryDump(dumpName string, dumpGUID sharedimage.DumpGUID, sink sharedimage.DumpSink, clientTracingID uint64) {
	child := sink.CreateAllocatorDump(dumpName + "/shared_memory")
	child.AddScalar(sharedimage.DumpSizeName, sharedimage.DumpUnitsBytes, b.EstimatedSizeForMemTracking())

	guid := sharedimage.GUIDForName(fmt.Sprintf("shared_memory/%d/%s", clientTracingID, b.Mailbox()))
	sink.CreateSharedGlobalAllocatorDump(guid)
	sink.AddOwnershipEdge(child.GUID(), guid, sharedimage.NonOwningEdgeImportance)
	sink.AddOwnershipEdge(guid, dumpGUID, sharedimage.NonOwningEdgeImportance)
}

// ProduceMemory serves CPU reads of the region.
func (b *Backing) ProduceMemory(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.MemoryRepresentation {
	return sharedimage.NewMemoryRepresentation(m, b, t, memoryAccess{b})
}

// ProduceRaster serves software rasterization into the region. The image
// must have been created for CPU writes or raster use, and its format
// must map to an image type.
func (b *Backing) ProduceRaster(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.RasterRepresentation {
	if !b.Usage().HasAny(sharedimage.UsageCPUWrite | sharedimage.UsageRaster) {
		return nil
	}
	if b.pixmap.Image() == nil {
		return nil
	}
	return sharedimage.NewRasterRepresentation(m, b, t, &canvasAccess{b: b})
}

// ProduceOverlay serves scanout straight from the region.
func (b *Backing) ProduceOverlay(m *sharedimage.Manager, t *sharedimage.MemoryTypeTracker) *sharedimage.OverlayRepresentation {
	return sharedimage.NewOverlayRepresentation(m, b, t, overlayAccess{b})
}

type memoryAccess struct{ b *Backing }

func (a memoryAccess) BeginReadAccess() (*sharedimage.Pixmap, bool) { return a.b.pixmap, true }
func (a memoryAccess) EndReadAccess()                               {}

type overlayAccess struct{ b *Backing }

func (a overlayAccess) BeginReadAccess(bool) (sharedimage.OverlayImage, bool) {
	return sharedimage.OverlayImage{Pixels: a.b.pixmap}, true
}

func (a overlayAccess) EndReadAccess() {}

type canvasAccess struct {
	b       *Backing
	writing bool
}

func (a *canvasAccess) BeginReadAccess() (image.Image, bool) {
	return a.b.pixmap.Image(), true
}

func (a *canvasAccess) EndReadAccess() {}

func (a *canvasAccess) BeginWriteAccess() (draw.Image, bool) {
	if a.writing {
		return nil, false
	}
	a.writing = true
	return a.b.pixmap.Image(), true
}

func (a *canvasAccess) EndWriteAccess() {
	a.writing = false
	a.b.SetCleared()
}

type nativePixmap struct{ b *Backing }

func (p nativePixmap) Format() gputypes.TextureFormat { return p.b.Format() }
func (p nativePixmap) Size() image.Point              { return p.b.Size() }
func (p nativePixmap) Stride() int                    { return p.b.pixmap.Stride() }
func (p nativePixmap) Offset() int                    { return p.b.offset }
func (p nativePixmap) Fd() int                        { return p.b.region.Fd() }
