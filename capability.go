package sharedimage

import (
	"image"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Capability interfaces. A backing implements the subset its usage
// promises; a capability it does not implement, or declines at runtime by
// returning nil, is an ordinary "unsupported" result.
//
// Producers receive the manager that representations report back to. A
// nil manager produces an inner representation that holds no reference,
// which is how composite backings wrap the backings they own.

// GLTextureProducer serves validating GL texture access.
type GLTextureProducer interface {
	ProduceGLTexture(m *Manager, t *MemoryTypeTracker) *GLTextureRepresentation
}

// GLTexturePassthroughProducer serves passthrough GL texture access.
type GLTexturePassthroughProducer interface {
	ProduceGLTexturePassthrough(m *Manager, t *MemoryTypeTracker) *GLTextureRepresentation
}

// RGBEmulationGLTextureProducer serves a GL texture view that ignores
// the alpha channel.
type RGBEmulationGLTextureProducer interface {
	ProduceRGBEmulationGLTexture(m *Manager, t *MemoryTypeTracker) *GLTextureRepresentation
}

// SkiaProducer serves 2D canvas access.
type SkiaProducer interface {
	ProduceSkia(m *Manager, t *MemoryTypeTracker) *SkiaRepresentation
}

// DawnProducer serves WebGPU texture access on a device.
type DawnProducer interface {
	ProduceDawn(m *Manager, t *MemoryTypeTracker, device gpucontext.DeviceProvider) *DawnRepresentation
}

// OverlayProducer serves display overlay reads.
type OverlayProducer interface {
	ProduceOverlay(m *Manager, t *MemoryTypeTracker) *OverlayRepresentation
}

// VASurfaceProducer serves video decode surfaces.
type VASurfaceProducer interface {
	ProduceVASurface(m *Manager, t *MemoryTypeTracker, display VADisplay) *VASurfaceRepresentation
}

// MemoryProducer serves CPU reads of the pixels.
type MemoryProducer interface {
	ProduceMemory(m *Manager, t *MemoryTypeTracker) *MemoryRepresentation
}

// RasterProducer serves CPU raster access.
type RasterProducer interface {
	ProduceRaster(m *Manager, t *MemoryTypeTracker) *RasterRepresentation
}

// LegacyOverlayProducer serves swap-chain style overlays.
type LegacyOverlayProducer interface {
	ProduceLegacyOverlay(m *Manager, t *MemoryTypeTracker) *LegacyOverlayRepresentation
}

// NativePixmapProvider is implemented by backings over a platform buffer.
type NativePixmapProvider interface {
	NativePixmap() NativePixmap
}

// MemoryTransfer is implemented by GPU backings that can be kept coherent
// with a CPU copy.
type MemoryTransfer interface {
	// UploadFromMemory copies src into the GPU resource.
	UploadFromMemory(src *Pixmap) bool

	// ReadbackToMemory copies the GPU resource into dst.
	ReadbackToMemory(dst *Pixmap) bool
}

// Texture is a GPU image handed out by GL, Dawn and overlay accesses.
type Texture interface {
	gpucontext.Texture

	// Format returns the texel format.
	Format() gputypes.TextureFormat

	// ServiceID identifies the texture within its device.
	ServiceID() uint64
}

// NativePixmap is a platform buffer handle. It is passed through opaquely.
type NativePixmap interface {
	Format() gputypes.TextureFormat
	Size() image.Point
	Stride() int
	Offset() int

	// Fd returns the file descriptor of the buffer, or -1.
	Fd() int
}

// SharedRegion is a mapping of memory shared with another process.
type SharedRegion interface {
	// Bytes returns the mapped memory.
	Bytes() []byte

	// Len returns the mapped size in bytes.
	Len() int

	// Fd returns the file descriptor backing the region, or -1.
	Fd() int

	Close() error
}

// HandleType identifies the kind of external buffer handle.
type HandleType uint8

const (
	HandleEmpty HandleType = iota
	HandleSharedMemory
	HandleNativePixmap
)

func (h HandleType) String() string {
	switch h {
	case HandleEmpty:
		return "Empty"
	case HandleSharedMemory:
		return "SharedMemory"
	case HandleNativePixmap:
		return "NativePixmap"
	}
	return "Unknown"
}

// BufferHandle is an external buffer imported into a shared image.
type BufferHandle struct {
	Type HandleType

	// Region holds the pixels of a HandleSharedMemory handle.
	Region SharedRegion

	// Offset and Stride locate the pixels in Region. A zero stride
	// means tightly packed rows.
	Offset int
	Stride int

	// Pixmap is set for HandleNativePixmap handles.
	Pixmap NativePixmap
}

// Fence is signalled when a producer finished writing shared memory.
type Fence interface {
	Wait() error
}

// VADisplay is an opaque VA-API display handle.
type VADisplay uintptr

// VASurfaceID names a VA-API surface.
type VASurfaceID uint32
