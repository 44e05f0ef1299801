package sharedimage

// MemoryAccess is implemented by backings whose pixels live in CPU memory.
type MemoryAccess interface {
	BeginReadAccess() (*Pixmap, bool)
	EndReadAccess()
}

// MemoryRepresentation gives CPU read access to the pixels.
type MemoryRepresentation struct {
	RepresentationBase
	access MemoryAccess
}

// NewMemoryRepresentation binds a memory view of b.
func NewMemoryRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, access MemoryAccess) *MemoryRepresentation {
	r := &MemoryRepresentation{access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// MemoryScopedReadAccess is an open CPU read.
type MemoryScopedReadAccess struct {
	scope
	pixmap *Pixmap
}

// Pixmap returns the pixels. They must not be written.
func (a *MemoryScopedReadAccess) Pixmap() *Pixmap { return a.pixmap }

// BeginScopedReadAccess starts a CPU read.
func (r *MemoryRepresentation) BeginScopedReadAccess() *MemoryScopedReadAccess {
	p, ok := r.access.BeginReadAccess()
	if !ok {
		return nil
	}
	return &MemoryScopedReadAccess{scope: scope{end: r.access.EndReadAccess}, pixmap: p}
}

// RasterRepresentation gives CPU raster access for software compositing.
type RasterRepresentation struct {
	RepresentationBase
	access CanvasAccess
}

// NewRasterRepresentation binds a raster view of b.
func NewRasterRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, access CanvasAccess) *RasterRepresentation {
	r := &RasterRepresentation{access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// BeginScopedReadAccess starts a raster read of initialized content.
func (r *RasterRepresentation) BeginScopedReadAccess() *ImageReadAccess {
	if !r.allowAccess("Raster.BeginScopedReadAccess", false) {
		return nil
	}
	return beginCanvasRead(r.access)
}

// BeginScopedWriteAccess starts rasterizing into the image.
func (r *RasterRepresentation) BeginScopedWriteAccess(allowUncleared bool) *SurfaceWriteAccess {
	if !r.allowAccess("Raster.BeginScopedWriteAccess", allowUncleared) {
		return nil
	}
	return beginCanvasWrite(r.access)
}

// VASurfaceAccess is implemented by backings usable as decode targets.
type VASurfaceAccess interface {
	Surface() VASurfaceID
	BeginAccess() bool
	EndAccess()
}

// VASurfaceRepresentation exposes a backing as a VA-API decode surface.
type VASurfaceRepresentation struct {
	RepresentationBase
	display VADisplay
	access  VASurfaceAccess
}

// NewVASurfaceRepresentation binds a decode surface view of b.
func NewVASurfaceRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, display VADisplay, access VASurfaceAccess) *VASurfaceRepresentation {
	r := &VASurfaceRepresentation{display: display, access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// Display returns the VA display the surface belongs to.
func (r *VASurfaceRepresentation) Display() VADisplay { return r.display }

// VAScopedWriteAccess is an open decode into the surface.
type VAScopedWriteAccess struct {
	scope
	surface VASurfaceID
}

// Surface returns the surface to decode into.
func (a *VAScopedWriteAccess) Surface() VASurfaceID { return a.surface }

// BeginScopedWriteAccess starts decoding into the surface. Decoding
// always initializes the whole image.
func (r *VASurfaceRepresentation) BeginScopedWriteAccess() *VAScopedWriteAccess {
	if !r.access.BeginAccess() {
		return nil
	}
	r.SetCleared()
	return &VAScopedWriteAccess{scope: scope{end: r.access.EndAccess}, surface: r.access.Surface()}
}
