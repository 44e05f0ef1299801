package sharedimage

import (
	"image"

	"golang.org/x/image/draw"
)

// CanvasAccess is implemented by backings to serve 2D drawing. It backs
// both Skia and raster representations.
type CanvasAccess interface {
	BeginReadAccess() (image.Image, bool)
	EndReadAccess()
	BeginWriteAccess() (draw.Image, bool)
	EndWriteAccess()
}

// SkiaRepresentation exposes a backing to a GPU 2D canvas.
type SkiaRepresentation struct {
	RepresentationBase
	access CanvasAccess
}

// NewSkiaRepresentation binds a canvas view of b.
func NewSkiaRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, access CanvasAccess) *SkiaRepresentation {
	r := &SkiaRepresentation{access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// SurfaceWriteAccess is an open write access to a drawable surface.
type SurfaceWriteAccess struct {
	scope
	surface draw.Image
}

// Surface returns the surface to draw into. It is valid until End.
func (a *SurfaceWriteAccess) Surface() draw.Image { return a.surface }

// ImageReadAccess is an open read access to an image.
type ImageReadAccess struct {
	scope
	img image.Image
}

// Image returns the pixels. It is valid until End.
func (a *ImageReadAccess) Image() image.Image { return a.img }

// BeginScopedWriteAccess starts drawing into the image.
func (r *SkiaRepresentation) BeginScopedWriteAccess(allowUncleared bool) *SurfaceWriteAccess {
	if !r.allowAccess("Skia.BeginScopedWriteAccess", allowUncleared) {
		return nil
	}
	return beginCanvasWrite(r.access)
}

// BeginScopedReadAccess starts sampling the image. Reading an
// uninitialized image is refused.
func (r *SkiaRepresentation) BeginScopedReadAccess() *ImageReadAccess {
	if !r.allowAccess("Skia.BeginScopedReadAccess", false) {
		return nil
	}
	return beginCanvasRead(r.access)
}

func beginCanvasWrite(access CanvasAccess) *SurfaceWriteAccess {
	surface, ok := access.BeginWriteAccess()
	if !ok {
		return nil
	}
	return &SurfaceWriteAccess{scope: scope{end: access.EndWriteAccess}, surface: surface}
}

func beginCanvasRead(access CanvasAccess) *ImageReadAccess {
	img, ok := access.BeginReadAccess()
	if !ok {
		return nil
	}
	return &ImageReadAccess{scope: scope{end: access.EndReadAccess}, img: img}
}
