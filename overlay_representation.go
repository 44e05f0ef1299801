package sharedimage

import "image"

// OverlayImage is what a display overlay scans out: either a native GPU
// image or pixels in memory.
type OverlayImage struct {
	Native Texture
	Pixels *Pixmap
}

// IsNative reports whether the overlay is backed by a GPU image.
func (o OverlayImage) IsNative() bool { return o.Native != nil }

// OverlayAccess is implemented by backings to serve overlay reads.
type OverlayAccess interface {
	BeginReadAccess(needsNativeImage bool) (OverlayImage, bool)
	EndReadAccess()
}

// OverlayRepresentation exposes a backing to the display compositor for
// overlay promotion.
type OverlayRepresentation struct {
	RepresentationBase
	access OverlayAccess
}

// NewOverlayRepresentation binds an overlay view of b.
func NewOverlayRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, access OverlayAccess) *OverlayRepresentation {
	r := &OverlayRepresentation{access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// OverlayScopedReadAccess is an open overlay read.
type OverlayScopedReadAccess struct {
	scope
	img OverlayImage
}

// Image returns the image to scan out.
func (a *OverlayScopedReadAccess) Image() OverlayImage { return a.img }

// BeginScopedReadAccess starts an overlay read. needsNativeImage asks for
// a GPU image; backings that scan out memory directly may ignore it.
func (r *OverlayRepresentation) BeginScopedReadAccess(needsNativeImage bool) *OverlayScopedReadAccess {
	img, ok := r.access.BeginReadAccess(needsNativeImage)
	if !ok {
		return nil
	}
	return &OverlayScopedReadAccess{scope: scope{end: r.access.EndReadAccess}, img: img}
}

// LegacyOverlayAccess is implemented by backings that render into a
// swap-chain overlay on demand.
type LegacyOverlayAccess interface {
	RenderToOverlay() bool
	NotifyOverlayPromotion(promoted bool, bounds image.Rectangle)
}

// LegacyOverlayRepresentation drives a swap-chain style overlay.
type LegacyOverlayRepresentation struct {
	RepresentationBase
	access LegacyOverlayAccess
}

// NewLegacyOverlayRepresentation binds a legacy overlay view of b.
func NewLegacyOverlayRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, access LegacyOverlayAccess) *LegacyOverlayRepresentation {
	r := &LegacyOverlayRepresentation{access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// RenderToOverlay presents the current content to the overlay.
func (r *LegacyOverlayRepresentation) RenderToOverlay() bool { return r.access.RenderToOverlay() }

// NotifyOverlayPromotion reports whether the compositor promoted the
// image and where.
func (r *LegacyOverlayRepresentation) NotifyOverlayPromotion(promoted bool, bounds image.Rectangle) {
	r.access.NotifyOverlayPromotion(promoted, bounds)
}
