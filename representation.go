package sharedimage

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// Representation is a typed view onto a backing. It holds a reference on
// the backing until Close, which must be called exactly once by its
// holder (further calls are ignored).
type Representation interface {
	Mailbox() Mailbox
	Backing() Backing
	Tracker() *MemoryTypeTracker

	// OnContextLost marks the GPU context of the holder as lost. The
	// backing is told when the representation is closed.
	OnContextLost()
	HasContext() bool

	Close()
}

// AccessMode selects read or read-write GL access. Any value other than
// AccessModeRead, including zero, grants write access.
type AccessMode uint32

const (
	AccessModeRead AccessMode = iota + 1
	AccessModeReadWrite
)

// IsWrite reports whether the mode grants write access.
func (m AccessMode) IsWrite() bool { return m != AccessModeRead }

// RepresentationBase implements Representation for the typed
// representations. Its address is the reference identity on the backing.
type RepresentationBase struct {
	manager *Manager
	backing Backing
	tracker *MemoryTypeTracker

	contextLost atomic.Bool
	closed      atomic.Bool
	release     func()
}

// init binds the representation. With a manager it takes a reference on
// the backing; release, if set, runs on Close after the reference is
// dropped.
func (r *RepresentationBase) init(m *Manager, b Backing, t *MemoryTypeTracker, release func()) {
	r.manager = m
	r.backing = b
	r.tracker = t
	r.release = release
	if m != nil {
		b.AddRef(r)
	}
}

func (r *RepresentationBase) Mailbox() Mailbox               { return r.backing.Mailbox() }
func (r *RepresentationBase) Backing() Backing               { return r.backing }
func (r *RepresentationBase) Tracker() *MemoryTypeTracker    { return r.tracker }
func (r *RepresentationBase) Size() image.Point              { return r.backing.Size() }
func (r *RepresentationBase) Format() gputypes.TextureFormat { return r.backing.Format() }
func (r *RepresentationBase) Usage() Usage                   { return r.backing.Usage() }
func (r *RepresentationBase) ColorSpace() ColorSpace         { return r.backing.ColorSpace() }
func (r *RepresentationBase) IsCleared() bool                { return r.backing.IsCleared() }
func (r *RepresentationBase) ClearedRect() image.Rectangle   { return r.backing.ClearedRect() }
func (r *RepresentationBase) SetCleared()                    { r.backing.SetCleared() }

func (r *RepresentationBase) SetClearedRect(rect image.Rectangle) {
	r.backing.SetClearedRect(rect)
}

func (r *RepresentationBase) OnContextLost()   { r.contextLost.Store(true) }
func (r *RepresentationBase) HasContext() bool { return !r.contextLost.Load() }

// Close releases the reference. The manager destroys the backing when
// this was the last one.
func (r *RepresentationBase) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	if r.release != nil {
		r.release()
	}
	if r.manager == nil {
		return
	}
	if !r.HasContext() {
		r.backing.OnContextLost()
	}
	r.manager.OnRepresentationDestroyed(r.backing.Mailbox(), r)
}

// allowAccess refuses access to an image that was never fully written
// unless the caller accepts uninitialized content.
func (r *RepresentationBase) allowAccess(op string, allowUncleared bool) bool {
	if allowUncleared || r.backing.IsCleared() {
		return true
	}
	Logger().Error("sharedimage: access to uninitialized shared image",
		"op", op, "mailbox", r.Mailbox(), "cleared", r.backing.ClearedRect())
	return false
}

// releaser is implemented by access adapters that own an inner
// representation.
type releaser interface {
	Release()
}

func releaseFunc(access any) func() {
	if rel, ok := access.(releaser); ok {
		return rel.Release
	}
	return nil
}

// scope ends an access at most once.
type scope struct {
	end   func()
	ended bool
}

// End finishes the access. Calling End more than once has no effect.
func (s *scope) End() {
	if s.ended {
		return
	}
	s.ended = true
	if s.end != nil {
		s.end()
	}
}

// FactoryRef is the reference returned by Manager.Register. It keeps the
// shared image alive until closed, independent of other representations.
type FactoryRef struct {
	RepresentationBase
}

func newFactoryRef(m *Manager, b Backing, t *MemoryTypeTracker) *FactoryRef {
	r := &FactoryRef{}
	r.init(m, b, t, nil)
	return r
}

// Update notifies the backing that its external memory changed.
func (r *FactoryRef) Update(fence Fence) { r.backing.Update(fence) }

// CopyToGpuMemoryBuffer flushes GPU content into the external memory.
func (r *FactoryRef) CopyToGpuMemoryBuffer() bool { return r.backing.CopyToGpuMemoryBuffer() }
