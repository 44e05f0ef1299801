package sharedimage

import (
	"image"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
)

// Backing is the resource behind one mailbox. Concrete backings embed
// *BackingBase and add the capability interfaces they support.
//
// The reference methods (AddRef, ReleaseRef, HasAnyRefs, OnContextLost)
// are driven by the Manager and representations only.
type Backing interface {
	Descriptor() Descriptor
	Mailbox() Mailbox
	Format() gputypes.TextureFormat
	Size() image.Point
	ColorSpace() ColorSpace
	SurfaceOrigin() SurfaceOrigin
	AlphaMode() gputypes.CompositeAlphaMode
	Usage() Usage

	// Name describes the backing type in logs and dumps.
	Name() string
	IsThreadSafe() bool

	// EstimatedSizeForMemTracking returns the accounted size. Zero
	// excludes the backing from accounting and memory dumps.
	EstimatedSizeForMemTracking() uint64

	ClearedRect() image.Rectangle
	SetClearedRect(r image.Rectangle)
	IsCleared() bool
	SetCleared()

	// Update tells the backing that its external memory was written.
	Update(fence Fence)

	// CopyToGpuMemoryBuffer flushes GPU content into the external memory.
	CopyToGpuMemoryBuffer() bool

	AddRef(r Representation)
	ReleaseRef(r Representation)
	HasAnyRefs() bool
	OnContextLost()
	HaveContext() bool

	// OnMemoryDump adds backend specific nodes below dumpName, whose node
	// has the GUID dumpGUID.
	OnMemoryDump(dumpName string, dumpGUID DumpGUID, sink DumpSink, clientTracingID uint64)

	// Destroy frees the resource. The manager calls it exactly once, after
	// the last reference is gone. When HaveContext is false the GPU
	// context is gone and GPU objects must be dropped, not released.
	Destroy()
}

// BackingBase implements the bookkeeping shared by all backings: the
// descriptor, cleared-region tracking and reference list.
type BackingBase struct {
	desc          Descriptor
	estimatedSize uint64
	threadSafe    bool

	mu          sync.Mutex // held only when threadSafe
	clearedRect image.Rectangle
	refs        []Representation
	contextLost bool
}

// NewBackingBase returns the common part of a backing. Thread-safe
// backings serialize their bookkeeping with an internal lock.
func NewBackingBase(desc Descriptor, estimatedSize uint64, threadSafe bool) *BackingBase {
	return &BackingBase{desc: desc, estimatedSize: estimatedSize, threadSafe: threadSafe}
}

func (b *BackingBase) lock() func() {
	if !b.threadSafe {
		return func() {}
	}
	b.mu.Lock()
	return b.mu.Unlock
}

func (b *BackingBase) Descriptor() Descriptor                 { return b.desc }
func (b *BackingBase) Mailbox() Mailbox                       { return b.desc.Mailbox }
func (b *BackingBase) Format() gputypes.TextureFormat         { return b.desc.Format }
func (b *BackingBase) Size() image.Point                      { return b.desc.Size }
func (b *BackingBase) ColorSpace() ColorSpace                 { return b.desc.ColorSpace }
func (b *BackingBase) SurfaceOrigin() SurfaceOrigin           { return b.desc.Origin }
func (b *BackingBase) AlphaMode() gputypes.CompositeAlphaMode { return b.desc.AlphaMode }
func (b *BackingBase) Usage() Usage                           { return b.desc.Usage }
func (b *BackingBase) IsThreadSafe() bool                     { return b.threadSafe }
func (b *BackingBase) EstimatedSizeForMemTracking() uint64    { return b.estimatedSize }

// Bounds returns the full image rectangle.
func (b *BackingBase) Bounds() image.Rectangle {
	return image.Rectangle{Max: b.desc.Size}
}

func (b *BackingBase) ClearedRect() image.Rectangle {
	defer b.lock()()
	return b.clearedRect
}

func (b *BackingBase) SetClearedRect(r image.Rectangle) {
	defer b.lock()()
	b.clearedRect = r.Intersect(b.Bounds())
}

func (b *BackingBase) IsCleared() bool {
	defer b.lock()()
	return b.clearedRect == b.Bounds()
}

func (b *BackingBase) SetCleared() { b.SetClearedRect(b.Bounds()) }

// CopyToGpuMemoryBuffer reports false; only backings with a separate GPU
// copy can flush.
func (b *BackingBase) CopyToGpuMemoryBuffer() bool { return false }

// OnMemoryDump adds nothing by default.
func (b *BackingBase) OnMemoryDump(string, DumpGUID, DumpSink, uint64) {}

// AddRef records a new reference. The first reference carries the
// backing's size in its tracker.
func (b *BackingBase) AddRef(r Representation) {
	defer b.lock()()
	b.refs = append(b.refs, r)
	if len(b.refs) == 1 {
		r.Tracker().TrackMemAlloc(b.estimatedSize)
	}
}

// ReleaseRef drops a reference. When the first reference goes away the
// size accounting moves to the next oldest one.
func (b *BackingBase) ReleaseRef(r Representation) {
	defer b.lock()()
	i := slices.Index(b.refs, r)
	if i < 0 {
		Logger().Error("sharedimage: releasing a reference the backing does not hold",
			"mailbox", b.desc.Mailbox)
		return
	}
	b.refs = slices.Delete(b.refs, i, i+1)
	if i != 0 {
		return
	}
	r.Tracker().TrackMemFree(b.estimatedSize)
	if len(b.refs) > 0 {
		b.refs[0].Tracker().TrackMemAlloc(b.estimatedSize)
	}
}

func (b *BackingBase) HasAnyRefs() bool {
	defer b.lock()()
	return len(b.refs) > 0
}

// RefCount returns the number of live references.
func (b *BackingBase) RefCount() int {
	defer b.lock()()
	return len(b.refs)
}

func (b *BackingBase) OnContextLost() {
	defer b.lock()()
	b.contextLost = true
}

func (b *BackingBase) HaveContext() bool {
	defer b.lock()()
	return !b.contextLost
}
