package sharedimage

import (
	"image"
	"sync"

	"github.com/gogpu/gputypes"
)

// SupportQuery describes a shared image a caller wants to create.
type SupportQuery struct {
	Usage        Usage
	Format       gputypes.TextureFormat
	Size         image.Point
	ThreadSafe   bool
	HandleType   HandleType
	HasPixelData bool
}

// BackingFactory creates concrete backings. Create methods return nil on
// failure; they never register the backing.
type BackingFactory interface {
	// Name identifies the factory in logs and registries.
	Name() string

	// IsSupported reports whether the factory can create q.
	IsSupported(q SupportQuery) bool

	CreateSharedImage(desc Descriptor, threadSafe bool) Backing
	CreateSharedImageWithData(desc Descriptor, data []byte) Backing
	CreateSharedImageFromHandle(desc Descriptor, handle BufferHandle, threadSafe bool) Backing
}

// WeakFactory is a revocable reference to a BackingFactory. Holders that
// create backings long after they were handed the factory, such as
// compound backings, go through it so that tearing the factory down makes
// later creation fail instead of using a dead factory.
type WeakFactory struct {
	mu          sync.Mutex
	factory     BackingFactory
	invalidated bool
}

// NewWeakFactory returns a live reference to f.
func NewWeakFactory(f BackingFactory) *WeakFactory {
	return &WeakFactory{factory: f}
}

// Get returns the factory, or nil once invalidated.
func (w *WeakFactory) Get() BackingFactory {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.factory
}

// Invalidate revokes the reference for all holders.
func (w *WeakFactory) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.factory = nil
	w.invalidated = true
}

// WasInvalidated reports whether Invalidate was called.
func (w *WeakFactory) WasInvalidated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.invalidated
}
