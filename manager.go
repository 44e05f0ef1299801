package sharedimage

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
)

// Manager maps mailboxes to the backings it owns, produces
// representations on request and destroys a backing as soon as its last
// reference is released.
//
// A thread-safe Manager serializes every registry access with one lock.
// Otherwise the caller must confine all use to one goroutine at a time.
type Manager struct {
	threadSafe                    bool
	displayContextOnAnotherThread bool

	mu     sync.Mutex // held only when threadSafe
	images map[Mailbox]Backing
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithThreadSafe makes the manager lock around registry access.
func WithThreadSafe(v bool) ManagerOption {
	return func(m *Manager) { m.threadSafe = v }
}

// WithDisplayContextOnAnotherThread records that the display compositor
// runs its GPU context on a separate thread, which makes images it shares
// with other clients cross-thread.
func WithDisplayContextOnAnotherThread(v bool) ManagerOption {
	return func(m *Manager) { m.displayContextOnAnotherThread = v }
}

// NewManager creates an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{images: make(map[Mailbox]Backing)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock() func() {
	if !m.threadSafe {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// IsThreadSafe reports whether the manager serializes access.
func (m *Manager) IsThreadSafe() bool { return m.threadSafe }

// DisplayContextOnAnotherThread reports the display compositor threading.
func (m *Manager) DisplayContextOnAnotherThread() bool { return m.displayContextOnAnotherThread }

// Register takes ownership of b and returns the factory reference keeping
// it alive. If the mailbox is already registered it logs, destroys b and
// returns nil; the registered backing is untouched.
func (m *Manager) Register(b Backing, t *MemoryTypeTracker) *FactoryRef {
	unlock := m.lock()
	mb := b.Mailbox()
	if _, ok := m.images[mb]; ok {
		unlock()
		Logger().Error("sharedimage: register of an already registered mailbox",
			"mailbox", mb, "backing", b.Name())
		b.Destroy()
		return nil
	}
	m.images[mb] = b
	ref := newFactoryRef(m, b, t)
	unlock()

	Logger().Debug("sharedimage: registered",
		"mailbox", mb, "backing", b.Name(), "usage", b.Usage().String(), "size", b.Size())
	return ref
}

// produce looks up mb and asks its backing for a representation through
// capability P. Incompatibility is logged only when logIncompatible.
func produce[P any, R any](m *Manager, op string, mb Mailbox, logIncompatible bool, fn func(P) *R) *R {
	defer m.lock()()
	b, ok := m.images[mb]
	if !ok {
		Logger().Error("sharedimage: produce from a non-existent mailbox", "op", op, "mailbox", mb)
		return nil
	}
	var rep *R
	if p, ok := b.(P); ok {
		rep = fn(p)
	}
	if rep == nil && logIncompatible {
		Logger().Error("sharedimage: produce from an incompatible mailbox",
			"op", op, "mailbox", mb, "backing", b.Name(), "usage", b.Usage().String())
	}
	return rep
}

// ProduceGLTexture returns a validating GL texture representation, or nil.
func (m *Manager) ProduceGLTexture(mb Mailbox, t *MemoryTypeTracker) *GLTextureRepresentation {
	return produce(m, "ProduceGLTexture", mb, true, func(p GLTextureProducer) *GLTextureRepresentation {
		return p.ProduceGLTexture(m, t)
	})
}

// ProduceGLTexturePassthrough returns a passthrough GL texture
// representation, or nil.
func (m *Manager) ProduceGLTexturePassthrough(mb Mailbox, t *MemoryTypeTracker) *GLTextureRepresentation {
	return produce(m, "ProduceGLTexturePassthrough", mb, true, func(p GLTexturePassthroughProducer) *GLTextureRepresentation {
		return p.ProduceGLTexturePassthrough(m, t)
	})
}

// ProduceRGBEmulationGLTexture returns a GL texture view ignoring alpha,
// or nil.
func (m *Manager) ProduceRGBEmulationGLTexture(mb Mailbox, t *MemoryTypeTracker) *GLTextureRepresentation {
	return produce(m, "ProduceRGBEmulationGLTexture", mb, true, func(p RGBEmulationGLTextureProducer) *GLTextureRepresentation {
		return p.ProduceRGBEmulationGLTexture(m, t)
	})
}

// ProduceSkia returns a 2D canvas representation, or nil.
func (m *Manager) ProduceSkia(mb Mailbox, t *MemoryTypeTracker) *SkiaRepresentation {
	return produce(m, "ProduceSkia", mb, true, func(p SkiaProducer) *SkiaRepresentation {
		return p.ProduceSkia(m, t)
	})
}

// ProduceDawn returns a WebGPU representation usable on device, or nil.
func (m *Manager) ProduceDawn(mb Mailbox, t *MemoryTypeTracker, device gpucontext.DeviceProvider) *DawnRepresentation {
	return produce(m, "ProduceDawn", mb, true, func(p DawnProducer) *DawnRepresentation {
		return p.ProduceDawn(m, t, device)
	})
}

// ProduceOverlay returns an overlay representation, or nil.
func (m *Manager) ProduceOverlay(mb Mailbox, t *MemoryTypeTracker) *OverlayRepresentation {
	return produce(m, "ProduceOverlay", mb, true, func(p OverlayProducer) *OverlayRepresentation {
		return p.ProduceOverlay(m, t)
	})
}

// ProduceVASurface returns a decode surface representation, or nil.
func (m *Manager) ProduceVASurface(mb Mailbox, t *MemoryTypeTracker, display VADisplay) *VASurfaceRepresentation {
	return produce(m, "ProduceVASurface", mb, true, func(p VASurfaceProducer) *VASurfaceRepresentation {
		return p.ProduceVASurface(m, t, display)
	})
}

// ProduceMemory returns a CPU memory representation, or nil. Callers use
// it to check whether pixels are CPU-visible, so a nil result is not
// logged.
func (m *Manager) ProduceMemory(mb Mailbox, t *MemoryTypeTracker) *MemoryRepresentation {
	return produce(m, "ProduceMemory", mb, false, func(p MemoryProducer) *MemoryRepresentation {
		return p.ProduceMemory(m, t)
	})
}

// ProduceRaster returns a CPU raster representation, or nil. Like
// ProduceMemory a nil result is expected and not logged.
func (m *Manager) ProduceRaster(mb Mailbox, t *MemoryTypeTracker) *RasterRepresentation {
	return produce(m, "ProduceRaster", mb, false, func(p RasterProducer) *RasterRepresentation {
		return p.ProduceRaster(m, t)
	})
}

// ProduceLegacyOverlay returns a swap-chain overlay representation, or nil.
func (m *Manager) ProduceLegacyOverlay(mb Mailbox, t *MemoryTypeTracker) *LegacyOverlayRepresentation {
	return produce(m, "ProduceLegacyOverlay", mb, true, func(p LegacyOverlayProducer) *LegacyOverlayRepresentation {
		return p.ProduceLegacyOverlay(m, t)
	})
}

// OnRepresentationDestroyed releases the reference r holds on the backing
// of mb and destroys the backing if it was the last one.
//
// The entry is looked up again after the release, and destruction runs
// outside the lock, so a destruction that releases further
// representations may call back into the manager.
func (m *Manager) OnRepresentationDestroyed(mb Mailbox, r Representation) {
	var doomed Backing
	func() {
		defer m.lock()()
		b, ok := m.images[mb]
		if !ok {
			Logger().Error("sharedimage: representation destroyed for a non-existent mailbox", "mailbox", mb)
			return
		}
		b.ReleaseRef(r)

		b, ok = m.images[mb]
		if ok && !b.HasAnyRefs() {
			delete(m.images, mb)
			doomed = b
		}
	}()

	if doomed != nil {
		Logger().Debug("sharedimage: destroying backing",
			"mailbox", mb, "backing", doomed.Name(), "have_context", doomed.HaveContext())
		doomed.Destroy()
	}
}

// OnContextLost tells the backing of mb that its GPU context is gone. The
// reference count is unchanged.
func (m *Manager) OnContextLost(mb Mailbox) {
	defer m.lock()()
	b, ok := m.images[mb]
	if !ok {
		Logger().Error("sharedimage: context lost for a non-existent mailbox", "mailbox", mb)
		return
	}
	b.OnContextLost()
}

// OnMemoryDump emits one allocator dump for mb, with its size, usage and a
// non-owning edge to the client side GUID, then lets the backing add
// backend details. Backings with an estimated size of zero are skipped.
func (m *Manager) OnMemoryDump(mb Mailbox, sink DumpSink, clientID int32, clientTracingID uint64) {
	defer m.lock()()
	b, ok := m.images[mb]
	if !ok {
		Logger().Error("sharedimage: memory dump for a non-existent mailbox", "mailbox", mb)
		return
	}
	size := b.EstimatedSizeForMemTracking()
	if size == 0 {
		return
	}

	name := DumpName(clientID, mb)
	dump := sink.CreateAllocatorDump(name)
	dump.AddScalar(DumpSizeName, DumpUnitsBytes, size)
	dump.AddString(DumpUsageName, "", b.Usage().String())

	clientGUID := SharedImageGUID(mb)
	sink.CreateSharedGlobalAllocatorDump(clientGUID)
	sink.AddOwnershipEdge(dump.GUID(), clientGUID, NonOwningEdgeImportance)

	b.OnMemoryDump(name, dump.GUID(), sink, clientTracingID)
}

// GetNativePixmap returns the platform buffer behind mb, or nil.
func (m *Manager) GetNativePixmap(mb Mailbox) NativePixmap {
	defer m.lock()()
	b, ok := m.images[mb]
	if !ok {
		Logger().Error("sharedimage: native pixmap for a non-existent mailbox", "mailbox", mb)
		return nil
	}
	if p, ok := b.(NativePixmapProvider); ok {
		return p.NativePixmap()
	}
	return nil
}

// Has reports whether mb is registered.
func (m *Manager) Has(mb Mailbox) bool {
	defer m.lock()()
	_, ok := m.images[mb]
	return ok
}

// Len returns the number of registered backings.
func (m *Manager) Len() int {
	defer m.lock()()
	return len(m.images)
}

// Mailboxes returns the registered mailboxes in ascending order.
func (m *Manager) Mailboxes() []Mailbox {
	defer m.lock()()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []Mailbox {
	out := make([]Mailbox, 0, len(m.images))
	for mb := range m.images {
		out = append(out, mb)
	}
	slices.SortFunc(out, Mailbox.Compare)
	return out
}

// Close checks the teardown postcondition: every backing must have been
// released. Leaked mailboxes are logged and reported as ErrNotEmpty.
func (m *Manager) Close() error {
	defer m.lock()()
	if len(m.images) == 0 {
		return nil
	}
	for _, mb := range m.sortedLocked() {
		Logger().Error("sharedimage: shared image leaked at manager teardown",
			"mailbox", mb, "backing", m.images[mb].Name())
	}
	return fmt.Errorf("%w: %d registered at teardown", ErrNotEmpty, len(m.images))
}
