// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package factory creates shared images. A SharedImageFactory picks a
// backing factory for each request, registers the backing with a Manager
// and keeps the registration reference until the image is destroyed.
// RepresentationFactory gives a client access to registered images.
package factory

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/compound"
)

// ErrCopyFailed is returned when GPU content could not be read back into
// shared memory.
var ErrCopyFailed = errors.New("factory: copy to GPU memory buffer failed")

// displayUsage is the usage consumed by the display compositor.
const displayUsage = sharedimage.UsageDisplay | sharedimage.UsageScanout

// SharedImageFactory creates, updates and destroys shared images.
//
// SharedImageFactory is safe for concurrent use.
type SharedImageFactory struct {
	manager *sharedimage.Manager
	tracker *sharedimage.MemoryTypeTracker

	enableCompound         bool
	allowShmOverlays       bool
	isForDisplayCompositor bool

	// backings maps factory names to revocable references; order keeps
	// registration order, which is the selection order.
	backings *gpucontext.Registry[*sharedimage.WeakFactory]

	mu    sync.Mutex
	order []string
	refs  map[sharedimage.Mailbox]*sharedimage.FactoryRef
}

// Option configures a SharedImageFactory.
type Option func(*SharedImageFactory)

// WithCompound enables compound backings for shared memory images that
// also need GPU access.
func WithCompound(v bool) Option {
	return func(f *SharedImageFactory) { f.enableCompound = v }
}

// WithShmOverlays lets compound images scan out shared memory directly.
func WithShmOverlays(v bool) Option {
	return func(f *SharedImageFactory) { f.allowShmOverlays = v }
}

// WithDisplayCompositor marks the factory as owned by the display
// compositor.
func WithDisplayCompositor(v bool) Option {
	return func(f *SharedImageFactory) { f.isForDisplayCompositor = v }
}

// New returns a factory registering images with m and accounting their
// memory to tracker.
func New(m *sharedimage.Manager, tracker *sharedimage.MemoryTracker, opts ...Option) *SharedImageFactory {
	f := &SharedImageFactory{
		manager:  m,
		tracker:  sharedimage.NewMemoryTypeTracker(tracker),
		backings: gpucontext.NewRegistry[*sharedimage.WeakFactory](),
		refs:     make(map[sharedimage.Mailbox]*sharedimage.FactoryRef),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Manager returns the manager images are registered with.
func (f *SharedImageFactory) Manager() *sharedimage.Manager { return f.manager }

// Tracker returns the tracker registration references account to.
func (f *SharedImageFactory) Tracker() *sharedimage.MemoryTypeTracker { return f.tracker }

// RegisterBackingFactory adds bf to the end of the selection order and
// returns its revocable reference. Registering a name again replaces the
// previous factory, which is invalidated.
func (f *SharedImageFactory) RegisterBackingFactory(bf sharedimage.BackingFactory) *sharedimage.WeakFactory {
	weak := sharedimage.NewWeakFactory(bf)
	name := bf.Name()

	f.mu.Lock()
	defer f.mu.Unlock()
	if old := f.backings.Get(name); old != nil {
		old.Invalidate()
		f.order = slices.DeleteFunc(f.order, func(n string) bool { return n == name })
	}
	f.backings.Register(name, func() *sharedimage.WeakFactory { return weak })
	f.order = append(f.order, name)
	return weak
}

// UnregisterBackingFactory removes the named factory. Compound images
// holding it fail their next GPU allocation instead of using it.
func (f *SharedImageFactory) UnregisterBackingFactory(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if weak := f.backings.Get(name); weak != nil {
		weak.Invalidate()
	}
	f.backings.Unregister(name)
	f.order = slices.DeleteFunc(f.order, func(n string) bool { return n == name })
}

// BackingFactories returns the registered factory names in selection
// order.
func (f *SharedImageFactory) BackingFactories() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.order)
}

// GetFactoryByUsage returns the first backing factory supporting the
// request. A shared memory request no factory supports directly is served
// by a compound image when some factory can create a GPU copy with CPU
// upload; useCompound then reports that the returned factory is that GPU
// factory.
func (f *SharedImageFactory) GetFactoryByUsage(usage sharedimage.Usage, format gputypes.TextureFormat, size image.Point, withData bool, handleType sharedimage.HandleType) (bf sharedimage.BackingFactory, useCompound bool) {
	weak, useCompound := f.selectFactory(sharedimage.SupportQuery{
		Usage:        usage,
		Format:       format,
		Size:         size,
		ThreadSafe:   f.threadSafe(usage),
		HandleType:   handleType,
		HasPixelData: withData,
	})
	if weak == nil {
		return nil, false
	}
	return weak.Get(), useCompound
}

// selectFactory walks the factories in registration order. Each factory
// is asked for q first, then for the GPU half of a compound image, so an
// earlier factory able to back a compound image wins over a later one
// supporting q directly.
func (f *SharedImageFactory) selectFactory(q sharedimage.SupportQuery) (*sharedimage.WeakFactory, bool) {
	gpuHalf := q
	tryCompound := f.enableCompound && q.HandleType == sharedimage.HandleSharedMemory && !q.HasPixelData
	gpuHalf.Usage |= sharedimage.UsageCPUUpload
	gpuHalf.HandleType = sharedimage.HandleEmpty

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.order {
		weak := f.backings.Get(name)
		bf := weak.Get()
		if bf == nil {
			continue
		}
		if bf.IsSupported(q) {
			return weak, false
		}
		if tryCompound && bf.IsSupported(gpuHalf) {
			return weak, true
		}
	}
	return nil, false
}

// IsSharedBetweenThreads reports whether an image with usage is accessed
// both by the display compositor thread and by another thread, in which
// case its backing must be thread safe.
func (f *SharedImageFactory) IsSharedBetweenThreads(usage sharedimage.Usage) bool {
	// Mipmap generation and delegated compositing do not touch the image
	// from another thread.
	usage &^= sharedimage.UsageMipmap | sharedimage.UsageRasterDelegatedCompositing
	if usage.Has(sharedimage.UsageRawDraw) {
		return true
	}
	usedByDisplay := (usage.HasAny(displayUsage) || f.isForDisplayCompositor) &&
		f.manager.DisplayContextOnAnotherThread()
	usedByMain := usage&^displayUsage != 0 || !f.isForDisplayCompositor
	return usedByDisplay && usedByMain
}

func (f *SharedImageFactory) threadSafe(usage sharedimage.Usage) bool {
	return f.manager.IsThreadSafe() && f.IsSharedBetweenThreads(usage)
}

// CreateSharedImage allocates an uninitialized image.
func (f *SharedImageFactory) CreateSharedImage(desc sharedimage.Descriptor) error {
	const op = "CreateSharedImage"
	return f.create(op, desc, false, sharedimage.HandleEmpty, func(bf sharedimage.BackingFactory, _ *sharedimage.WeakFactory, _ bool, threadSafe bool) sharedimage.Backing {
		return bf.CreateSharedImage(desc, threadSafe)
	})
}

// CreateSharedImageWithData allocates an image initialized from tightly
// packed pixels. Only display compositor usage may carry initial data.
func (f *SharedImageFactory) CreateSharedImageWithData(desc sharedimage.Descriptor, data []byte) error {
	const op = "CreateSharedImageWithData"
	if desc.Usage&^displayUsage != 0 {
		sharedimage.Logger().Error("factory: initial data with non-display usage",
			"op", op, "mailbox", desc.Mailbox, "usage", desc.Usage)
		return &sharedimage.MailboxError{Op: op, Mailbox: desc.Mailbox,
			Err: fmt.Errorf("%w: %v", sharedimage.ErrInvalidUsage, desc.Usage)}
	}
	return f.create(op, desc, true, sharedimage.HandleEmpty, func(bf sharedimage.BackingFactory, _ *sharedimage.WeakFactory, _ bool, _ bool) sharedimage.Backing {
		return bf.CreateSharedImageWithData(desc, data)
	})
}

// CreateSharedImageFromHandle imports client memory. Shared memory that
// also needs GPU access becomes a compound image when compound backings
// are enabled.
func (f *SharedImageFactory) CreateSharedImageFromHandle(desc sharedimage.Descriptor, handle sharedimage.BufferHandle) error {
	const op = "CreateSharedImageFromHandle"
	return f.create(op, desc, false, handle.Type, func(bf sharedimage.BackingFactory, weak *sharedimage.WeakFactory, useCompound bool, threadSafe bool) sharedimage.Backing {
		if !useCompound {
			return bf.CreateSharedImageFromHandle(desc, handle, threadSafe)
		}
		b, err := compound.New(weak, f.allowShmOverlays, desc, handle, threadSafe)
		if err != nil {
			sharedimage.Logger().Error("factory: compound import failed", "op", op, "mailbox", desc.Mailbox, "err", err)
			return nil
		}
		return b
	})
}

type createFunc func(bf sharedimage.BackingFactory, weak *sharedimage.WeakFactory, useCompound, threadSafe bool) sharedimage.Backing

func (f *SharedImageFactory) create(op string, desc sharedimage.Descriptor, withData bool, handleType sharedimage.HandleType, fn createFunc) error {
	fail := func(err error) error {
		sharedimage.Logger().Error("factory: create failed",
			"op", op, "mailbox", desc.Mailbox, "usage", desc.Usage, "format", desc.Format, "err", err)
		return &sharedimage.MailboxError{Op: op, Mailbox: desc.Mailbox, Err: err}
	}

	if err := desc.Validate(); err != nil {
		return fail(err)
	}
	if f.HasSharedImage(desc.Mailbox) {
		return fail(sharedimage.ErrDuplicateMailbox)
	}

	threadSafe := f.threadSafe(desc.Usage)
	weak, useCompound := f.selectFactory(sharedimage.SupportQuery{
		Usage:        desc.Usage,
		Format:       desc.Format,
		Size:         desc.Size,
		ThreadSafe:   threadSafe,
		HandleType:   handleType,
		HasPixelData: withData,
	})
	if weak == nil {
		return fail(fmt.Errorf("%w: usage %v format %v handle %v", sharedimage.ErrNoFactory, desc.Usage, desc.Format, handleType))
	}
	bf := weak.Get()
	if bf == nil {
		return fail(sharedimage.ErrNoFactory)
	}

	b := fn(bf, weak, useCompound, threadSafe)
	if b == nil {
		return fail(sharedimage.ErrAllocationFailed)
	}
	ref := f.manager.Register(b, f.tracker)
	if ref == nil {
		return fail(sharedimage.ErrDuplicateMailbox)
	}

	f.mu.Lock()
	f.refs[desc.Mailbox] = ref
	f.mu.Unlock()

	sharedimage.Logger().Debug("factory: created shared image",
		"op", op, "mailbox", desc.Mailbox, "backing", b.Name(), "factory", bf.Name(), "compound", useCompound)
	return nil
}

func (f *SharedImageFactory) ref(op string, mb sharedimage.Mailbox) (*sharedimage.FactoryRef, error) {
	f.mu.Lock()
	ref, ok := f.refs[mb]
	f.mu.Unlock()
	if !ok {
		sharedimage.Logger().Error("factory: mailbox not found", "op", op, "mailbox", mb)
		return nil, &sharedimage.MailboxError{Op: op, Mailbox: mb, Err: sharedimage.ErrNotFound}
	}
	return ref, nil
}

// HasSharedImage reports whether the factory holds mb.
func (f *SharedImageFactory) HasSharedImage(mb sharedimage.Mailbox) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.refs[mb]
	return ok
}

// UpdateSharedImage tells the backing its client memory changed once
// fence signals. fence may be nil.
func (f *SharedImageFactory) UpdateSharedImage(mb sharedimage.Mailbox, fence sharedimage.Fence) error {
	ref, err := f.ref("UpdateSharedImage", mb)
	if err != nil {
		return err
	}
	ref.Update(fence)
	return nil
}

// CopyToGpuMemoryBuffer copies GPU writes back into client memory.
func (f *SharedImageFactory) CopyToGpuMemoryBuffer(mb sharedimage.Mailbox) error {
	const op = "CopyToGpuMemoryBuffer"
	ref, err := f.ref(op, mb)
	if err != nil {
		return err
	}
	if !ref.CopyToGpuMemoryBuffer() {
		sharedimage.Logger().Error("factory: copy to GPU memory buffer failed", "op", op, "mailbox", mb)
		return &sharedimage.MailboxError{Op: op, Mailbox: mb, Err: ErrCopyFailed}
	}
	return nil
}

// DestroySharedImage drops the registration reference. The backing is
// destroyed once no representation refers to it.
func (f *SharedImageFactory) DestroySharedImage(mb sharedimage.Mailbox) error {
	const op = "DestroySharedImage"
	f.mu.Lock()
	ref, ok := f.refs[mb]
	delete(f.refs, mb)
	f.mu.Unlock()
	if !ok {
		sharedimage.Logger().Error("factory: mailbox not found", "op", op, "mailbox", mb)
		return &sharedimage.MailboxError{Op: op, Mailbox: mb, Err: sharedimage.ErrNotFound}
	}
	ref.Close()
	return nil
}

// DestroyAllSharedImages drops every registration reference in mailbox
// order. Without a context backings release their resources without
// touching the device.
func (f *SharedImageFactory) DestroyAllSharedImages(haveContext bool) {
	f.mu.Lock()
	refs := f.refs
	f.refs = make(map[sharedimage.Mailbox]*sharedimage.FactoryRef)
	f.mu.Unlock()

	mailboxes := slices.SortedFunc(maps.Keys(refs), sharedimage.Mailbox.Compare)
	for _, mb := range mailboxes {
		ref := refs[mb]
		if !haveContext {
			ref.OnContextLost()
		}
		ref.Close()
	}
}

// OnMemoryDump dumps every image the factory holds.
func (f *SharedImageFactory) OnMemoryDump(sink sharedimage.DumpSink) {
	f.mu.Lock()
	mailboxes := slices.SortedFunc(maps.Keys(f.refs), sharedimage.Mailbox.Compare)
	f.mu.Unlock()

	mt := f.tracker.MemoryTracker()
	for _, mb := range mailboxes {
		f.manager.OnMemoryDump(mb, sink, mt.ClientID(), mt.ClientTracingID())
	}
}

// Close destroys the remaining images and invalidates every backing
// factory so that compound images still alive elsewhere stop allocating.
func (f *SharedImageFactory) Close() {
	f.DestroyAllSharedImages(true)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.order {
		if weak := f.backings.Get(name); weak != nil {
			weak.Invalidate()
		}
		f.backings.Unregister(name)
	}
	f.order = nil
}
