// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package factory

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/sharedimage"
)

// RepresentationFactory produces representations for one client and
// accounts their memory to the client's tracker.
type RepresentationFactory struct {
	manager *sharedimage.Manager
	tracker *sharedimage.MemoryTypeTracker
}

// NewRepresentationFactory returns a factory producing from m on behalf of
// the client owning tracker.
func NewRepresentationFactory(m *sharedimage.Manager, tracker *sharedimage.MemoryTracker) *RepresentationFactory {
	return &RepresentationFactory{
		manager: m,
		tracker: sharedimage.NewMemoryTypeTracker(tracker),
	}
}

// Tracker returns the tracker representations account to.
func (f *RepresentationFactory) Tracker() *sharedimage.MemoryTypeTracker { return f.tracker }

func (f *RepresentationFactory) ProduceGLTexture(mb sharedimage.Mailbox) *sharedimage.GLTextureRepresentation {
	return f.manager.ProduceGLTexture(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceGLTexturePassthrough(mb sharedimage.Mailbox) *sharedimage.GLTextureRepresentation {
	return f.manager.ProduceGLTexturePassthrough(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceRGBEmulationGLTexture(mb sharedimage.Mailbox) *sharedimage.GLTextureRepresentation {
	return f.manager.ProduceRGBEmulationGLTexture(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceSkia(mb sharedimage.Mailbox) *sharedimage.SkiaRepresentation {
	return f.manager.ProduceSkia(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceDawn(mb sharedimage.Mailbox, device gpucontext.DeviceProvider) *sharedimage.DawnRepresentation {
	return f.manager.ProduceDawn(mb, f.tracker, device)
}

func (f *RepresentationFactory) ProduceOverlay(mb sharedimage.Mailbox) *sharedimage.OverlayRepresentation {
	return f.manager.ProduceOverlay(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceVASurface(mb sharedimage.Mailbox, display sharedimage.VADisplay) *sharedimage.VASurfaceRepresentation {
	return f.manager.ProduceVASurface(mb, f.tracker, display)
}

func (f *RepresentationFactory) ProduceMemory(mb sharedimage.Mailbox) *sharedimage.MemoryRepresentation {
	return f.manager.ProduceMemory(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceRaster(mb sharedimage.Mailbox) *sharedimage.RasterRepresentation {
	return f.manager.ProduceRaster(mb, f.tracker)
}

func (f *RepresentationFactory) ProduceLegacyOverlay(mb sharedimage.Mailbox) *sharedimage.LegacyOverlayRepresentation {
	return f.manager.ProduceLegacyOverlay(mb, f.tracker)
}

// Close checks that the client released every representation.
func (f *RepresentationFactory) Close() error {
	if n := f.tracker.MemRepresented(); n != 0 {
		sharedimage.Logger().Error("factory: representations leaked at client teardown",
			"client", f.tracker.MemoryTracker().ClientID(), "bytes", n)
		return fmt.Errorf("%w: %s still represented", sharedimage.ErrNotEmpty, humanize.IBytes(n))
	}
	return nil
}
