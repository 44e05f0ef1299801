// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package texture

import (
	"fmt"

	"github.com/gogpu/sharedimage"
)

// FactoryName is reported by Factory.Name.
const FactoryName = "texture"

// unsupportedUsage cannot be served by a plain texture since protected
// and decoder memory need platform support.
const unsupportedUsage = sharedimage.UsageProtected | sharedimage.UsageVideoDecode |
	sharedimage.UsageMacOSVideoToolbox

// Factory creates texture backings on one device.
type Factory struct {
	device      Device
	passthrough bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithPassthrough makes the factory create backings for the passthrough
// GL decoder.
func WithPassthrough(v bool) Option {
	return func(f *Factory) { f.passthrough = v }
}

// NewFactory returns a factory allocating on device.
func NewFactory(device Device, opts ...Option) *Factory {
	f := &Factory{device: device}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Name() string { return FactoryName }

// Device returns the device textures are allocated on.
func (f *Factory) Device() Device { return f.device }

func (f *Factory) IsSupported(q sharedimage.SupportQuery) bool {
	if q.HandleType != sharedimage.HandleEmpty {
		return false
	}
	if sharedimage.BytesPerPixel(q.Format) == 0 || q.Size.X <= 0 || q.Size.Y <= 0 {
		return false
	}
	if q.Usage.HasAny(unsupportedUsage) {
		return false
	}
	// Texels are not CPU-mappable; CPU writes need a memory copy that is
	// uploaded, which only a compound backing provides.
	if q.Usage.Has(sharedimage.UsageCPUWrite) && !q.Usage.Has(sharedimage.UsageCPUUpload) {
		return false
	}
	return true
}

func (f *Factory) CreateSharedImage(desc sharedimage.Descriptor, threadSafe bool) sharedimage.Backing {
	b, err := NewBacking(desc, f.device, f.passthrough, threadSafe)
	if err != nil {
		sharedimage.Logger().Error("texture: create failed", "mailbox", desc.Mailbox, "err", err)
		return nil
	}
	return b
}

// CreateSharedImageWithData creates a texture initialized from tightly
// packed pixels. The image is cleared afterwards.
func (f *Factory) CreateSharedImageWithData(desc sharedimage.Descriptor, data []byte) sharedimage.Backing {
	b, err := f.createWithData(desc, data)
	if err != nil {
		sharedimage.Logger().Error("texture: create with data failed", "mailbox", desc.Mailbox, "err", err)
		return nil
	}
	return b
}

func (f *Factory) createWithData(desc sharedimage.Descriptor, data []byte) (*Backing, error) {
	b, err := NewBacking(desc, f.device, f.passthrough, false)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return b, nil
	}
	src, err := sharedimage.WrapPixmap(desc.Format, desc.Size.X, desc.Size.Y, 0, data)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	if want := sharedimage.EstimatedSize(desc.Format, desc.Size); uint64(len(data)) != want {
		b.Destroy()
		return nil, fmt.Errorf("texture: initial data is %d bytes, want %d", len(data), want)
	}
	if !b.UploadFromMemory(src) {
		b.Destroy()
		return nil, fmt.Errorf("texture: initial upload failed")
	}
	b.SetCleared()
	return b, nil
}

func (f *Factory) CreateSharedImageFromHandle(sharedimage.Descriptor, sharedimage.BufferHandle, bool) sharedimage.Backing {
	return nil
}
