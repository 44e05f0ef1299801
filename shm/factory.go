// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shm

import "github.com/gogpu/sharedimage"

// FactoryName is reported by Factory.Name.
const FactoryName = "shared_memory"

// Factory imports shared memory handles. It cannot allocate images on its
// own since the memory always comes from the client.
type Factory struct{}

// NewFactory returns a shared memory backing factory.
func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Name() string { return FactoryName }

// IsSupported accepts shared memory imports that need nothing beyond CPU
// access and memory scanout.
func (f *Factory) IsSupported(q sharedimage.SupportQuery) bool {
	if q.HandleType != sharedimage.HandleSharedMemory || q.HasPixelData {
		return false
	}
	if sharedimage.BytesPerPixel(q.Format) == 0 {
		return false
	}
	const served = sharedimage.UsageCPUWrite | sharedimage.UsageRaster |
		sharedimage.UsageScanout | sharedimage.UsageDisplay | sharedimage.UsageCPUUpload
	return q.Usage&^served == 0
}

func (f *Factory) CreateSharedImage(sharedimage.Descriptor, bool) sharedimage.Backing {
	return nil
}

func (f *Factory) CreateSharedImageWithData(sharedimage.Descriptor, []byte) sharedimage.Backing {
	return nil
}

func (f *Factory) CreateSharedImageFromHandle(desc sharedimage.Descriptor, handle sharedimage.BufferHandle, threadSafe bool) sharedimage.Backing {
	b, err := NewBacking(desc, handle, threadSafe)
	if err != nil {
		sharedimage.Logger().Error("shm: import failed", "mailbox", desc.Mailbox, "err", err)
		return nil
	}
	return b
}
