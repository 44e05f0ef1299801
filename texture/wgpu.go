// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package texture

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/wgpu"
)

// copyPitchAlignment is the row alignment WebGPU requires for
// texture-to-buffer copies.
const copyPitchAlignment = 256

// readbackTimeout bounds the wait for a readback to complete.
const readbackTimeout = 5 * time.Second

// WGPUDevice allocates textures on a wgpu device shared by the host
// application through gpucontext.
type WGPUDevice struct {
	provider gpucontext.DeviceProvider
	device   *wgpu.Device
	nextID   atomic.Uint64
}

// NewWGPUDevice wraps the device of p. It fails when p does not provide a
// *wgpu.Device.
func NewWGPUDevice(p gpucontext.DeviceProvider) (*WGPUDevice, error) {
	if p == nil {
		return nil, fmt.Errorf("texture: nil device provider")
	}
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("texture: device provider returned %T, want *wgpu.Device", p.Device())
	}
	return &WGPUDevice{provider: p, device: dev}, nil
}

func (d *WGPUDevice) Name() string { return "wgpu" }

// Provider returns the provider the device was created from.
func (d *WGPUDevice) Provider() gpucontext.DeviceProvider { return d.provider }

func (d *WGPUDevice) CreateTexture(label string, format gputypes.TextureFormat, size image.Point) (sharedimage.Texture, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: uint32(size.X), Height: uint32(size.Y), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("texture: create %q: %w", label, err)
	}
	return &wgpuTexture{
		device: d,
		tex:    tex,
		id:     d.nextID.Add(1),
		width:  size.X,
		height: size.Y,
	}, nil
}

func (d *WGPUDevice) WriteTexture(tex sharedimage.Texture, src *sharedimage.Pixmap) error {
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	return t.UpdateData(src.Packed())
}

// ReadTexture copies the texture into a staging buffer, waits for the
// copy and strips the row padding into dst.
func (d *WGPUDevice) ReadTexture(tex sharedimage.Texture, dst *sharedimage.Pixmap) error {
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	w, h := uint32(t.width), uint32(t.height)
	bytesPerRow := uint32(dst.RowBytes())
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	size := uint64(alignedBytesPerRow) * uint64(h)

	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sharedimage_readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("texture: create staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "sharedimage_readback"})
	if err != nil {
		return fmt.Errorf("texture: create encoder: %w", err)
	}
	encoder.CopyTextureToBuffer(t.tex, staging, []wgpu.BufferTextureCopy{{
		BufferLayout: wgpu.ImageDataLayout{BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
		TextureBase:  wgpu.ImageCopyTexture{Texture: t.tex, Aspect: gputypes.TextureAspectAll},
		Size:         wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	cmd, err := encoder.Finish()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("texture: finish encoding: %w", err)
	}
	defer cmd.Release()
	if _, err := d.device.Queue().Submit(cmd); err != nil {
		return fmt.Errorf("texture: submit readback: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), readbackTimeout)
	defer cancel()
	if err := staging.Map(ctx, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("texture: map staging buffer: %w", err)
	}
	defer staging.Unmap()
	mapped, err := staging.MappedRange(0, size)
	if err != nil {
		return fmt.Errorf("texture: mapped range: %w", err)
	}
	defer mapped.Release()
	readback := mapped.Bytes()
	for row := 0; row < int(h); row++ {
		off := row * int(alignedBytesPerRow)
		copy(dst.Row(row), readback[off:off+int(bytesPerRow)])
	}
	return nil
}

func (d *WGPUDevice) ReleaseTexture(tex sharedimage.Texture) {
	if t, err := d.lookup(tex); err == nil {
		t.tex.Release()
	}
}

func (d *WGPUDevice) lookup(tex sharedimage.Texture) (*wgpuTexture, error) {
	t, ok := tex.(*wgpuTexture)
	if !ok || t.device != d {
		return nil, fmt.Errorf("texture: %T does not belong to this wgpu device", tex)
	}
	return t, nil
}

// wgpuTexture is a texture on a WGPUDevice.
type wgpuTexture struct {
	device *WGPUDevice
	tex    *wgpu.Texture
	id     uint64
	width  int
	height int
}

var _ gpucontext.TextureUpdater = (*wgpuTexture)(nil)

func (t *wgpuTexture) Width() int                     { return t.width }
func (t *wgpuTexture) Height() int                    { return t.height }
func (t *wgpuTexture) Format() gputypes.TextureFormat { return t.tex.Format() }
func (t *wgpuTexture) ServiceID() uint64              { return t.id }

// Raw returns the underlying wgpu texture.
func (t *wgpuTexture) Raw() *wgpu.Texture { return t.tex }

// UpdateData uploads tightly packed texels through the queue.
func (t *wgpuTexture) UpdateData(data []byte) error {
	bpp := sharedimage.BytesPerPixel(t.Format())
	err := t.device.device.Queue().WriteTexture(
		&wgpu.ImageCopyTexture{Texture: t.tex, Aspect: gputypes.TextureAspectAll},
		data,
		&wgpu.ImageDataLayout{BytesPerRow: uint32(bpp * t.width), RowsPerImage: uint32(t.height)},
		&wgpu.Extent3D{Width: uint32(t.width), Height: uint32(t.height), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("texture: write: %w", err)
	}
	return nil
}
