// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package texture

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
)

// SoftwareDevice keeps textures in process memory. It is used when no GPU
// device is configured and in tests.
//
// SoftwareDevice is safe for concurrent use.
type SoftwareDevice struct {
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]*softwareTexture
}

// NewSoftwareDevice returns an empty software device.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{live: make(map[uint64]*softwareTexture)}
}

func (d *SoftwareDevice) Name() string { return "software" }

func (d *SoftwareDevice) CreateTexture(label string, format gputypes.TextureFormat, size image.Point) (sharedimage.Texture, error) {
	bpp := sharedimage.BytesPerPixel(format)
	if bpp == 0 || size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("texture: create %q: unsupported %v %v", label, format, size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	t := &softwareTexture{
		id:     d.nextID,
		label:  label,
		format: format,
		width:  size.X,
		height: size.Y,
		data:   make([]byte, bpp*size.X*size.Y),
	}
	d.live[t.id] = t
	return t, nil
}

func (d *SoftwareDevice) WriteTexture(tex sharedimage.Texture, src *sharedimage.Pixmap) error {
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	if src.Format() != t.format || src.Size() != image.Pt(t.width, t.height) {
		return fmt.Errorf("texture: write %v %v into %v %dx%d", src.Format(), src.Size(), t.format, t.width, t.height)
	}
	return t.UpdateData(src.Packed())
}

func (d *SoftwareDevice) ReadTexture(tex sharedimage.Texture, dst *sharedimage.Pixmap) error {
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	if dst.Format() != t.format || dst.Size() != image.Pt(t.width, t.height) {
		return fmt.Errorf("texture: read %v %dx%d into %v %v", t.format, t.width, t.height, dst.Format(), dst.Size())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return dst.SetPacked(t.data)
}

func (d *SoftwareDevice) ReleaseTexture(tex sharedimage.Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.live, tex.ServiceID())
}

// LiveTextures returns the number of textures not yet released.
func (d *SoftwareDevice) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *SoftwareDevice) lookup(tex sharedimage.Texture) (*softwareTexture, error) {
	t, ok := tex.(*softwareTexture)
	if !ok {
		return nil, fmt.Errorf("texture: %T is not a software texture", tex)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live[t.id] != t {
		return nil, fmt.Errorf("texture: %q used after release", t.label)
	}
	return t, nil
}

// softwareTexture holds tightly packed texels.
type softwareTexture struct {
	id     uint64
	label  string
	format gputypes.TextureFormat
	width  int
	height int

	mu   sync.Mutex
	data []byte
}

var (
	_ gpucontext.TextureUpdater       = (*softwareTexture)(nil)
	_ gpucontext.TextureRegionUpdater = (*softwareTexture)(nil)
)

func (t *softwareTexture) Width() int                     { return t.width }
func (t *softwareTexture) Height() int                    { return t.height }
func (t *softwareTexture) Format() gputypes.TextureFormat { return t.format }
func (t *softwareTexture) ServiceID() uint64              { return t.id }

// UpdateData replaces all texels.
func (t *softwareTexture) UpdateData(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(data) != len(t.data) {
		return fmt.Errorf("texture: update with %d bytes, want %d", len(data), len(t.data))
	}
	copy(t.data, data)
	return nil
}

// UpdateRegion replaces the texels of one rectangle from packed rows.
func (t *softwareTexture) UpdateRegion(x, y, w, h int, data []byte) error {
	r := image.Rect(x, y, x+w, y+h)
	if r.Empty() || !r.In(image.Rect(0, 0, t.width, t.height)) {
		return fmt.Errorf("texture: region %v outside %dx%d", r, t.width, t.height)
	}
	bpp := sharedimage.BytesPerPixel(t.format)
	rb := w * bpp
	if len(data) != rb*h {
		return fmt.Errorf("texture: region update with %d bytes, want %d", len(data), rb*h)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stride := t.width * bpp
	for row := 0; row < h; row++ {
		off := (y+row)*stride + x*bpp
		copy(t.data[off:off+rb], data[row*rb:(row+1)*rb])
	}
	return nil
}

func (t *softwareTexture) snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.data...)
}
