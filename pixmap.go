package sharedimage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

// Pixmap is a CPU view of image pixels in a GPU texture format. The pixel
// memory may be owned by the pixmap or borrowed from a shared memory region.
type Pixmap struct {
	format gputypes.TextureFormat
	width  int
	height int
	stride int
	data   []byte
}

// NewPixmap allocates a tightly packed pixmap.
func NewPixmap(format gputypes.TextureFormat, width, height int) *Pixmap {
	stride := MinStride(format, width)
	return &Pixmap{
		format: format,
		width:  width,
		height: height,
		stride: stride,
		data:   make([]byte, stride*height),
	}
}

// WrapPixmap returns a pixmap over existing memory without copying.
// A zero stride means tightly packed rows.
func WrapPixmap(format gputypes.TextureFormat, width, height, stride int, data []byte) (*Pixmap, error) {
	bpp := BytesPerPixel(format)
	if bpp == 0 {
		return nil, fmt.Errorf("sharedimage: pixmap format %v has no fixed texel size", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("sharedimage: pixmap size %dx%d", width, height)
	}
	if stride == 0 {
		stride = bpp * width
	}
	if stride < bpp*width {
		return nil, fmt.Errorf("sharedimage: stride %d shorter than row of %d bytes", stride, bpp*width)
	}
	need := stride*(height-1) + bpp*width
	if len(data) < need {
		return nil, fmt.Errorf("sharedimage: pixmap needs %d bytes, have %d", need, len(data))
	}
	return &Pixmap{format: format, width: width, height: height, stride: stride, data: data[:need]}, nil
}

// Format returns the texel format.
func (p *Pixmap) Format() gputypes.TextureFormat { return p.format }

// Width returns the width in pixels.
func (p *Pixmap) Width() int { return p.width }

// Height returns the height in pixels.
func (p *Pixmap) Height() int { return p.height }

// Size returns the dimensions as a point.
func (p *Pixmap) Size() image.Point { return image.Pt(p.width, p.height) }

// Bounds returns the pixmap rectangle anchored at the origin.
func (p *Pixmap) Bounds() image.Rectangle { return image.Rect(0, 0, p.width, p.height) }

// Stride returns the distance in bytes between rows.
func (p *Pixmap) Stride() int { return p.stride }

// RowBytes returns the number of meaningful bytes in one row.
func (p *Pixmap) RowBytes() int { return MinStride(p.format, p.width) }

// Data returns the raw pixel memory including row padding.
func (p *Pixmap) Data() []byte { return p.data }

// Row returns the meaningful bytes of row y.
func (p *Pixmap) Row(y int) []byte {
	off := y * p.stride
	return p.data[off : off+p.RowBytes()]
}

// Packed returns the pixels with rows tightly packed. When the pixmap has
// no padding the returned slice aliases the pixmap memory.
func (p *Pixmap) Packed() []byte {
	rb := p.RowBytes()
	if p.stride == rb {
		return p.data[:rb*p.height]
	}
	out := make([]byte, rb*p.height)
	for y := 0; y < p.height; y++ {
		copy(out[y*rb:(y+1)*rb], p.Row(y))
	}
	return out
}

// SetPacked replaces the pixels from tightly packed rows.
func (p *Pixmap) SetPacked(src []byte) error {
	rb := p.RowBytes()
	if len(src) != rb*p.height {
		return fmt.Errorf("sharedimage: packed data is %d bytes, want %d", len(src), rb*p.height)
	}
	for y := 0; y < p.height; y++ {
		copy(p.Row(y), src[y*rb:(y+1)*rb])
	}
	return nil
}

// Image returns a drawable view over the pixmap memory for 8-bit color
// formats, or nil when the format has no image.Image mapping.
func (p *Pixmap) Image() draw.Image {
	switch p.format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return &image.RGBA{Pix: p.data, Stride: p.stride, Rect: p.Bounds()}
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return &BGRA{Pix: p.data, Stride: p.stride, Rect: p.Bounds()}
	case gputypes.TextureFormatR8Unorm:
		return &image.Gray{Pix: p.data, Stride: p.stride, Rect: p.Bounds()}
	}
	return nil
}

// CopyFrom copies src into p. Pixmaps of the same format are copied row by
// row; otherwise both must have an Image mapping and pixels are converted.
func (p *Pixmap) CopyFrom(src *Pixmap) error {
	if src.width != p.width || src.height != p.height {
		return fmt.Errorf("sharedimage: copy %dx%d into %dx%d", src.width, src.height, p.width, p.height)
	}
	if src.format == p.format {
		for y := 0; y < p.height; y++ {
			copy(p.Row(y), src.Row(y))
		}
		return nil
	}
	dst, s := p.Image(), src.Image()
	if dst == nil || s == nil {
		return fmt.Errorf("sharedimage: cannot convert %v to %v", src.format, p.format)
	}
	draw.Copy(dst, image.Point{}, s, s.Bounds(), draw.Src, nil)
	return nil
}

// Fill sets every pixel to c. Formats without an Image mapping are zeroed.
func (p *Pixmap) Fill(c color.Color) {
	img := p.Image()
	if img == nil {
		clear(p.data)
		return
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// BGRA is an in-memory image whose pixels are stored as B, G, R, A bytes.
type BGRA struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (b *BGRA) ColorModel() color.Model { return color.RGBAModel }

func (b *BGRA) Bounds() image.Rectangle { return b.Rect }

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (b *BGRA) PixOffset(x, y int) int {
	return (y-b.Rect.Min.Y)*b.Stride + (x-b.Rect.Min.X)*4
}

func (b *BGRA) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(b.Rect)) {
		return color.RGBA{}
	}
	i := b.PixOffset(x, y)
	s := b.Pix[i : i+4 : i+4]
	return color.RGBA{R: s[2], G: s[1], B: s[0], A: s[3]}
}

func (b *BGRA) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(b.Rect)) {
		return
	}
	i := b.PixOffset(x, y)
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	s := b.Pix[i : i+4 : i+4]
	s[0], s[1], s[2], s[3] = c1.B, c1.G, c1.R, c1.A
}
