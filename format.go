package sharedimage

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// ColorSpace identifies how pixel values of an image are interpreted.
type ColorSpace uint8

const (
	ColorSpaceSRGB ColorSpace = iota
	ColorSpaceLinearSRGB
	ColorSpaceDisplayP3
	ColorSpaceRec709
	ColorSpaceRec2020
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceSRGB:
		return "sRGB"
	case ColorSpaceLinearSRGB:
		return "LinearSRGB"
	case ColorSpaceDisplayP3:
		return "DisplayP3"
	case ColorSpaceRec709:
		return "Rec709"
	case ColorSpaceRec2020:
		return "Rec2020"
	default:
		return fmt.Sprintf("ColorSpace(%d)", c)
	}
}

// SurfaceOrigin is the location of row zero.
type SurfaceOrigin uint8

const (
	OriginTopLeft SurfaceOrigin = iota
	OriginBottomLeft
)

func (o SurfaceOrigin) String() string {
	if o == OriginBottomLeft {
		return "BottomLeft"
	}
	return "TopLeft"
}

// BytesPerPixel returns the size of one texel of a color format, or 0 for
// compressed, depth and unknown formats.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint:
		return 1
	case gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm,
		gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm,
		gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint:
		return 2
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm,
		gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatRGBA8Snorm, gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRGB10A2Uint, gputypes.TextureFormatRGB10A2Unorm,
		gputypes.TextureFormatRG11B10Ufloat, gputypes.TextureFormatRGB9E5Ufloat:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// HasAlpha reports whether an 8-bit four-channel format carries alpha
// that an RGB emulation view would ignore.
func HasAlpha(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true
	}
	return false
}

// MinStride returns the tightly packed row size of an image.
func MinStride(f gputypes.TextureFormat, width int) int {
	return BytesPerPixel(f) * width
}

// EstimatedSize returns the byte size of a tightly packed image, or 0 when
// the format is not a plain color format or the size is empty.
func EstimatedSize(f gputypes.TextureFormat, size image.Point) uint64 {
	if size.X <= 0 || size.Y <= 0 {
		return 0
	}
	return uint64(BytesPerPixel(f)) * uint64(size.X) * uint64(size.Y)
}

// Descriptor carries the immutable attributes of one shared image.
type Descriptor struct {
	Mailbox    Mailbox
	Format     gputypes.TextureFormat
	Size       image.Point
	ColorSpace ColorSpace
	Origin     SurfaceOrigin
	AlphaMode  gputypes.CompositeAlphaMode
	Usage      Usage
}

// Validate checks that d names a mailbox and a non-empty image in a
// supported color format.
func (d Descriptor) Validate() error {
	switch {
	case d.Mailbox.IsZero():
		return fmt.Errorf("%w: zero mailbox", ErrInvalidDescriptor)
	case d.Size.X <= 0 || d.Size.Y <= 0:
		return fmt.Errorf("%w: size %v", ErrInvalidDescriptor, d.Size)
	case BytesPerPixel(d.Format) == 0:
		return fmt.Errorf("%w: format %v", ErrInvalidDescriptor, d.Format)
	}
	return nil
}
