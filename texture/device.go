// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package texture

import (
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
)

// Device allocates and transfers the GPU textures behind texture backings.
type Device interface {
	// Name identifies the device in logs and memory dumps.
	Name() string

	CreateTexture(label string, format gputypes.TextureFormat, size image.Point) (sharedimage.Texture, error)

	// WriteTexture uploads the whole of src into tex.
	WriteTexture(tex sharedimage.Texture, src *sharedimage.Pixmap) error

	// ReadTexture reads the whole of tex back into dst.
	ReadTexture(tex sharedimage.Texture, dst *sharedimage.Pixmap) error

	ReleaseTexture(tex sharedimage.Texture)
}

// textureUsage is what every backing texture is created with: it must be
// sampled, rendered to and copied both ways for memory transfer.
const textureUsage = gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment
