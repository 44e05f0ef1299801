package sharedimage

import (
	"fmt"
	"strings"
)

// Usage is a bitmask declaring how a shared image will be consumed.
// A backing only serves the capabilities its usage advertises.
type Usage uint32

const (
	UsageGLES2 Usage = 1 << iota
	UsageGLES2FramebufferHint
	UsageRaster
	UsageDisplay
	UsageScanout
	UsageOOPRasterization
	UsageWebGPU
	UsageProtected
	UsageConcurrentReadWrite
	UsageVideoDecode
	UsageWebGPUSwapChainTexture
	UsageMacOSVideoToolbox
	UsageMipmap
	UsageCPUWrite
	UsageRawDraw
	UsageRasterDelegatedCompositing
	UsageCPUUpload

	usageLast = UsageCPUUpload
)

var usageNames = [...]string{
	"Gles2",
	"Gles2FramebufferHint",
	"Raster",
	"Display",
	"Scanout",
	"OopRasterization",
	"WebGPU",
	"Protected",
	"ConcurrentReadWrite",
	"VideoDecode",
	"WebGPUSwapChainTexture",
	"MacOSVideoToolbox",
	"Mipmap",
	"CpuWrite",
	"RawDraw",
	"RasterDelegatedCompositing",
	"CpuUpload",
}

// Has reports whether all bits of flags are set.
func (u Usage) Has(flags Usage) bool { return u&flags == flags }

// HasAny reports whether any bit of flags is set.
func (u Usage) HasAny(flags Usage) bool { return u&flags != 0 }

// String returns a "|"-separated label such as "Display|Scanout".
// It is used for logs and memory dumps.
func (u Usage) String() string {
	if u == 0 {
		return "None"
	}
	var parts []string
	for i, name := range usageNames {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := u &^ (usageLast<<1 - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("Unknown(0x%X)", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
