package sharedimage

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// DawnAccess is implemented by backings to serve WebGPU texture access.
type DawnAccess interface {
	BeginAccess(usage gputypes.TextureUsage) (Texture, bool)
	EndAccess()
}

// DawnRepresentation exposes a backing as a WebGPU texture on a device.
type DawnRepresentation struct {
	RepresentationBase
	device gpucontext.DeviceProvider
	access DawnAccess
}

// NewDawnRepresentation binds a WebGPU view of b for device.
func NewDawnRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, device gpucontext.DeviceProvider, access DawnAccess) *DawnRepresentation {
	r := &DawnRepresentation{device: device, access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// Device returns the device the representation was produced for.
func (r *DawnRepresentation) Device() gpucontext.DeviceProvider { return r.device }

// IsWriteUsage reports whether a WebGPU texture usage can modify texels.
func IsWriteUsage(u gputypes.TextureUsage) bool {
	return u&(gputypes.TextureUsageCopyDst|gputypes.TextureUsageStorageBinding|gputypes.TextureUsageRenderAttachment) != 0
}

// DawnScopedAccess is an open WebGPU access.
type DawnScopedAccess struct {
	scope
	texture Texture
	usage   gputypes.TextureUsage
}

// Texture returns the texture for the duration of the access.
func (a *DawnScopedAccess) Texture() Texture { return a.texture }

// Usage returns the usage the access was begun with.
func (a *DawnScopedAccess) Usage() gputypes.TextureUsage { return a.usage }

// BeginScopedAccess starts WebGPU access with the given usage.
func (r *DawnRepresentation) BeginScopedAccess(usage gputypes.TextureUsage, allowUncleared bool) *DawnScopedAccess {
	if !r.allowAccess("Dawn.BeginScopedAccess", allowUncleared) {
		return nil
	}
	tex, ok := r.access.BeginAccess(usage)
	if !ok {
		return nil
	}
	return &DawnScopedAccess{scope: scope{end: r.access.EndAccess}, texture: tex, usage: usage}
}
