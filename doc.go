// Package sharedimage shares GPU images between graphics APIs and
// processes through an opaque mailbox name.
//
// # Overview
//
// A shared image is created once by a producer and registered with a
// Manager under a Mailbox. Consumers then ask the Manager for a typed
// representation of the same image: a GL texture, a 2D canvas, a WebGPU
// texture, a display overlay or plain CPU memory. Each representation
// holds a reference on the image; the image is destroyed when the last
// reference is closed.
//
// # Quick Start
//
//	import "github.com/gogpu/sharedimage"
//
//	m := sharedimage.NewManager()
//	ref := m.Register(backing, tracker)
//	defer ref.Close()
//
//	gl := m.ProduceGLTexture(backing.Mailbox(), clientTracker)
//	if gl == nil {
//		// The backing does not support GL access.
//	}
//	defer gl.Close()
//
//	access := gl.BeginScopedAccess(sharedimage.AccessModeRead, false)
//	// use access.Texture()
//	access.End()
//
// # Capabilities
//
// A Backing implements only the producer interfaces its usage promises
// (GLTextureProducer, SkiaProducer, DawnProducer and so on). Asking for a
// capability a backing lacks is an ordinary failure: the Manager logs it
// and returns nil.
//
// # Architecture
//
// The module is organized into:
//   - sharedimage: Manager, Backing, representations, usage and accounting
//   - shm: backings over shared memory regions
//   - texture: GPU texture backings on a software or wgpu device
//   - compound: shared memory backings with a lazily allocated GPU copy
//   - factory: backing factory selection and the per-client entry points
//   - memdump: a memory dump sink with a text report
//   - service: configuration and wiring of one GPU process
//
// # Logging
//
// The package is silent by default. Call SetLogger to route diagnostics,
// including refused accesses and leaked images, to a slog.Logger.
//
// # Threading
//
// A Manager created with WithThreadSafe serializes every operation.
// Otherwise all calls must come from one goroutine.
package sharedimage

// Version information
const (
	// Version is the current version of the module
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
