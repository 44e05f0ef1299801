package sharedimage

// GLFlavor distinguishes the GL texture representations.
type GLFlavor uint8

const (
	GLValidating GLFlavor = iota
	GLPassthrough
	GLRGBEmulation
)

func (f GLFlavor) String() string {
	switch f {
	case GLPassthrough:
		return "Passthrough"
	case GLRGBEmulation:
		return "RGBEmulation"
	}
	return "Validating"
}

// GLTextureAccess is implemented by backings to serve GL texture access.
type GLTextureAccess interface {
	Texture() Texture
	BeginAccess(mode AccessMode) bool
	EndAccess()
}

// GLTextureRepresentation exposes a backing as a GL texture.
type GLTextureRepresentation struct {
	RepresentationBase
	flavor GLFlavor
	access GLTextureAccess
}

// NewGLTextureRepresentation binds a GL texture view of b. A nil manager
// creates an inner representation holding no reference.
func NewGLTextureRepresentation(m *Manager, b Backing, t *MemoryTypeTracker, flavor GLFlavor, access GLTextureAccess) *GLTextureRepresentation {
	r := &GLTextureRepresentation{flavor: flavor, access: access}
	r.init(m, b, t, releaseFunc(access))
	return r
}

// Flavor returns which GL decoder the texture is meant for.
func (r *GLTextureRepresentation) Flavor() GLFlavor { return r.flavor }

// IsPassthrough reports whether the texture is for the passthrough decoder.
func (r *GLTextureRepresentation) IsPassthrough() bool { return r.flavor == GLPassthrough }

// Texture returns the GL texture.
func (r *GLTextureRepresentation) Texture() Texture { return r.access.Texture() }

// GLScopedAccess is an open GL access. End it exactly once.
type GLScopedAccess struct {
	scope
	rep  *GLTextureRepresentation
	mode AccessMode
}

// Texture returns the texture being accessed.
func (a *GLScopedAccess) Texture() Texture { return a.rep.Texture() }

// Mode returns the granted access mode.
func (a *GLScopedAccess) Mode() AccessMode { return a.mode }

// BeginScopedAccess starts GL access. It returns nil when the image is
// uninitialized and allowUncleared is false, or when the backing refuses.
func (r *GLTextureRepresentation) BeginScopedAccess(mode AccessMode, allowUncleared bool) *GLScopedAccess {
	if !r.allowAccess("GLTexture.BeginScopedAccess", allowUncleared) {
		return nil
	}
	if !r.access.BeginAccess(mode) {
		return nil
	}
	return &GLScopedAccess{scope: scope{end: r.access.EndAccess}, rep: r, mode: mode}
}
