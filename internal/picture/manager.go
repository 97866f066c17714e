package picture

import "fmt"

// Role names the part a picture plays during one encode pass.
type Role int

const (
	RoleCurrent  Role = iota // filtered reconstruction being produced
	RoleForward              // most recent reference
	RoleBackward             // second most recent reference
	RoleOriginal             // input samples
	RoleMode                 // unfiltered reconstruction read by mode decision
	numRoles
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleCurrent:
		return "current"
	case RoleForward:
		return "forward"
	case RoleBackward:
		return "backward"
	case RoleOriginal:
		return "original"
	case RoleMode:
		return "mode"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Config is the geometry shared by every managed picture. Width and Height
// are the coded size, already aligned to the minimum CU size.
type Config struct {
	Width    int
	Height   int
	Pad      int
	Format   ChromaFormat
	BitDepth int
}

// Source is raw input planes. Chroma planes are ignored for 4:0:0.
type Source struct {
	Planes  [3][]uint16
	Strides [3]int
	Width   int
	Height  int
}

// Manager owns every picture of the encoder and lends views by role.
type Manager struct {
	cfg  Config
	pics [numRoles]*Picture
	free []*Picture
}

// NewManager creates a Manager. No picture is allocated until Begin.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Config returns the managed geometry.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) alloc() *Picture {
	if n := len(m.free); n > 0 {
		p := m.free[n-1]
		m.free = m.free[:n-1]
		return p
	}
	return New(m.cfg.Width, m.cfg.Height, m.cfg.Pad, m.cfg.Format, m.cfg.BitDepth)
}

// Begin prepares the current, mode and original pictures for the frame
// with the given picture order count.
func (m *Manager) Begin(poc int) {
	for _, r := range []Role{RoleCurrent, RoleMode, RoleOriginal} {
		if m.pics[r] == nil {
			m.pics[r] = m.alloc()
		}
		m.pics[r].POC = poc
	}
}

// Picture returns the picture playing role r, or nil.
func (m *Manager) Picture(r Role) *Picture { return m.pics[r] }

// Plane returns component comp of the picture playing role r. The zero
// Plane is returned when no such picture or component exists.
func (m *Manager) Plane(r Role, comp int) Plane {
	p := m.pics[r]
	if p == nil || comp >= p.NumPlanes() {
		return Plane{}
	}
	return p.Planes[comp]
}

// LoadOriginal copies src into the original picture, replicating the last
// column and row out to the coded size.
func (m *Manager) LoadOriginal(src *Source) error {
	orig := m.pics[RoleOriginal]
	if orig == nil {
		return fmt.Errorf("picture: LoadOriginal before Begin")
	}
	if src.Width > m.cfg.Width || src.Height > m.cfg.Height || src.Width <= 0 || src.Height <= 0 {
		return fmt.Errorf("picture: source %dx%d does not fit coded size %dx%d",
			src.Width, src.Height, m.cfg.Width, m.cfg.Height)
	}
	for c := 0; c < orig.NumPlanes(); c++ {
		dst := orig.Planes[c]
		sw, sh := src.Width, src.Height
		if c > 0 {
			sw, sh = (sw+1)/2, (sh+1)/2
		}
		stride := src.Strides[c]
		if stride < sw {
			return fmt.Errorf("picture: source plane %d stride %d below width %d", c, stride, sw)
		}
		if len(src.Planes[c]) < (sh-1)*stride+sw {
			return fmt.Errorf("picture: source plane %d too short", c)
		}
		for y := 0; y < dst.Height; y++ {
			sy := min(y, sh-1)
			row := dst.Row(y)
			copy(row[:sw], src.Planes[c][sy*stride:sy*stride+sw])
			for x := sw; x < dst.Width; x++ {
				row[x] = row[sw-1]
			}
		}
	}
	ExpandBorders(orig)
	return nil
}

// Finish publishes the current picture as the forward reference, shifting
// the previous forward reference to backward and recycling the oldest.
func (m *Manager) Finish() {
	if old := m.pics[RoleBackward]; old != nil {
		m.free = append(m.free, old)
	}
	m.pics[RoleBackward] = m.pics[RoleForward]
	m.pics[RoleForward] = m.pics[RoleCurrent]
	m.pics[RoleCurrent] = nil
}

// Refs returns the available reference pictures, most recent first.
func (m *Manager) Refs() []*Picture {
	var refs []*Picture
	for _, r := range []Role{RoleForward, RoleBackward} {
		if m.pics[r] != nil {
			refs = append(refs, m.pics[r])
		}
	}
	return refs
}

// Close releases every picture.
func (m *Manager) Close() {
	for i, p := range m.pics {
		if p != nil {
			p.Release()
			m.pics[i] = nil
		}
	}
	for _, p := range m.free {
		p.Release()
	}
	m.free = nil
}
