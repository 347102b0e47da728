package domain

// DefaultColor is used for a client the registry does not know about.
const DefaultColor = "#888888"

// Palette is the fixed ordered sequence of cursor colors.
type Palette []string

// DefaultPalette returns the standard twelve cursor colors.
func DefaultPalette() Palette {
	return Palette{
		"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
		"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
		"#BB8FCE", "#85C1E9", "#F8B500", "#00CED1",
	}
}

// At returns the color for the n-th assignment (zero based), wrapping around.
func (p Palette) At(n uint64) string {
	if len(p) == 0 {
		return DefaultColor
	}
	return p[n%uint64(len(p))]
}
