package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPalette_AtWrapsAround(t *testing.T) {
	p := DefaultPalette()
	assert.Len(t, p, 12)

	assert.Equal(t, "#FF6B6B", p.At(0))
	assert.Equal(t, "#00CED1", p.At(11))
	assert.Equal(t, "#FF6B6B", p.At(12))
	assert.Equal(t, "#4ECDC4", p.At(13))
}

func TestPalette_EmptyFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultColor, Palette(nil).At(3))
}
