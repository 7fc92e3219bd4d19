package dwarfreader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombine(t *testing.T) {
	cases := []struct {
		a, b, want TypeClass
	}{
		{kNone, kInteger, kInteger},
		{kInteger, kNone, kInteger},
		{kInteger, kInteger, kInteger},
		{kInteger, kFloat, kMixed},
		{kMixed, kInteger, kMixed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Combine(c.a, c.b))
	}
}

func TestSnapUpToMultiple(t *testing.T) {
	cases := []struct{ x, size, want int }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SnapUpToMultiple(c.x, c.size))
	}
}

func TestRegisterNameString(t *testing.T) {
	assert.Equal(t, "RAX", kRAX.String())
	assert.Equal(t, "UnknownRegister", RegisterName(999).String())
}

func TestGolangRegABIModelArgPlacement(t *testing.T) {
	model := NewGolangRegABIModel()
	loc, err := resolveLocationForReg(kInteger, 8, 8, 1, false, model)
	require.NoError(t, err)
	assert.Equal(t, KRegister, loc.LocType)
	require.Len(t, loc.Registers, 1)
	assert.Equal(t, kRAX, loc.Registers[0], "expected first int arg in RAX")
}
