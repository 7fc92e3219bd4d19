package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGoVersion(t *testing.T) {
	cases := []struct {
		in      string
		want    GoVersion
		wantErr bool
	}{
		{"go1.21.4", GoVersion{1, 21, 4}, false},
		{"go1.17", GoVersion{1, 17, 0}, false},
		{"go1.16.15", GoVersion{1, 16, 15}, false},
		{"notago", GoVersion{}, true},
	}
	for _, c := range cases {
		got, err := ParseGoVersion(c.in)
		if c.wantErr {
			assert.Errorf(t, err, "ParseGoVersion(%q)", c.in)
			continue
		}
		assert.NoErrorf(t, err, "ParseGoVersion(%q)", c.in)
		assert.Equal(t, c.want, got)
	}
}

func TestGoVersionAfter(t *testing.T) {
	v, err := ParseGoVersion("go1.17.0")
	assert.NoError(t, err)
	assert.False(t, v.After(1, 17), "go1.17.0 should not be after 1.17")

	v, err = ParseGoVersion("go1.18.2")
	assert.NoError(t, err)
	assert.True(t, v.After(1, 17), "go1.18.2 should be after 1.17")

	v, err = ParseGoVersion("go1.16.9")
	assert.NoError(t, err)
	assert.False(t, v.After(1, 17), "go1.16.9 should not be after 1.17")
}
