package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New("", ".fastq")
	assert.Error(t, err)

	_, err = New("/iplant", "")
	assert.Error(t, err)

	_, err = New("/iplant", "[")
	assert.Error(t, err)
}

func TestGoverned_SuffixPattern(t *testing.T) {
	g, err := New("/a/iplant", ".fastq")
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"/a/iplant/s1.fastq", true},
		{"/a/iplant/run1/s2.fastq", true},
		{"/a/iplant/s1.txt", false},
		// Sibling directory sharing a name prefix is outside the root.
		{"/a/iplant2/s1.fastq", false},
		{"/a/iplantx/deep/s1.fastq", false},
		// The root itself is not an object.
		{"/a/iplant", false},
		{"/a/other/s1.fastq", false},
		{"", false},
		// A bare ".fastq" filename matches the suffix but has an empty
		// stem; not a governed object.
		{"/a/iplant/.fastq", false},
		// Path cleaning happens before the prefix check.
		{"/a/iplant/../iplant/s1.fastq", true},
		{"/a/iplant/../other/s1.fastq", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Governed(tt.path), "path %q", tt.path)
	}
}

func TestGoverned_GlobPattern(t *testing.T) {
	g, err := New("/a/iplant", "*.fastq")
	require.NoError(t, err)

	assert.True(t, g.Governed("/a/iplant/s1.fastq"))
	assert.True(t, g.Governed("/a/iplant/run1/s2.fastq"))
	assert.False(t, g.Governed("/a/iplant/s1.fastq.gz"))
	assert.False(t, g.Governed("/a/iplant/s1.txt"))
}

func TestGoverned_SingleCharGlob(t *testing.T) {
	g, err := New("/a/iplant", "run-??.fastq")
	require.NoError(t, err)

	assert.True(t, g.Governed("/a/iplant/run-01.fastq"))
	assert.False(t, g.Governed("/a/iplant/run-1.fastq"))
	assert.False(t, g.Governed("/a/iplant/run-001.fastq"))
}

func TestRoot_Cleaned(t *testing.T) {
	g, err := New("/a/iplant/", ".fastq")
	require.NoError(t, err)
	assert.Equal(t, "/a/iplant", g.Root())
	assert.True(t, g.Governed("/a/iplant/s1.fastq"))
}
