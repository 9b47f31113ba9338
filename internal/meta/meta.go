// Package meta defines the object metadata attributes the pipeline records
// alongside each governed object: whether the at-rest form is compressed,
// with which method, and the size and checksum of the raw content.
package meta

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/zeebo/blake3"
)

// Attribute names as stored in the object store's metadata namespace.
const (
	AttrCompressed           = "is_compressed"
	AttrCompressionMethod    = "compression_method"
	AttrUncompressedSize     = "uncompressed_size"
	AttrUncompressedChecksum = "uncompressed_checksum"
	AttrOriginalName         = "original_name"
)

// Attrs holds the at-rest metadata for one governed object.
type Attrs struct {
	// Compressed reports whether the stored form is compressed.
	Compressed bool `yaml:"is_compressed"`

	// Method names the compression algorithm ("gzip", "zstd"); empty for
	// raw objects.
	Method string `yaml:"compression_method,omitempty"`

	// UncompressedSize is the byte length of the raw content.
	UncompressedSize int64 `yaml:"uncompressed_size"`

	// UncompressedChecksum is the hex BLAKE3 digest of the raw content.
	UncompressedChecksum string `yaml:"uncompressed_checksum"`

	// OriginalName records the object's registered filename, which stays
	// stable across transforms even though the stored form changes.
	OriginalName string `yaml:"original_name,omitempty"`
}

// ToMap flattens the attributes into a string map suitable for object-store
// user metadata.
func (a *Attrs) ToMap() map[string]string {
	m := map[string]string{
		AttrCompressed:           strconv.FormatBool(a.Compressed),
		AttrUncompressedSize:     strconv.FormatInt(a.UncompressedSize, 10),
		AttrUncompressedChecksum: a.UncompressedChecksum,
	}
	if a.Method != "" {
		m[AttrCompressionMethod] = a.Method
	}
	if a.OriginalName != "" {
		m[AttrOriginalName] = a.OriginalName
	}
	return m
}

// FromMap reconstructs attributes from a string map. Missing keys leave
// zero values; a malformed boolean or size is an error.
func FromMap(m map[string]string) (*Attrs, error) {
	a := &Attrs{
		Method:               m[AttrCompressionMethod],
		UncompressedChecksum: m[AttrUncompressedChecksum],
		OriginalName:         m[AttrOriginalName],
	}

	if val, ok := m[AttrCompressed]; ok {
		compressed, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("malformed %s attribute: %q", AttrCompressed, val)
		}
		a.Compressed = compressed
	}

	if val, ok := m[AttrUncompressedSize]; ok {
		size, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed %s attribute: %q", AttrUncompressedSize, val)
		}
		a.UncompressedSize = size
	}

	return a, nil
}

// ChecksumFile returns the hex BLAKE3 digest of the file's content.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
