package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packfs/packfs/pkg/errors"
)

// fastqSample is a small but realistic payload: repetitive enough to
// compress, binary-safe to compare byte for byte.
var fastqSample = bytes.Repeat([]byte("@SEQ_ID\nGATTTGGGGTTCAAAGCAGTATCGATCAAATAGTAAATCCATTTGTTCAACTCACAGTTT\n+\n!''*((((***+))%%%++)(%%%%).1***-+*''))**55CCF>>>>>>CCCCCCC65\n"), 64)

func writeInput(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "input")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine("lz4", 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmGzip, engine.Algorithm())
	assert.Equal(t, FormatGzip, engine.TargetFormat())

	engine, err = NewEngine(AlgorithmZstd, 3)
	require.NoError(t, err)
	assert.Equal(t, FormatZstd, engine.TargetFormat())
}

func TestRoundTrip(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmGzip, AlgorithmZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			dir := t.TempDir()
			engine, err := NewEngine(algorithm, 0)
			require.NoError(t, err)

			raw := writeInput(t, dir, fastqSample)
			compressed := filepath.Join(dir, "compressed")
			restored := filepath.Join(dir, "restored")

			bytesIn, bytesOut, err := engine.Compress(raw, compressed)
			require.NoError(t, err)
			assert.Equal(t, int64(len(fastqSample)), bytesIn)
			assert.Less(t, bytesOut, bytesIn, "repetitive input should shrink")

			format, err := Detect(compressed)
			require.NoError(t, err)
			assert.Equal(t, engine.TargetFormat(), format)

			_, restoredSize, err := engine.Decompress(compressed, restored)
			require.NoError(t, err)
			assert.Equal(t, int64(len(fastqSample)), restoredSize)

			got, err := os.ReadFile(restored)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(fastqSample, got), "round trip must be byte-exact")
		})
	}
}

func TestCompress_InputNotMutated(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, fastqSample)
	_, _, err = engine.Compress(raw, filepath.Join(dir, "out"))
	require.NoError(t, err)

	got, err := os.ReadFile(raw)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(fastqSample, got), "input file must not change")
}

func TestCompress_RejectsCompressedInput(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, fastqSample)
	compressed := filepath.Join(dir, "compressed")
	_, _, err = engine.Compress(raw, compressed)
	require.NoError(t, err)

	// A second compress over the already-compressed bytes must refuse, so
	// a redundant trigger cannot stack transforms.
	_, _, err = engine.Compress(compressed, filepath.Join(dir, "double"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFormatMismatch))
	assert.NoFileExists(t, filepath.Join(dir, "double"))
}

func TestDecompress_RejectsRawInput(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, fastqSample)
	out := filepath.Join(dir, "out")
	_, _, err = engine.Decompress(raw, out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFormatMismatch))
	assert.NoFileExists(t, out)
}

func TestDecompress_RejectsOtherAlgorithm(t *testing.T) {
	dir := t.TempDir()
	gz, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)
	zst, err := NewEngine(AlgorithmZstd, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, fastqSample)
	gzipped := filepath.Join(dir, "gzipped")
	_, _, err = gz.Compress(raw, gzipped)
	require.NoError(t, err)

	_, _, err = zst.Decompress(gzipped, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFormatMismatch))
	assert.Contains(t, strings.ToLower(err.Error()), "gzip")
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"raw text", []byte("@SEQ_ID\nGATT\n"), FormatRaw},
		{"empty", nil, FormatRaw},
		{"one byte", []byte{0x1f}, FormatRaw},
		{"gzip magic", []byte{0x1f, 0x8b, 0x08, 0x00}, FormatGzip},
		{"zstd magic", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, FormatZstd},
		{"near miss", []byte{0x1f, 0x8c, 0x00, 0x00}, FormatRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			require.NoError(t, os.WriteFile(path, tt.data, 0o600))
			format, err := Detect(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

func TestCompress_RefusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, fastqSample)
	out := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(out, []byte("occupied"), 0o600))

	_, _, err = engine.Compress(raw, out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTransformFailure))

	// The pre-existing file is left alone.
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "occupied", string(got))
}

func TestRoundTrip_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewEngine(AlgorithmGzip, 0)
	require.NoError(t, err)

	raw := writeInput(t, dir, nil)
	compressed := filepath.Join(dir, "compressed")
	restored := filepath.Join(dir, "restored")

	bytesIn, _, err := engine.Compress(raw, compressed)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bytesIn)

	_, restoredSize, err := engine.Decompress(compressed, restored)
	require.NoError(t, err)
	assert.Equal(t, int64(0), restoredSize)
}
