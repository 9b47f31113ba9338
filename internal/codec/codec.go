// Package codec implements the transform engine: byte-exact compression and
// decompression of a local file into a second local file.
//
// The engine never trusts the caller's stated action. It sniffs the input's
// format marker and refuses to decompress data that is not recognizably
// compressed, and refuses to compress data that already carries the target
// marker, so a redundant trigger cannot stack transforms or corrupt output.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/packfs/packfs/pkg/errors"
)

// Algorithm selects the compressed form.
type Algorithm string

const (
	AlgorithmGzip Algorithm = "gzip"
	AlgorithmZstd Algorithm = "zstd"
)

// Format is the detected on-disk format of a file.
type Format string

const (
	FormatRaw  Format = "raw"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect sniffs the format marker at the start of the file. Files too short
// to carry a marker are raw.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatRaw, err
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatRaw, err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return FormatZstd, nil
	case bytes.HasPrefix(header, gzipMagic):
		return FormatGzip, nil
	default:
		return FormatRaw, nil
	}
}

// Compressed reports whether the format is a compressed form.
func (f Format) Compressed() bool {
	return f != FormatRaw
}

// Engine performs compression and decompression for one configured
// algorithm and level.
type Engine struct {
	algorithm Algorithm
	level     int
}

// NewEngine creates a transform engine. A zero level selects the
// algorithm's fast default, matching the collection's original ingest
// behavior.
func NewEngine(algorithm Algorithm, level int) (*Engine, error) {
	switch algorithm {
	case AlgorithmGzip, AlgorithmZstd:
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported algorithm: %q", algorithm)).
			WithComponent("codec")
	}
	return &Engine{algorithm: algorithm, level: level}, nil
}

// Algorithm returns the configured algorithm.
func (e *Engine) Algorithm() Algorithm {
	return e.algorithm
}

// TargetFormat returns the compressed format this engine produces.
func (e *Engine) TargetFormat() Format {
	if e.algorithm == AlgorithmZstd {
		return FormatZstd
	}
	return FormatGzip
}

// Compress reads the raw file at in and writes its compressed form to out.
// The input file is never mutated; exactly one output file is created.
// Already-compressed input is rejected with a format mismatch. Returns the
// input and output sizes in bytes.
func (e *Engine) Compress(in, out string) (int64, int64, error) {
	format, err := Detect(in)
	if err != nil {
		return 0, 0, transformErr("compress", in, err)
	}
	if format.Compressed() {
		return 0, 0, errors.NewError(errors.ErrCodeFormatMismatch,
			fmt.Sprintf("refusing to compress %s: input already carries a %s marker", in, format)).
			WithComponent("codec").
			WithOperation("compress")
	}

	src, err := os.Open(in)
	if err != nil {
		return 0, 0, transformErr("compress", in, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, 0, transformErr("compress", out, err)
	}

	compressor, err := e.newCompressor(dst)
	if err != nil {
		dst.Close()
		return 0, 0, transformErr("compress", out, err)
	}

	written, err := io.Copy(compressor, src)
	if err == nil {
		err = compressor.Close()
	} else {
		compressor.Close()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out)
		return 0, 0, transformErr("compress", out, err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return 0, 0, transformErr("compress", out, err)
	}
	return written, info.Size(), nil
}

// Decompress reads the compressed file at in and writes the recovered raw
// bytes to out. Input that does not carry this engine's format marker is
// rejected with a format mismatch; for any raw x,
// Decompress(Compress(x)) == x byte for byte.
func (e *Engine) Decompress(in, out string) (int64, int64, error) {
	format, err := Detect(in)
	if err != nil {
		return 0, 0, transformErr("decompress", in, err)
	}
	if format != e.TargetFormat() {
		return 0, 0, errors.NewError(errors.ErrCodeFormatMismatch,
			fmt.Sprintf("refusing to decompress %s: expected a %s marker, found %s", in, e.TargetFormat(), format)).
			WithComponent("codec").
			WithOperation("decompress")
	}

	src, err := os.Open(in)
	if err != nil {
		return 0, 0, transformErr("decompress", in, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return 0, 0, transformErr("decompress", in, err)
	}

	decompressor, closeDecompressor, err := e.newDecompressor(src)
	if err != nil {
		return 0, 0, transformErr("decompress", in, err)
	}
	defer closeDecompressor()

	dst, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, 0, transformErr("decompress", out, err)
	}

	written, err := io.Copy(dst, decompressor)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out)
		return 0, 0, transformErr("decompress", out, err)
	}

	return srcInfo.Size(), written, nil
}

func (e *Engine) newCompressor(w io.Writer) (io.WriteCloser, error) {
	switch e.algorithm {
	case AlgorithmZstd:
		opts := []zstd.EOption{}
		if e.level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(e.level)))
		} else {
			opts = append(opts, zstd.WithEncoderLevel(zstd.SpeedFastest))
		}
		return zstd.NewWriter(w, opts...)
	default:
		level := e.level
		if level == 0 {
			level = pgzip.BestSpeed
		}
		return pgzip.NewWriterLevel(w, level)
	}
}

func (e *Engine) newDecompressor(r io.Reader) (io.Reader, func(), error) {
	switch e.algorithm {
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return decoder, decoder.Close, nil
	default:
		reader, err := pgzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { reader.Close() }, nil
	}
}

func transformErr(op, path string, cause error) error {
	return errors.NewError(errors.ErrCodeTransformFailure, cause.Error()).
		WithComponent("codec").
		WithOperation(op).
		WithContext("path", path).
		WithCause(cause)
}
