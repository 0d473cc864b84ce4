package grpc

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
)

// Compressor applies symmetric compression to frame payloads.
type Compressor interface {
	//1.- Name returns the codec identifier advertised in frames.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

// Payload encodings understood by Watch.
const (
	EncodingIdentity = "identity"
	EncodingGZIP     = "gzip"
	EncodingSnappy   = "snappy"
)

// identityCompressor passes payloads through untouched.
type identityCompressor struct{}

func (identityCompressor) Name() string { return EncodingIdentity }

func (identityCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (identityCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// gzipCompressor wraps the standard library gzip implementation.
type gzipCompressor struct{}

// NewGZIPCompressor constructs a Compressor backed by gzip.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{}
}

// Name reports the identifier used for gzip encoded payloads.
func (gzipCompressor) Name() string { return EncodingGZIP }

// Compress encodes data using the gzip format.
func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes gzip-encoded data and returns the raw payload.
func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	return buf.Bytes(), nil
}

// snappyCompressor uses the block format; each frame is compressed on its own.
type snappyCompressor struct{}

// NewSnappyCompressor constructs a Compressor backed by snappy block encoding.
func NewSnappyCompressor() Compressor { return snappyCompressor{} }

func (snappyCompressor) Name() string { return EncodingSnappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}

// compressorSet indexes compressors by name.
type compressorSet map[string]Compressor

func defaultCompressors() compressorSet {
	set := compressorSet{}
	for _, c := range []Compressor{identityCompressor{}, NewGZIPCompressor(), NewSnappyCompressor()} {
		set[c.Name()] = c
	}
	return set
}

// lookup resolves an encoding name; empty selects gzip.
func (s compressorSet) lookup(name string) (Compressor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = EncodingGZIP
	}
	if c, ok := s[name]; ok {
		return c, nil
	}
	names := make([]string, 0, len(s))
	for key := range s {
		names = append(names, key)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unsupported encoding %q (want one of %s)", name, strings.Join(names, ", "))
}
