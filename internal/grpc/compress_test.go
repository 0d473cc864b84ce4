package grpc

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"lateral":12.5,"speed":30}`, 20))
	for _, name := range []string{EncodingIdentity, EncodingGZIP, EncodingSnappy} {
		compressor, err := defaultCompressors().lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		compressed, err := compressor.Compress(payload)
		if err != nil {
			t.Fatalf("%s compress: %v", name, err)
		}
		if name != EncodingIdentity && len(compressed) >= len(payload) {
			t.Fatalf("%s did not shrink a repetitive payload: %d >= %d", name, len(compressed), len(payload))
		}
		decompressed, err := compressor.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s decompress: %v", name, err)
		}
		if !bytes.Equal(decompressed, payload) {
			t.Fatalf("%s round trip mismatch", name)
		}
	}
}

func TestCompressorLookup(t *testing.T) {
	compressor, err := defaultCompressors().lookup("")
	if err != nil || compressor.Name() != EncodingGZIP {
		t.Fatalf("empty encoding should select gzip, got %v %v", compressor, err)
	}
	if _, err := defaultCompressors().lookup("brotli"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := NewGZIPCompressor().Decompress(nil); err == nil {
		t.Fatal("expected error for empty gzip payload")
	}
	if _, err := NewSnappyCompressor().Decompress([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected error for corrupt snappy payload")
	}
}
