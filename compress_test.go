// Compression round-trip tests.
//
// FileMode archives a flushed extent by zstd-compressing its raw bytes
// into a sibling ".archive" file (compress.go). A compression bug has
// two failure modes: silent data corruption (decompressed output
// differs from the original) or a crash during decompression (invalid
// zstd frame). These tests verify every byte survives the round trip
// for a variety of inputs: empty, binary, unicode, and large payloads.
package confluo

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"simple text", []byte("hello world")},
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"binary data", []byte{0x00, 0x01, 0xff, 0xfe, 0x80, 0x7f}},
		{"unicode", []byte("日本語テキスト")},
		{"json", []byte(`{"key": "value", "num": 123}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := compressBucket(tt.data)
			decoded, err := decompressBucket(encoded)
			if err != nil {
				t.Fatalf("decompressBucket: %v", err)
			}
			if !bytes.Equal(decoded, tt.data) {
				t.Errorf("round trip failed: got %v, want %v", decoded, tt.data)
			}
		})
	}
}

// TestCompressEmpty verifies that compressing empty input returns nil
// rather than a minimal zstd frame: an unwritten bucket region should
// never pay for (or produce) a frame to archive.
func TestCompressEmpty(t *testing.T) {
	if result := compressBucket(nil); result != nil {
		t.Errorf("compressBucket(nil) = %v, want nil", result)
	}
}

// TestDecompressEmpty verifies the empty-input fast path in
// decompressBucket; the zstd reader must never see a zero-length frame.
func TestDecompressEmpty(t *testing.T) {
	result, err := decompressBucket(nil)
	if err != nil {
		t.Fatalf("decompressBucket: %v", err)
	}
	if result != nil {
		t.Errorf("decompressBucket(nil) = %v, want nil", result)
	}
}

// TestCompressLargeData verifies a 1,040,000-byte round trip — just
// under the size of a single full data-log bucket (BucketStride).
func TestCompressLargeData(t *testing.T) {
	data := bytes.Repeat([]byte("test data for compression "), 40000)

	encoded := compressBucket(data)
	decoded, err := decompressBucket(encoded)
	if err != nil {
		t.Fatalf("decompressBucket: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("large data round trip failed: got len %d, want %d", len(decoded), len(data))
	}
}

func TestCompressReducesSize(t *testing.T) {
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 1000)

	encoded := compressBucket(data)
	if len(encoded) >= len(data) {
		t.Errorf("compression did not reduce size: encoded %d >= original %d", len(encoded), len(data))
	}
}

func TestCompressBinaryData(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := compressBucket(data)
	decoded, err := decompressBucket(encoded)
	if err != nil {
		t.Fatalf("decompressBucket: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("binary data round trip failed")
	}
}

func TestDecompressCorruptFrame(t *testing.T) {
	_, err := decompressBucket([]byte{0xde, 0xad, 0xbe, 0xef})
	if err == nil {
		t.Fatal("expected an error decompressing a non-zstd frame")
	}
	var ioErr *IOError
	if !asIOError(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T: %v", err, err)
	}
}

func asIOError(err error, target **IOError) bool {
	if e, ok := err.(*IOError); ok {
		*target = e
		return true
	}
	return false
}
