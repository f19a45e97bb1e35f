package engine

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)
	for _, codec := range []Codec{NoCompression, SnappyCodec, LZ4Codec, ZstdCodec} {
		t.Run(codec.String(), func(t *testing.T) {
			if !codec.IsSupported() {
				t.Fatalf("codec %s unsupported", codec)
			}
			body, err := compress(codec, payload)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if codec != NoCompression && len(body) >= len(payload) {
				t.Fatalf("codec %s did not shrink repetitive payload: %d >= %d", codec, len(body), len(payload))
			}
			back, err := decompress(codec, body)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(back, payload) {
				t.Fatal("roundtrip mismatch")
			}
		})
	}
}

func TestCodecUnsupported(t *testing.T) {
	bogus := Codec(0x2) // zlib slot, not wired
	if bogus.IsSupported() {
		t.Fatalf("codec %#x should be unsupported", byte(bogus))
	}
	if _, err := compress(bogus, []byte("x")); err == nil {
		t.Fatal("compress with unsupported codec should fail")
	}
	if _, err := decompress(bogus, []byte("x")); err == nil {
		t.Fatal("decompress with unsupported codec should fail")
	}
}
