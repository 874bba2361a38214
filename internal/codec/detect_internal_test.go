package codec

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

func TestDetectRandomBinaryIsUnknown(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	checked := 0
	for checked < 200 {
		data := make([]byte, 16+rng.IntN(64))
		for i := range data {
			data[i] = byte(rng.UintN(256))
		}
		if bytes.HasPrefix(data, magicZstd) || bytes.HasPrefix(data, magicLZ4) || bytes.HasPrefix(data, magicGzip) || isText(data) {
			continue
		}
		checked++
		if got := Detect(data); got != FormatUnknown {
			t.Fatalf("Detect(% x) = %s, want unknown", data, got)
		}
	}
}

func TestDetectMalformedUTF16IsUnknown(t *testing.T) {
	cases := [][]byte{
		{0xFF, 0xFE, 0x00, 0xD8, 0x00, 0xD8, 0x9C},
		{0xFE, 0xFF, 0xDC, 0x00, 0x80, 0x81, 0x82},
		{0xFF, 0xFE, 0x00, 0xDC, 0x41, 0x00},
		{0xFF, 0xFE, 0x00, 0xD8, 0x41, 0x00},
		{0xFE, 0xFF, 0x00, 0x41, 0xD8, 0x00},
		{0xFF, 0xFE, 0x41},
	}
	for _, data := range cases {
		if got := Detect(data); got != FormatUnknown {
			t.Fatalf("Detect(% x) = %s, want unknown", data, got)
		}
	}

	ok := [][]byte{
		{0xFF, 0xFE, 0x7B, 0x00, 0x7D, 0x00},
		{0xFE, 0xFF, 0xD8, 0x3D, 0xDE, 0x00},
	}
	for _, data := range ok {
		if got := Detect(data); got != FormatNone {
			t.Fatalf("Detect(% x) = %s, want none", data, got)
		}
	}
}
