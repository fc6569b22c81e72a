package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check value", []byte("123456789"), 0x4B37},
		{"read coils request", []byte{0x0A, 0x01, 0x00, 0x00, 0x00, 0x20}, 0xA93C},
		{"write coil request", []byte{0x0A, 0x05, 0x00, 0x03, 0xFF, 0x00}, 0x417D},
		{"empty", nil, 0xFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(% X) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksumByteOrder(t *testing.T) {
	// Low byte travels first on the wire.
	lo, hi := Checksum([]byte{0x0A, 0x01, 0x00, 0x00, 0x00, 0x20})
	if lo != 0x3C || hi != 0xA9 {
		t.Errorf("Checksum = (0x%02X, 0x%02X), want (0x3C, 0xA9)", lo, hi)
	}
}

func TestAppendChecksumRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "body")
		frame := AppendChecksum(append([]byte(nil), body...))
		if len(frame) != len(body)+2 {
			t.Fatalf("frame length %d, want %d", len(frame), len(body)+2)
		}
		if !VerifyChecksum(frame) {
			t.Fatalf("frame % X does not verify against its own checksum", frame)
		}
	})
}

func TestVerifyChecksumMutationSensitivity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "body")
		frame := AppendChecksum(append([]byte(nil), body...))

		bit := rapid.IntRange(0, len(frame)*8-1).Draw(t, "bit")
		frame[bit/8] ^= 1 << (bit % 8)

		if VerifyChecksum(frame) {
			t.Fatalf("frame % X verifies after flipping bit %d", frame, bit)
		}
	})
}

func TestVerifyChecksumTooShort(t *testing.T) {
	for _, frame := range [][]byte{nil, {0x01}, {0x01, 0x02}} {
		if VerifyChecksum(frame) {
			t.Errorf("VerifyChecksum(% X) = true, want false", frame)
		}
	}
}
