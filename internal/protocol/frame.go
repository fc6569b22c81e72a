package protocol

import (
	"fmt"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// Function codes in scope. Only coil read and single-coil write are
// supported; the remaining Modbus function set is out of scope.
const (
	FuncReadCoils       = 0x01
	FuncWriteSingleCoil = 0x05
)

// MinFrameSize is the smallest byte sequence that can carry a checksum
// trailer: one payload byte plus the two CRC bytes.
const MinFrameSize = 3

// Coil value encodings for function 0x05.
const (
	coilOn  = 0xFF
	coilOff = 0x00
)

// EncodeReadCoils builds a read-coils request frame for the given poll
// window. The high bytes of start and count are fixed at zero on the
// wire; callers must keep both within one byte (the registry enforces
// this at registration time).
func EncodeReadCoils(slave domain.SlaveID, window domain.PollWindow) ([]byte, error) {
	if window.Start > domain.MaxAddress {
		return nil, fmt.Errorf("%w: start %d", domain.ErrInvalidAddress, window.Start)
	}
	// Count also rides in one byte, so a window spanning the full
	// 0-255 range (count 256) is not expressible on the wire.
	if window.Count == 0 || window.Count > uint16(domain.MaxAddress) {
		return nil, fmt.Errorf("%w: count %d", domain.ErrInvalidAddress, window.Count)
	}
	frame := []byte{
		byte(slave),
		FuncReadCoils,
		0x00, byte(window.Start),
		0x00, byte(window.Count),
	}
	return AppendChecksum(frame), nil
}

// EncodeWriteSingleCoil builds a write-single-coil request frame.
// value maps to 0xFF00 for on and 0x0000 for off.
func EncodeWriteSingleCoil(slave domain.SlaveID, addr domain.Address, value bool) ([]byte, error) {
	if addr > domain.MaxAddress {
		return nil, fmt.Errorf("%w: address %d", domain.ErrInvalidAddress, addr)
	}
	state := byte(coilOff)
	if value {
		state = coilOn
	}
	frame := []byte{
		byte(slave),
		FuncWriteSingleCoil,
		0x00, byte(addr),
		state, 0x00,
	}
	return AppendChecksum(frame), nil
}

// verify runs the common response checks: minimum length, checksum
// trailer, and the expected function code in byte 1.
func verify(resp []byte, wantFunc byte) error {
	if len(resp) < MinFrameSize {
		return fmt.Errorf("%w: %d bytes", domain.ErrFrameTooShort, len(resp))
	}
	if !VerifyChecksum(resp) {
		return domain.ErrChecksumMismatch
	}
	if len(resp) < 4 {
		return fmt.Errorf("%w: %d bytes", domain.ErrFrameTooShort, len(resp))
	}
	if resp[1] != wantFunc {
		return fmt.Errorf("%w: got 0x%02X, want 0x%02X", domain.ErrUnexpectedFunctionCode, resp[1], wantFunc)
	}
	return nil
}

// DecodeReadCoils validates a read-coils response against the window it
// was requested for and returns the dense per-address state map. Data
// bytes pack eight coils each, least-significant bit first, starting at
// window.Start; addresses beyond the returned bit count default to
// false so the map always covers the full window.
func DecodeReadCoils(resp []byte, window domain.PollWindow) (domain.CoilState, error) {
	if err := verify(resp, FuncReadCoils); err != nil {
		return nil, err
	}

	byteCount := int(resp[2])
	wantBytes := (int(window.Count) + 7) / 8
	if byteCount != wantBytes {
		return nil, fmt.Errorf("%w: got %d data bytes, want %d", domain.ErrByteCountMismatch, byteCount, wantBytes)
	}
	if len(resp) < 3+byteCount+2 {
		return nil, fmt.Errorf("%w: %d bytes for byte count %d", domain.ErrFrameTooShort, len(resp), byteCount)
	}
	data := resp[3 : 3+byteCount]

	states := make(domain.CoilState, window.Count)
	for i := 0; i < int(window.Count); i++ {
		addr := window.Start + domain.Address(i)
		if i/8 < len(data) {
			states[addr] = data[i/8]&(1<<(i%8)) != 0
		} else {
			states[addr] = false
		}
	}
	return states, nil
}

// DecodeWriteSingleCoil validates a write-single-coil response. Slaves
// echo the request, so a verified frame with the right function code is
// a confirmed write.
func DecodeWriteSingleCoil(resp []byte) error {
	return verify(resp, FuncWriteSingleCoil)
}
