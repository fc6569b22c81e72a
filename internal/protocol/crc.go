// Package protocol implements the RTU frame layer: CRC16 checksums and
// the byte-exact encoding of read-coils and write-single-coil frames.
package protocol

// CRC16 computes the Modbus CRC16 over data: accumulator seeded with
// 0xFFFF, each byte XORed into the low half, then eight shift steps
// against polynomial 0xA001.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Checksum returns the two trailer bytes for a frame body, low byte
// first, which is the order they appear on the wire.
func Checksum(data []byte) (lo, hi byte) {
	crc := CRC16(data)
	return byte(crc), byte(crc >> 8)
}

// AppendChecksum appends the two checksum bytes of frame to frame
// itself and returns the extended slice.
func AppendChecksum(frame []byte) []byte {
	lo, hi := Checksum(frame)
	return append(frame, lo, hi)
}

// VerifyChecksum reports whether the trailing two bytes of frame equal
// the checksum of everything before them. Frames shorter than three
// bytes never verify.
func VerifyChecksum(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	lo, hi := Checksum(frame[:len(frame)-2])
	return frame[len(frame)-2] == lo && frame[len(frame)-1] == hi
}
