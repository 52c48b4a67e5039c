package zmodem

import "hash/crc32"

// crc32Check is the residue a running CRC-32 leaves after consuming a
// block followed by its own (unfinalized) CRC bytes.
const crc32Check = 0xDEBB20E3

// updcrc16 folds one byte into a CRC-16/XMODEM accumulator.
func updcrc16(b byte, crc uint16) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

// crc16Finalize augments the accumulator with two zero bytes, matching
// the transmit-side convention that lets receivers verify by running
// the CRC over the payload plus its trailing CRC and checking for zero.
func crc16Finalize(crc uint16) uint16 {
	return updcrc16(0, updcrc16(0, crc))
}

// updcrc32 folds one byte into a reflected CRC-32/IEEE accumulator.
// Accumulators start at 0xFFFFFFFF; the transmitted value is the
// bitwise complement.
func updcrc32(b byte, crc uint32) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ (crc >> 8)
}

func updcrc32Bytes(data []byte, crc uint32) uint32 {
	for _, b := range data {
		crc = updcrc32(b, crc)
	}
	return crc
}
