// Package content implements the deterministic content engine: a per-block
// keystream used as expected data, and the pseudo-random sequence the
// driver uses to pick addresses and window lengths.
package content

import "encoding/binary"

// Avalanche constants of the 64-bit finalizer (three xor-shift rounds with
// two odd multiplicative constants).
const (
	mixMul1 = 0xff51afd7ed558ccd
	mixMul2 = 0xc4ceb9fe1a85ec53
)

// BlockWord returns the keystream word for the block at zero-based
// address addr. The mix input is addr+1 so block zero does not map the
// zero fixed point of the finalizer.
func BlockWord(addr uint64) uint64 {
	k := addr + 1
	k ^= k >> 33
	k *= mixMul1
	k ^= k >> 33
	k *= mixMul2
	k ^= k >> 33
	return k
}

// Fill writes the keystream into every 8-byte lane of every block in the
// range [addr, addr+count). buf must hold count*blockLength bytes and
// blockLength must be a multiple of 8.
func Fill(buf []byte, blockLength uint32, addr uint64, count uint32) {
	for i := uint32(0); i < count; i++ {
		block := buf[i*blockLength : (i+1)*blockLength]
		word := BlockWord(addr + uint64(i))
		for off := uint32(0); off < blockLength; off += 8 {
			binary.LittleEndian.PutUint64(block[off:off+8], word)
		}
	}
}

// VerifyWritten reports whether every lane of every block in the range
// equals the keystream. On mismatch it returns the offending block
// address; it never panics or errors on bad content, fatality is the
// caller's decision.
func VerifyWritten(buf []byte, blockLength uint32, addr uint64, count uint32) (bool, uint64) {
	for i := uint32(0); i < count; i++ {
		block := buf[i*blockLength : (i+1)*blockLength]
		word := BlockWord(addr + uint64(i))
		for off := uint32(0); off < blockLength; off += 8 {
			if binary.LittleEndian.Uint64(block[off:off+8]) != word {
				return false, addr + uint64(i)
			}
		}
	}
	return true, 0
}

// VerifyUnmapped reports whether every lane of every block in the range
// reads back as zero, returning the offending block address on mismatch.
func VerifyUnmapped(buf []byte, blockLength uint32, addr uint64, count uint32) (bool, uint64) {
	for i := uint32(0); i < count; i++ {
		block := buf[i*blockLength : (i+1)*blockLength]
		for off := uint32(0); off < blockLength; off += 8 {
			if binary.LittleEndian.Uint64(block[off:off+8]) != 0 {
				return false, addr + uint64(i)
			}
		}
	}
	return true, 0
}
