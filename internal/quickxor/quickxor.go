// Package quickxor implements the QuickXorHash checksum that OneDrive
// reports for file content. Each input byte is XORed into a 160-bit
// circular buffer with the insertion point advancing 11 bits per byte,
// and the total byte count is mixed into the final digest.
//
// Derived from the rclone implementation (BSD-0 license),
// github.com/rclone/rclone/backend/onedrive/quickxorhash, which follows
// Microsoft's reference C# snippet.
package quickxor

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

const (
	// Size is the digest length in bytes.
	Size = 20

	// BlockSize is the preferred input block size in bytes.
	BlockSize = 64

	shift       = 11  // bits the insertion point advances per input byte
	widthInBits = 160 // circular buffer width

	cells          = 3  // uint64 cells holding widthInBits bits
	bitsInLastCell = 32 // widthInBits - (cells-1)*64
)

type digest struct {
	data   [cells]uint64
	shift  int
	length uint64
}

// New returns a hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// SumBase64 returns the base64 digest of data, the encoding OneDrive uses
// in driveItem hash metadata.
func SumBase64(data []byte) string {
	d := &digest{}
	d.Write(data) //nolint:errcheck // Write never fails

	return base64.StdEncoding.EncodeToString(d.Sum(nil))
}

func cellBits(index int) int {
	if index == cells-1 {
		return bitsInLastCell
	}

	return 64
}

// Write absorbs p into the running hash. It always returns len(p), nil.
func (d *digest) Write(p []byte) (int, error) {
	cell := d.shift / 64
	offset := d.shift % 64
	iterations := min(len(p), widthInBits)

	for i := range iterations {
		bits := cellBits(cell)

		if offset <= bits-8 {
			// Byte fits entirely within this cell.
			for j := i; j < len(p); j += widthInBits {
				d.data[cell] ^= uint64(p[j]) << offset
			}
		} else {
			// Byte straddles two cells: fold all bytes at this position
			// first, then split the result.
			next := cell + 1
			if cell == cells-1 {
				next = 0
			}

			low := byte(bits - offset)

			var folded byte
			for j := i; j < len(p); j += widthInBits {
				folded ^= p[j]
			}

			d.data[cell] ^= uint64(folded) << offset
			d.data[next] ^= uint64(folded) >> low
		}

		offset += shift
		for offset >= cellBits(cell) {
			offset -= cellBits(cell)
			if cell == cells-1 {
				cell = 0
			} else {
				cell++
			}
		}
	}

	d.shift = (d.shift + shift*(len(p)%widthInBits)) % widthInBits
	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the current digest to b without changing the hash state.
func (d *digest) Sum(b []byte) []byte {
	var out [Size]byte

	binary.LittleEndian.PutUint64(out[0:8], d.data[0])
	binary.LittleEndian.PutUint64(out[8:16], d.data[1])
	// The last cell only carries bitsInLastCell bits.
	binary.LittleEndian.PutUint32(out[16:Size], uint32(d.data[2])) //nolint:gosec // intentional truncation

	// The total length, little-endian, is XORed into the tail of the digest.
	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], d.length)

	for i, lb := range lengthBytes {
		out[Size-len(lengthBytes)+i] ^= lb
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int {
	return Size
}

func (d *digest) BlockSize() int {
	return BlockSize
}
