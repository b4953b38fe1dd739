// BlockInfo: the location of a value in the data log.
package engine

import "encoding/binary"

// BlockInfo locates a value in the data log. The sentinel values
// (TombstonePosition, TombstoneSize) together mark a tombstone record in
// the index log rather than a live value.
type BlockInfo struct {
	Position uint64
	Size     uint32
}

const (
	TombstonePosition uint64 = 0xFFFFFFFFFFFFFFFF
	TombstoneSize     uint32 = 0xFFFFFFFF
)

// BlockInfoEncodedSize is the on-disk size of a BlockInfo: 4 bytes size
// then 8 bytes position, little-endian, per spec §6.
const BlockInfoEncodedSize = 4 + 8

func (b BlockInfo) isTombstone() bool {
	return b.Position == TombstonePosition && b.Size == TombstoneSize
}

func tombstoneBlockInfo() BlockInfo {
	return BlockInfo{Position: TombstonePosition, Size: TombstoneSize}
}

// encode appends the wire encoding (size then position, both little-endian)
// to dst.
func (b BlockInfo) encode(dst []byte) []byte {
	var buf [BlockInfoEncodedSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], b.Size)
	binary.LittleEndian.PutUint64(buf[4:12], b.Position)
	return append(dst, buf[:]...)
}

// decodeBlockInfo parses a BlockInfo from the front of b. It reports false
// if b is shorter than BlockInfoEncodedSize (a torn trailing record).
func decodeBlockInfo(b []byte) (BlockInfo, bool) {
	if len(b) < BlockInfoEncodedSize {
		return BlockInfo{}, false
	}
	return BlockInfo{
		Size:     binary.LittleEndian.Uint32(b[0:4]),
		Position: binary.LittleEndian.Uint64(b[4:12]),
	}, true
}
