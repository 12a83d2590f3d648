// Package decoder implements the fixed-width capture record codec.
package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/netbeep/internal/core"
)

const (
	srcAddrOff = 0
	srcPortOff = 4
	dstAddrOff = 6
	dstPortOff = 10
)

// Decode interprets the first core.RecordSize bytes of b as a PacketRecord.
// Bytes past the record width (slot padding) are ignored.
func Decode(b []byte) (core.PacketRecord, error) {
	if len(b) < core.RecordSize {
		return core.PacketRecord{}, fmt.Errorf("%w: %d bytes, need %d", core.ErrMalformed, len(b), core.RecordSize)
	}
	b = b[:core.RecordSize]

	var rec core.PacketRecord
	copy(rec.Src.Addr[:], b[srcAddrOff:srcPortOff])
	rec.Src.Port = binary.BigEndian.Uint16(b[srcPortOff:dstAddrOff])
	copy(rec.Dst.Addr[:], b[dstAddrOff:dstPortOff])
	rec.Dst.Port = binary.BigEndian.Uint16(b[dstPortOff:core.RecordSize])
	return rec, nil
}

// Encode writes rec into dst using the wire layout. Padding bytes in dst are
// left untouched.
func Encode(rec core.PacketRecord, dst []byte) error {
	if len(dst) < core.RecordSize {
		return fmt.Errorf("%w: buffer of %d bytes, need %d", core.ErrMalformed, len(dst), core.RecordSize)
	}
	copy(dst[srcAddrOff:srcPortOff], rec.Src.Addr[:])
	binary.BigEndian.PutUint16(dst[srcPortOff:dstAddrOff], rec.Src.Port)
	copy(dst[dstAddrOff:dstPortOff], rec.Dst.Addr[:])
	binary.BigEndian.PutUint16(dst[dstPortOff:core.RecordSize], rec.Dst.Port)
	return nil
}

// DecodeBatch decodes the first read slots and appends the valid records to
// out. Malformed slots are skipped; their count is returned.
func DecodeBatch(slots [][]byte, read int, out []core.PacketRecord) ([]core.PacketRecord, int) {
	read = min(max(read, 0), len(slots))
	malformed := 0
	for _, slot := range slots[:read] {
		rec, err := Decode(slot)
		if err != nil {
			malformed++
			continue
		}
		out = append(out, rec)
	}
	return out, malformed
}
