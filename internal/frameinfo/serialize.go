package frameinfo

import (
	"encoding/binary"
	"fmt"
)

// EncodeDebug serialises an AddressMap and TrapPoints pair into the opaque
// blob form a FunctionDebug cell holds before its first decode. The format
// is a compact sequence of LEB128 varints (the same encoding WebAssembly
// itself, and this corpus's own internal/leb128 package, use for compact
// integer side tables): the address map's StartSrc, a count followed by
// that many delta-encoded instruction map entries, then a count followed by
// that many delta-encoded trap point entries, each trap kind written as a
// single raw byte after its offset.
//
// Encoding is not on the trap-handling hot path (only compilers produce
// blobs), so it favors simplicity over speed.
func EncodeDebug(addressMap AddressMap, trapPoints TrapPoints) []byte {
	var buf []byte
	buf = appendUvarint(buf, uint64(addressMap.StartSrc))
	buf = appendUvarint(buf, uint64(len(addressMap.Instructions)))
	var prevOffset, prevSrc uint32
	for _, ins := range addressMap.Instructions {
		buf = appendUvarint(buf, uint64(ins.CodeOffset-prevOffset))
		buf = appendUvarint(buf, uint64(ins.CodeLen))
		buf = appendUvarint(buf, zigzag(int64(ins.Src)-int64(prevSrc)))
		prevOffset, prevSrc = ins.CodeOffset, ins.Src
	}

	buf = appendUvarint(buf, uint64(len(trapPoints.Entries)))
	prevOffset = 0
	for _, tp := range trapPoints.Entries {
		buf = appendUvarint(buf, uint64(tp.CodeOffset-prevOffset))
		buf = append(buf, byte(tp.Kind))
		prevOffset = tp.CodeOffset
	}
	return buf
}

// DecodeDebug is the inverse of EncodeDebug. It is the decode function a
// FunctionDebug cell invokes on first use (spec.md §6: "an opaque serialised
// blob plus a decode function").
func DecodeDebug(blob []byte) (AddressMap, TrapPoints, error) {
	r := byteReader{buf: blob}

	startSrc, err := r.uvarint()
	if err != nil {
		return AddressMap{}, TrapPoints{}, fmt.Errorf("address map start offset: %w", err)
	}

	numInstructions, err := r.uvarint()
	if err != nil {
		return AddressMap{}, TrapPoints{}, fmt.Errorf("address map instruction count: %w", err)
	}
	instructions := make([]InstructionMap, numInstructions)
	var offset, src uint32
	for i := range instructions {
		deltaOffset, err := r.uvarint()
		if err != nil {
			return AddressMap{}, TrapPoints{}, fmt.Errorf("instruction %d offset: %w", i, err)
		}
		codeLen, err := r.uvarint()
		if err != nil {
			return AddressMap{}, TrapPoints{}, fmt.Errorf("instruction %d length: %w", i, err)
		}
		deltaSrc, err := r.varint()
		if err != nil {
			return AddressMap{}, TrapPoints{}, fmt.Errorf("instruction %d source offset: %w", i, err)
		}
		offset += uint32(deltaOffset)
		src = uint32(int64(src) + deltaSrc)
		instructions[i] = InstructionMap{CodeOffset: offset, CodeLen: uint32(codeLen), Src: src}
	}

	numTraps, err := r.uvarint()
	if err != nil {
		return AddressMap{}, TrapPoints{}, fmt.Errorf("trap point count: %w", err)
	}
	traps := make([]TrapPointEntry, numTraps)
	offset = 0
	for i := range traps {
		deltaOffset, err := r.uvarint()
		if err != nil {
			return AddressMap{}, TrapPoints{}, fmt.Errorf("trap %d offset: %w", i, err)
		}
		kind, err := r.byte()
		if err != nil {
			return AddressMap{}, TrapPoints{}, fmt.Errorf("trap %d kind: %w", i, err)
		}
		offset += uint32(deltaOffset)
		traps[i] = TrapPointEntry{CodeOffset: offset, Kind: TrapKind(kind)}
	}

	return AddressMap{StartSrc: uint32(startSrc), Instructions: instructions}, TrapPoints{Entries: traps}, nil
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// byteReader reads the varint sequence EncodeDebug produces.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) varint() (int64, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	return unzigzag(v), nil
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("truncated byte at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}
