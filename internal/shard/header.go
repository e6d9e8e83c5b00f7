// Package shard stores packed examples in a flat binary file.
//
// Layout, all little-endian:
//
//	magic     [4]byte  "CPK1"
//	version   uint16
//	width     uint16   bytes per token id, always 4
//	seqLength uint32
//	reserved  uint32
//	tokens    count × seqLength uint32
//
// The example count is derived from the file size. Labels are not stored;
// they equal the inputs.
package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic          = "CPK1"
	CurrentVersion uint16 = 1
	TokenWidth     uint16 = 4
	HeaderSize            = 16
)

var (
	ErrCorrupt      = errors.New("corrupt shard")
	ErrSeqLength    = errors.New("example length does not match shard")
	ErrTokenRange   = errors.New("token id out of uint32 range")
	ErrIndexRange   = errors.New("example index out of range")
	ErrWriterClosed = errors.New("shard writer closed")
)

type Header struct {
	Version   uint16
	Width     uint16
	SeqLength uint32
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b, Magic)
	binary.LittleEndian.PutUint16(b[4:], h.Version)
	binary.LittleEndian.PutUint16(b[6:], h.Width)
	binary.LittleEndian.PutUint32(b[8:], h.SeqLength)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d byte file", ErrCorrupt, len(b))
	}
	if string(b[:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, b[:4])
	}
	h := Header{
		Version:   binary.LittleEndian.Uint16(b[4:]),
		Width:     binary.LittleEndian.Uint16(b[6:]),
		SeqLength: binary.LittleEndian.Uint32(b[8:]),
	}
	switch {
	case h.Version != CurrentVersion:
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	case h.Width != TokenWidth:
		return Header{}, fmt.Errorf("%w: unsupported token width %d", ErrCorrupt, h.Width)
	case h.SeqLength == 0:
		return Header{}, fmt.Errorf("%w: zero sequence length", ErrCorrupt)
	}
	return h, nil
}
