// Package channel provides the byte-oriented sink and source the enrichment
// codec serializes into and deserializes from. All fixed-width values are
// little-endian.
package channel

import "io"

// WritableChannel is an output sink for fixed-width values and raw bytes.
// Write is the raw-buffer primitive used to copy whole chunks.
type WritableChannel interface {
	io.Writer

	PutByte(v byte) error
	PutShort(v int16) error
	PutInt(v int32) error
	PutLong(v int64) error
	PutFloat(v float32) error
	PutDouble(v float64) error
	Put(p []byte) error
}

// ReadableChannel is an input source for fixed-width values and raw bytes.
// Read follows io.Reader; callers needing an exact count use io.ReadFull.
type ReadableChannel interface {
	io.Reader

	GetByte() (byte, error)
	GetShort() (int16, error)
	GetInt() (int32, error)
	GetLong() (int64, error)
	GetFloat() (float32, error)
	GetDouble() (float64, error)
}

const (
	ByteSize   = 1
	ShortSize  = 2
	IntSize    = 4
	LongSize   = 8
	FloatSize  = 4
	DoubleSize = 8
)
