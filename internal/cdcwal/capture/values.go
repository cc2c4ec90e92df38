package capture

import (
	"fmt"
	"io"
	"math"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
)

// Value tags. Each value in the values region is a tag byte followed by its
// payload.
const (
	TagNull   byte = 0
	TagBool   byte = 1
	TagLong   byte = 2
	TagDouble byte = 3
	TagString byte = 4
	TagBytes  byte = 5
	TagList   byte = 6
)

// ValuesWriter appends tagged values to a buffer and returns where each one
// starts.
type ValuesWriter struct {
	buf *chunked.Buffer
}

// NewValuesWriter creates a ValuesWriter over buf.
func NewValuesWriter(buf *chunked.Buffer) *ValuesWriter {
	return &ValuesWriter{buf: buf}
}

// Write appends v and returns its position. Supported types are nil, bool, Go
// integers, float32, float64, string, []byte and []any of supported types.
func (w *ValuesWriter) Write(v any) (int32, error) {
	pos, err := position("values", w.buf.Size())
	if err != nil {
		return 0, err
	}
	if err := checkValue(v); err != nil {
		return 0, err
	}
	w.put(v)
	return pos, w.buf.Err()
}

func checkValue(v any) error {
	switch x := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, string, []byte:
		return nil
	case []any:
		for _, item := range x {
			if err := checkValue(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return &CaptureError{Kind: KindUnsupportedValue, Err: ErrUnsupportedValue, Cause: fmt.Errorf("type %T", v)}
	}
}

func (w *ValuesWriter) put(v any) {
	b := w.buf
	switch x := v.(type) {
	case nil:
		b.PutByte(TagNull)
	case bool:
		var flag byte
		if x {
			flag = 1
		}
		b.PutByte(TagBool).PutByte(flag)
	case int:
		b.PutByte(TagLong).PutLong(int64(x))
	case int8:
		b.PutByte(TagLong).PutLong(int64(x))
	case int16:
		b.PutByte(TagLong).PutLong(int64(x))
	case int32:
		b.PutByte(TagLong).PutLong(int64(x))
	case int64:
		b.PutByte(TagLong).PutLong(x)
	case uint8:
		b.PutByte(TagLong).PutLong(int64(x))
	case uint16:
		b.PutByte(TagLong).PutLong(int64(x))
	case uint32:
		b.PutByte(TagLong).PutLong(int64(x))
	case float32:
		b.PutByte(TagDouble).PutDouble(float64(x))
	case float64:
		b.PutByte(TagDouble).PutDouble(x)
	case string:
		b.PutByte(TagString).PutInt(int32(len(x))).PutBytes([]byte(x)) //nolint:gosec
	case []byte:
		b.PutByte(TagBytes).PutInt(int32(len(x))).PutBytes(x) //nolint:gosec
	case []any:
		b.PutByte(TagList).PutInt(int32(len(x))) //nolint:gosec
		for _, item := range x {
			w.put(item)
		}
	}
}

// ReadValue decodes one tagged value from ch. Integers decode as int64 and
// floats as float64.
func ReadValue(ch channel.ReadableChannel) (any, error) {
	tag, err := ch.GetByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagNull:
		return nil, nil
	case TagBool:
		b, err := ch.GetByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case TagLong:
		return ch.GetLong()
	case TagDouble:
		return ch.GetDouble()
	case TagString, TagBytes:
		n, err := ch.GetInt()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative length %d", n)
		}
		p := make([]byte, n)
		if _, err := io.ReadFull(ch, p); err != nil {
			return nil, err
		}
		if tag == TagString {
			return string(p), nil
		}
		return p, nil
	case TagList:
		n, err := ch.GetInt()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative length %d", n)
		}
		list := make([]any, 0, min(n, 64))
		for i := int32(0); i < n; i++ {
			item, err := ReadValue(ch)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unknown value tag %d", tag)
	}
}

func position(region string, size int64) (int32, error) {
	if size > math.MaxInt32 {
		return 0, &CaptureError{
			Kind:   KindPositionOverflow,
			Region: region,
			Pos:    size,
			Err:    ErrPositionOverflow,
		}
	}
	return int32(size), nil
}
