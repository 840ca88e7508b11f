package rpc

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Body messages are protobuf wire format, hand-assembled from protowire
// primitives. Marshalling appends into caller-owned buffers and decoding
// draws from the connection arena, keeping the request path free of heap
// allocation.

var (
	// ErrArenaExhausted means a decoded message did not fit the slab.
	ErrArenaExhausted = errors.New("rpc: arena exhausted")

	// ErrTruncated means a body ended inside a field.
	ErrTruncated = errors.New("rpc: truncated message")
)

// Operation results carried in response bodies, errno-style.
const (
	RetOK    int32 = 0
	RetPerm  int32 = -1  // EPERM
	RetAgain int32 = -11 // EAGAIN
	RetInval int32 = -22 // EINVAL
)

// RandomBytesRequest asks for n bytes of DRNG output.
type RandomBytesRequest struct {
	Len uint32 // field 1
}

func (r *RandomBytesRequest) Marshal(dst []byte) []byte {
	if r.Len != 0 {
		dst = protowire.AppendTag(dst, 1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.Len))
	}
	return dst
}

func (r *RandomBytesRequest) Unmarshal(body []byte) error {
	*r = RandomBytesRequest{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.Len = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// RandomBytesResponse returns the operation result and the generated
// bytes.
type RandomBytesResponse struct {
	Ret  int32  // field 1
	Data []byte // field 2
}

func (r *RandomBytesResponse) Marshal(dst []byte) []byte {
	if r.Ret != 0 {
		dst = protowire.AppendTag(dst, 1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(int64(r.Ret)))
	}
	if len(r.Data) > 0 {
		dst = protowire.AppendTag(dst, 2, protowire.BytesType)
		dst = protowire.AppendBytes(dst, r.Data)
	}
	return dst
}

func (r *RandomBytesResponse) Unmarshal(body []byte, a *Arena) error {
	*r = RandomBytesResponse{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.Ret = int32(int64(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return n, nil
			}
			dst, ok := a.Alloc(len(v))
			if !ok {
				return 0, ErrArenaExhausted
			}
			copy(dst, v)
			r.Data = dst
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// InsertAuxRequest credits entropy to the auxiliary pool.
type InsertAuxRequest struct {
	Data        []byte // field 1
	EntropyBits uint32 // field 2
}

func (r *InsertAuxRequest) Marshal(dst []byte) []byte {
	if len(r.Data) > 0 {
		dst = protowire.AppendTag(dst, 1, protowire.BytesType)
		dst = protowire.AppendBytes(dst, r.Data)
	}
	if r.EntropyBits != 0 {
		dst = protowire.AppendTag(dst, 2, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.EntropyBits))
	}
	return dst
}

func (r *InsertAuxRequest) Unmarshal(body []byte, a *Arena) error {
	*r = InsertAuxRequest{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return n, nil
			}
			dst, ok := a.Alloc(len(v))
			if !ok {
				return 0, ErrArenaExhausted
			}
			copy(dst, v)
			r.Data = dst
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.EntropyBits = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// SetValueRequest carries one u32 tunable.
type SetValueRequest struct {
	Value uint32 // field 1
}

func (r *SetValueRequest) Marshal(dst []byte) []byte {
	if r.Value != 0 {
		dst = protowire.AppendTag(dst, 1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.Value))
	}
	return dst
}

func (r *SetValueRequest) Unmarshal(body []byte) error {
	*r = SetValueRequest{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.Value = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// RetResponse carries only an operation result.
type RetResponse struct {
	Ret int32 // field 1
}

func (r *RetResponse) Marshal(dst []byte) []byte {
	if r.Ret != 0 {
		dst = protowire.AppendTag(dst, 1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(int64(r.Ret)))
	}
	return dst
}

func (r *RetResponse) Unmarshal(body []byte) error {
	*r = RetResponse{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.Ret = int32(int64(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// TextResponse carries the status or version report.
type TextResponse struct {
	Text string // field 1
}

func (r *TextResponse) Marshal(dst []byte) []byte {
	if r.Text != "" {
		dst = protowire.AppendTag(dst, 1, protowire.BytesType)
		dst = protowire.AppendString(dst, r.Text)
	}
	return dst
}

func (r *TextResponse) Unmarshal(body []byte, a *Arena) error {
	*r = TextResponse{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return n, nil
			}
			dst, ok := a.Alloc(len(v))
			if !ok {
				return 0, ErrArenaExhausted
			}
			copy(dst, v)
			r.Text = string(dst)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// SeededResponse reports the seeding state flags.
type SeededResponse struct {
	FullySeeded bool // field 1
	MinSeeded   bool // field 2
	Operational bool // field 3
}

func (r *SeededResponse) Marshal(dst []byte) []byte {
	dst = appendBool(dst, 1, r.FullySeeded)
	dst = appendBool(dst, 2, r.MinSeeded)
	dst = appendBool(dst, 3, r.Operational)
	return dst
}

func appendBool(dst []byte, num protowire.Number, v bool) []byte {
	if !v {
		return dst
	}
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, 1)
}

func (r *SeededResponse) Unmarshal(body []byte) error {
	*r = SeededResponse{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if typ == protowire.VarintType && num >= 1 && num <= 3 {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			switch num {
			case 1:
				r.FullySeeded = v != 0
			case 2:
				r.MinSeeded = v != 0
			case 3:
				r.Operational = v != 0
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// ValueResponse carries one u32 value (entropy levels, pool size,
// tunables).
type ValueResponse struct {
	Value uint32 // field 1
}

func (r *ValueResponse) Marshal(dst []byte) []byte {
	if r.Value != 0 {
		dst = protowire.AppendTag(dst, 1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.Value))
	}
	return dst
}

func (r *ValueResponse) Unmarshal(body []byte) error {
	*r = ValueResponse{}
	return walkFields(body, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num == 1 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return n, nil
			}
			r.Value = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
}

// walkFields iterates the fields of a wire-format body. The callback
// returns the consumed length of the field payload (negative for a parse
// error) or a hard error.
func walkFields(body []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return ErrTruncated
		}
		body = body[n:]

		n, err := field(num, typ, body)
		if err != nil {
			return err
		}
		if n < 0 {
			return ErrTruncated
		}
		body = body[n:]
	}
	return nil
}
