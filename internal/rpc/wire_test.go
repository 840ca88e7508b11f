package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{},
		{Status: StatusSuccess, Method: 0, MsgLen: 0, RequestID: 0xDEADBEEF},
		{Status: StatusServiceFailed, Method: 15, MsgLen: 65536, RequestID: 1},
		{Status: 7, Method: ^uint32(0), MsgLen: 12345, RequestID: ^uint32(0)},
	}
	for _, h := range cases {
		var buf [HeaderSize]byte
		h.Encode(buf[:])
		got, err := DecodeHeader(buf[:])
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestHeaderWireLayoutLittleEndian(t *testing.T) {
	h := Header{
		Status:    0x01020304,
		Method:    0x05060708,
		MsgLen:    0x0102,
		RequestID: 0xDEADBEEF,
	}
	var buf [HeaderSize]byte
	h.Encode(buf[:])

	// Byte-level layout is fixed regardless of host order.
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[0:4])
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05}, buf[4:8])
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00}, buf[8:12])
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf[12:16])
}

func TestDecodeHeaderClampsLength(t *testing.T) {
	h := Header{MsgLen: MaxMsgSize + 999}
	var buf [HeaderSize]byte
	h.Encode(buf[:])

	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxMsgSize), got.MsgLen)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestArenaAllocAndReset(t *testing.T) {
	a := NewArena(64)
	assert.Equal(t, 64, a.Size())

	b1, ok := a.Alloc(16)
	require.True(t, ok)
	assert.Len(t, b1, 16)
	copy(b1, "sixteen byte str")

	b2, ok := a.Alloc(48)
	require.True(t, ok)
	assert.Len(t, b2, 48)
	assert.Equal(t, 64, a.Used())

	_, ok = a.Alloc(1)
	assert.False(t, ok, "exhausted arena handed out memory")

	a.Reset()
	assert.Zero(t, a.Used())
	for i, b := range b1 {
		assert.Zerof(t, b, "byte %d survived reset", i)
	}

	// The slab is reusable after reset.
	b3, ok := a.Alloc(64)
	require.True(t, ok)
	assert.Len(t, b3, 64)
}

func TestArenaAllocZeroed(t *testing.T) {
	a := NewArena(8)
	b, ok := a.Alloc(8)
	require.True(t, ok)
	copy(b, "ABCDEFGH")
	a.Reset()

	b, ok = a.Alloc(8)
	require.True(t, ok)
	for i := range b {
		assert.Zerof(t, b[i], "byte %d dirty after realloc", i)
	}
}

func TestFramingPathDoesNotAllocate(t *testing.T) {
	a := NewArena(MaxMsgSize)
	var hdrBuf [HeaderSize]byte
	h := Header{Method: MethodGetRandomBytes, MsgLen: 32, RequestID: 9}

	allocs := testing.AllocsPerRun(100, func() {
		h.Encode(hdrBuf[:])
		got, err := DecodeHeader(hdrBuf[:])
		if err != nil || got.RequestID != 9 {
			t.Fatal("framing broke")
		}
		buf, ok := a.Alloc(4096)
		if !ok || len(buf) != 4096 {
			t.Fatal("arena broke")
		}
		a.Reset()
	})
	assert.Zero(t, allocs, "framing hot path allocated")
}
