package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client speaks the framed protocol over one Unix socket connection. It is
// used by esdmctl and by the end-to-end tests; the daemon itself never
// needs it.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reqID  uint32
	arena  *Arena
	hdrBuf [HeaderSize]byte
}

// Client-visible errors.
var (
	// ErrServiceFailed mirrors a SERVICE_FAILED response status.
	ErrServiceFailed = errors.New("rpc: service failed")

	// ErrAgain mirrors an EAGAIN operation result.
	ErrAgain = errors.New("rpc: insufficient entropy, try again")

	// ErrRequestMismatch means the response did not echo the request.
	ErrRequestMismatch = errors.New("rpc: response does not match request")
)

// Dial connects to an ESDM RPC socket.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", path, err)
	}
	return &Client{conn: conn, arena: NewArena(MaxMsgSize + 128)}, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call frames body for the given method, sends it and returns the response
// header and body. The response body aliases the client arena and is valid
// until the next call.
func (c *Client) Call(method uint32, body []byte) (Header, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reqID++
	req := Header{
		Status:    0,
		Method:    method,
		MsgLen:    uint32(len(body)),
		RequestID: c.reqID,
	}
	req.Encode(c.hdrBuf[:])

	if err := writeFull(c.conn, c.hdrBuf[:]); err != nil {
		return Header{}, nil, err
	}
	if err := writeFull(c.conn, body); err != nil {
		return Header{}, nil, err
	}

	if _, err := io.ReadFull(c.conn, c.hdrBuf[:]); err != nil {
		return Header{}, nil, err
	}
	resp, err := DecodeHeader(c.hdrBuf[:])
	if err != nil {
		return Header{}, nil, err
	}
	if resp.RequestID != req.RequestID || resp.Method != req.Method {
		return resp, nil, ErrRequestMismatch
	}

	c.arena.Reset()
	respBody, ok := c.arena.Alloc(int(resp.MsgLen))
	if !ok {
		return resp, nil, ErrArenaExhausted
	}
	if _, err := io.ReadFull(c.conn, respBody); err != nil {
		return resp, nil, err
	}
	return resp, respBody, nil
}

// GetRandomBytes requests n bytes at the given seeding level method (one
// of the four MethodGetRandomBytes* ordinals).
func (c *Client) GetRandomBytes(method uint32, n uint32) ([]byte, error) {
	req := RandomBytesRequest{Len: n}
	hdr, body, err := c.Call(method, req.Marshal(nil))
	if err != nil {
		return nil, err
	}
	if hdr.Status != StatusSuccess {
		return nil, ErrServiceFailed
	}

	var resp RandomBytesResponse
	if err := resp.Unmarshal(body, c.arena); err != nil {
		return nil, err
	}
	if resp.Ret == RetAgain {
		return nil, ErrAgain
	}
	if resp.Ret != RetOK {
		return nil, fmt.Errorf("rpc: operation failed with %d", resp.Ret)
	}

	out := make([]byte, len(resp.Data))
	copy(out, resp.Data)
	return out, nil
}

// Status fetches the human-readable status report.
func (c *Client) Status() (string, error) {
	return c.text(MethodStatus)
}

// Version fetches the daemon version string.
func (c *Client) Version() (string, error) {
	return c.text(MethodVersion)
}

func (c *Client) text(method uint32) (string, error) {
	hdr, body, err := c.Call(method, nil)
	if err != nil {
		return "", err
	}
	if hdr.Status != StatusSuccess {
		return "", ErrServiceFailed
	}
	var resp TextResponse
	if err := resp.Unmarshal(body, c.arena); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// IsFullySeeded fetches the seeding state flags.
func (c *Client) IsFullySeeded() (SeededResponse, error) {
	hdr, body, err := c.Call(MethodIsFullySeeded, nil)
	if err != nil {
		return SeededResponse{}, err
	}
	if hdr.Status != StatusSuccess {
		return SeededResponse{}, ErrServiceFailed
	}
	var resp SeededResponse
	if err := resp.Unmarshal(body); err != nil {
		return SeededResponse{}, err
	}
	return resp, nil
}

// Value fetches one u32 query method (entropy levels, pool size,
// tunables).
func (c *Client) Value(method uint32) (uint32, error) {
	hdr, body, err := c.Call(method, nil)
	if err != nil {
		return 0, err
	}
	if hdr.Status != StatusSuccess {
		return 0, ErrServiceFailed
	}
	var resp ValueResponse
	if err := resp.Unmarshal(body); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// InsertAux credits entropy to the auxiliary pool. Privileged.
func (c *Client) InsertAux(data []byte, bits uint32) error {
	req := InsertAuxRequest{Data: data, EntropyBits: bits}
	return c.retCall(MethodPoolInsertAux, req.Marshal(nil))
}

// SetWriteWakeupBits updates the writer wakeup threshold. Privileged.
func (c *Client) SetWriteWakeupBits(bits uint32) error {
	req := SetValueRequest{Value: bits}
	return c.retCall(MethodSetWriteWakeupBits, req.Marshal(nil))
}

// SetReseedMaxTime updates the maximum seed age in seconds. Privileged.
func (c *Client) SetReseedMaxTime(secs uint32) error {
	req := SetValueRequest{Value: secs}
	return c.retCall(MethodSetReseedMaxTime, req.Marshal(nil))
}

// ForceReseed latches a reseed on all DRNG instances. Privileged.
func (c *Client) ForceReseed() error {
	return c.retCall(MethodDRNGForceReseed, nil)
}

func (c *Client) retCall(method uint32, body []byte) error {
	hdr, respBody, err := c.Call(method, body)
	if err != nil {
		return err
	}
	if hdr.Status != StatusSuccess {
		return ErrServiceFailed
	}
	var resp RetResponse
	if err := resp.Unmarshal(respBody); err != nil {
		return err
	}
	if resp.Ret != RetOK {
		return fmt.Errorf("rpc: operation failed with %d", resp.Ret)
	}
	return nil
}
