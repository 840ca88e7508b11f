package rpc

import (
	"context"
	"errors"
	"log/slog"

	"esdmd/internal/manager"
)

// Method table ordinals. The wire header carries these; they are stable
// protocol surface.
const (
	MethodGetRandomBytes     uint32 = 0
	MethodGetRandomBytesFull uint32 = 1
	MethodGetRandomBytesMin  uint32 = 2
	MethodGetRandomBytesPR   uint32 = 3
	MethodStatus             uint32 = 4
	MethodVersion            uint32 = 5
	MethodIsFullySeeded      uint32 = 6
	MethodAvailEntropy       uint32 = 7
	MethodAvailEntropyAux    uint32 = 8
	MethodAvailPoolsizeAux   uint32 = 9
	MethodGetWriteWakeupBits uint32 = 10
	MethodGetReseedMaxTime   uint32 = 11
	MethodPoolInsertAux      uint32 = 12
	MethodSetWriteWakeupBits uint32 = 13
	MethodSetReseedMaxTime   uint32 = 14
	MethodDRNGForceReseed    uint32 = 15
)

// MaxRandomBytes caps a single random-bytes request so the response body
// plus framing stays inside MaxMsgSize.
const MaxRandomBytes = MaxMsgSize - 32

// Service binds the method table to the DRNG manager.
type Service struct {
	mgr     *manager.Manager
	version string
	log     *slog.Logger
}

// NewService creates the RPC service over a manager.
func NewService(mgr *manager.Manager, version string, log *slog.Logger) *Service {
	return &Service{mgr: mgr, version: version, log: log}
}

// Method describes one dispatchable operation.
type Method struct {
	Name       string
	Privileged bool
	Handle     func(ctx context.Context, s *Service, c *connState, req []byte) ([]byte, error)
}

// methodTable is indexed by the wire method ordinal.
var methodTable = []Method{
	MethodGetRandomBytes:     {Name: "get_random_bytes", Handle: handleGetRandomBytes},
	MethodGetRandomBytesFull: {Name: "get_random_bytes_full", Handle: handleGetRandomBytesFull},
	MethodGetRandomBytesMin:  {Name: "get_random_bytes_min", Handle: handleGetRandomBytesMin},
	MethodGetRandomBytesPR:   {Name: "get_random_bytes_pr", Handle: handleGetRandomBytesPR},
	MethodStatus:             {Name: "status", Handle: handleStatus},
	MethodVersion:            {Name: "version", Handle: handleVersion},
	MethodIsFullySeeded:      {Name: "is_fully_seeded", Handle: handleIsFullySeeded},
	MethodAvailEntropy:       {Name: "avail_entropy", Handle: handleAvailEntropy},
	MethodAvailEntropyAux:    {Name: "avail_entropy_aux", Handle: handleAvailEntropyAux},
	MethodAvailPoolsizeAux:   {Name: "avail_poolsize_aux", Handle: handleAvailPoolsizeAux},
	MethodGetWriteWakeupBits: {Name: "get_write_wakeup_bits", Handle: handleGetWriteWakeupBits},
	MethodGetReseedMaxTime:   {Name: "get_reseed_max_time", Handle: handleGetReseedMaxTime},
	MethodPoolInsertAux:      {Name: "pool_insert_aux", Privileged: true, Handle: handlePoolInsertAux},
	MethodSetWriteWakeupBits: {Name: "set_write_wakeup_bits", Privileged: true, Handle: handleSetWriteWakeupBits},
	MethodSetReseedMaxTime:   {Name: "set_reseed_max_time", Privileged: true, Handle: handleSetReseedMaxTime},
	MethodDRNGForceReseed:    {Name: "drng_force_reseed", Privileged: true, Handle: handleDRNGForceReseed},
}

// generateVariant produces the response for the four random-bytes levels.
// Output is generated into arena memory so it is wiped with the request.
func generateVariant(c *connState, n uint32,
	gen func(buf []byte) (int, error)) ([]byte, error) {

	if n > MaxRandomBytes {
		n = MaxRandomBytes
	}

	resp := RandomBytesResponse{}
	if n > 0 {
		buf, ok := c.arena.Alloc(int(n))
		if !ok {
			return nil, ErrArenaExhausted
		}
		got, err := gen(buf)
		switch {
		case err == nil:
			resp.Data = buf[:got]
		case errors.Is(err, manager.ErrAgain):
			resp.Ret = RetAgain
		default:
			return nil, err
		}
	}
	return resp.Marshal(c.respBody()), nil
}

func handleGetRandomBytes(_ context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r RandomBytesRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	return generateVariant(c, r.Len, s.mgr.GetRandomBytes)
}

func handleGetRandomBytesFull(ctx context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r RandomBytesRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	return generateVariant(c, r.Len, func(buf []byte) (int, error) {
		return s.mgr.GetRandomBytesFull(ctx, buf)
	})
}

func handleGetRandomBytesMin(ctx context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r RandomBytesRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	return generateVariant(c, r.Len, func(buf []byte) (int, error) {
		return s.mgr.GetRandomBytesMin(ctx, buf)
	})
}

func handleGetRandomBytesPR(ctx context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r RandomBytesRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	return generateVariant(c, r.Len, func(buf []byte) (int, error) {
		return s.mgr.GetRandomBytesPR(ctx, buf)
	})
}

func handleStatus(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	resp := TextResponse{Text: s.mgr.StatusText(s.version)}
	return resp.Marshal(c.respBody()), nil
}

func handleVersion(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	resp := TextResponse{Text: s.version}
	return resp.Marshal(c.respBody()), nil
}

func handleIsFullySeeded(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	resp := SeededResponse{
		FullySeeded: s.mgr.FullySeeded(),
		MinSeeded:   s.mgr.MinSeeded(),
		Operational: s.mgr.Operational(),
	}
	return resp.Marshal(c.respBody()), nil
}

func handleAvailEntropy(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	return ValueResponse{Value: s.mgr.AvailEntropy()}.marshalInto(c)
}

func handleAvailEntropyAux(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	return ValueResponse{Value: s.mgr.AvailEntropyAux()}.marshalInto(c)
}

func handleAvailPoolsizeAux(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	return ValueResponse{Value: s.mgr.PoolsizeAux()}.marshalInto(c)
}

func handleGetWriteWakeupBits(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	return ValueResponse{Value: s.mgr.WriteWakeupBits()}.marshalInto(c)
}

func handleGetReseedMaxTime(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	return ValueResponse{Value: s.mgr.ReseedMaxSeconds()}.marshalInto(c)
}

func (r ValueResponse) marshalInto(c *connState) ([]byte, error) {
	return r.Marshal(c.respBody()), nil
}

func handlePoolInsertAux(_ context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r InsertAuxRequest
	if err := r.Unmarshal(req, c.arena); err != nil {
		return nil, err
	}
	resp := RetResponse{}
	if r.Data == nil {
		resp.Ret = RetInval
	} else if err := s.mgr.InsertAux(r.Data, r.EntropyBits); err != nil {
		resp.Ret = RetInval
	}
	return resp.Marshal(c.respBody()), nil
}

func handleSetWriteWakeupBits(_ context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r SetValueRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	s.mgr.SetWriteWakeupBits(r.Value)
	resp := RetResponse{}
	return resp.Marshal(c.respBody()), nil
}

func handleSetReseedMaxTime(_ context.Context, s *Service, c *connState, req []byte) ([]byte, error) {
	var r SetValueRequest
	if err := r.Unmarshal(req); err != nil {
		return nil, err
	}
	s.mgr.SetReseedMaxSeconds(r.Value)
	resp := RetResponse{}
	return resp.Marshal(c.respBody()), nil
}

func handleDRNGForceReseed(_ context.Context, s *Service, c *connState, _ []byte) ([]byte, error) {
	s.mgr.ForceReseed()
	resp := RetResponse{}
	return resp.Marshal(c.respBody()), nil
}
