package tcprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gobus/berrors"
	"gobus/codec"
	"gobus/loadbalance"
	"gobus/message"
	"gobus/registry"
	"gobus/transport"
)

// client is the calling side of a tcprpc.Transport: it discovers service
// instances via a registry.Registry, picks one with a loadbalance.Balancer,
// and holds one multiplexedConn per remote address, dialed lazily and
// reused across calls.
type client struct {
	reg         registry.Registry
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*multiplexedConn
}

func newClient(reg registry.Registry, balancer loadbalance.Balancer, codecType codec.CodecType) *client {
	return &client{
		reg:         reg,
		balancer:    balancer,
		codecType:   codecType,
		dialTimeout: 5 * time.Second,
		conns:       map[string]*multiplexedConn{},
	}
}

func (c *client) connFor(apiName string) (*multiplexedConn, string, error) {
	instances, err := c.reg.Discover(apiName)
	if err != nil {
		return nil, "", fmt.Errorf("tcprpc: discover %s: %w", apiName, err)
	}
	if len(instances) == 0 {
		return nil, "", fmt.Errorf("tcprpc: no instances registered for %s", apiName)
	}
	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, "", fmt.Errorf("tcprpc: pick instance for %s: %w", apiName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[inst.Addr]; ok {
		return conn, inst.Addr, nil
	}
	netConn, err := net.DialTimeout("tcp", inst.Addr, c.dialTimeout)
	if err != nil {
		return nil, "", fmt.Errorf("tcprpc: dial %s: %w", inst.Addr, err)
	}
	conn := newMultiplexedConn(netConn, c.codecType)
	c.conns[inst.Addr] = conn
	return conn, inst.Addr, nil
}

func (c *client) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

func encodeReturnPath(addr string, seq uint32) string {
	return addr + "#" + strconv.FormatUint(uint64(seq), 10)
}

func decodeReturnPath(returnPath string) (addr string, seq uint32, err error) {
	idx := strings.LastIndexByte(returnPath, '#')
	if idx < 0 {
		return "", 0, fmt.Errorf("tcprpc: malformed return path %q", returnPath)
	}
	n, err := strconv.ParseUint(returnPath[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("tcprpc: malformed return path %q: %w", returnPath, err)
	}
	return returnPath[:idx], uint32(n), nil
}

// getReturnPath resolves the remote instance and reserves a response
// channel before any bytes are sent, so ReceiveResult can never miss a
// reply that arrives before it starts waiting.
func (c *client) getReturnPath(_ context.Context, msg *message.RpcMessage) (string, error) {
	conn, addr, err := c.connFor(msg.APIName)
	if err != nil {
		return "", err
	}
	seq, _ := conn.reserve()
	return encodeReturnPath(addr, seq), nil
}

func (c *client) callRPC(_ context.Context, msg *message.RpcMessage, _ transport.CallOptions) error {
	addr, seq, err := decodeReturnPath(msg.ReturnPath)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, ok := c.conns[addr]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("tcprpc: no open connection to %s", addr)
	}

	payload, err := json.Marshal(msg.Kwargs)
	if err != nil {
		return fmt.Errorf("tcprpc: marshal kwargs: %w", err)
	}
	frame := &codec.Frame{
		Target:  msg.CanonicalName(),
		ID:      msg.ID.String(),
		Payload: payload,
	}
	return conn.sendReserved(seq, frame)
}

func (c *client) cancel(context.Context, string) error {
	// Best-effort only: the wire protocol has no cancellation frame.
	return nil
}

func (c *client) receiveResult(ctx context.Context, _ *message.RpcMessage, returnPath string, _ transport.CallOptions) (*message.ResultMessage, error) {
	addr, seq, err := decodeReturnPath(returnPath)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	conn, ok := c.conns[addr]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tcprpc: no open connection to %s", addr)
	}

	chAny, ok := conn.pending.Load(seq)
	if !ok {
		return nil, fmt.Errorf("tcprpc: unknown return path %q", returnPath)
	}
	ch := chAny.(chan *codec.Frame)
	defer conn.cancelReserved(seq)

	select {
	case frame, ok := <-ch:
		if !ok {
			return nil, &berrors.TransportIsClosed{Transport: "tcprpc.client"}
		}
		return decodeResultFrame(frame)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeResultFrame(frame *codec.Frame) (*message.ResultMessage, error) {
	id, err := uuid.Parse(frame.ID)
	if err != nil {
		return nil, fmt.Errorf("tcprpc: parse result id: %w", err)
	}
	if frame.ErrFlag {
		return message.NewErrorResult(id, frame.ErrText, ""), nil
	}
	var result any
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &result); err != nil {
			return nil, fmt.Errorf("tcprpc: unmarshal result: %w", err)
		}
	}
	return message.NewSuccessResult(id, result), nil
}
