package tcprpc

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gobus/codec"
	"gobus/protocol"
)

// multiplexedConn manages a single TCP connection shared by many concurrent
// callers: each outbound request gets a sequence number, and one recvLoop
// goroutine dispatches every incoming frame to the caller waiting on that
// sequence.
//
// Registering a sequence's response channel (reserve) is split from
// writing the frame (sendReserved) so a ResultTransport.GetReturnPath call
// can register the channel before the RPC engine ever calls CallRPC — no
// send/receive race.
type multiplexedConn struct {
	conn      net.Conn
	codecType codec.CodecType

	seq     atomic.Uint32
	pending sync.Map // map[uint32]chan *codec.Frame

	sending sync.Mutex // serializes writes so frames aren't interleaved

	// onRequest is invoked from recvLoop for inbound MsgTypeRequest frames.
	// nil on connections that only ever place calls (never serve them).
	onRequest func(seq uint32, frame *codec.Frame)

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

func newMultiplexedConn(conn net.Conn, codecType codec.CodecType) *multiplexedConn {
	c := &multiplexedConn{conn: conn, codecType: codecType, closeCh: make(chan struct{})}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.recvLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.heartbeatLoop(30 * time.Second)
	}()
	return c
}

// reserve allocates a sequence number and registers its response channel,
// without writing anything to the wire yet.
func (c *multiplexedConn) reserve() (uint32, chan *codec.Frame) {
	seq := c.seq.Add(1)
	ch := make(chan *codec.Frame, 1)
	c.pending.Store(seq, ch)
	return seq, ch
}

func (c *multiplexedConn) cancelReserved(seq uint32) {
	c.pending.Delete(seq)
}

// sendReserved writes a request frame under a previously reserved sequence.
func (c *multiplexedConn) sendReserved(seq uint32, frame *codec.Frame) error {
	cdc := codec.GetCodec(c.codecType)
	body, err := cdc.Encode(frame)
	if err != nil {
		c.pending.Delete(seq)
		return err
	}
	header := protocol.Header{
		CodecType: byte(c.codecType),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	c.sending.Lock()
	defer c.sending.Unlock()
	if err := protocol.Encode(c.conn, &header, body); err != nil {
		c.pending.Delete(seq)
		return err
	}
	return nil
}

// reply writes a response frame for seq. Used by the server side; no
// pending registration is involved since nothing here is awaiting a reply.
func (c *multiplexedConn) reply(seq uint32, frame *codec.Frame) error {
	cdc := codec.GetCodec(c.codecType)
	body, err := cdc.Encode(frame)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(c.codecType),
		MsgType:   protocol.MsgTypeResponse,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	c.sending.Lock()
	defer c.sending.Unlock()
	return protocol.Encode(c.conn, &header, body)
}

func (c *multiplexedConn) recvLoop() {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			c.closeAllPending()
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		frame := &codec.Frame{}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, frame); err != nil {
			continue
		}

		switch header.MsgType {
		case protocol.MsgTypeResponse:
			// The entry stays registered until the receiver's
			// cancelReserved, so a receiver that starts waiting after the
			// reply arrived still finds the buffered frame.
			if ch, ok := c.pending.Load(header.Seq); ok {
				select {
				case ch.(chan *codec.Frame) <- frame:
				default:
				}
			}
		case protocol.MsgTypeRequest:
			if c.onRequest != nil {
				c.onRequest(header.Seq, frame)
			}
		}
	}
}

func (c *multiplexedConn) closeAllPending() {
	c.pending.Range(func(key, value any) bool {
		close(value.(chan *codec.Frame))
		c.pending.Delete(key)
		return true
	})
}

func (c *multiplexedConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat, BodyLen: 0}
			c.sending.Lock()
			err := protocol.Encode(c.conn, header, nil)
			c.sending.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close closes the underlying socket and blocks until recvLoop and
// heartbeatLoop have both exited, so a caller that has called Close knows
// no goroutine of this conn's will touch onRequest or the socket again.
func (c *multiplexedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	err := c.conn.Close()
	c.wg.Wait()
	return err
}
