package tcprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gobus/berrors"
	"gobus/blog"
	"gobus/codec"
	"gobus/message"
)

// server is the serving side of a tcprpc.Transport: it accepts TCP
// connections and turns inbound request frames into message.RpcMessage
// values for the RPC engine's ConsumeRPCs loop, then routes SendResult
// calls back to the originating connection and sequence.
//
// It runs the usual Accept loop spawning one goroutine per connection, with
// a shutdown flag checked on Accept errors during a graceful close.
type server struct {
	listener  net.Listener
	codecType codec.CodecType
	logger    *blog.Logger

	mu         sync.Mutex
	conns      map[uint64]*multiplexedConn
	nextConnID uint64

	incoming chan inboundRequest
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

type inboundRequest struct {
	msg *message.RpcMessage
}

func listen(addr string, codecType codec.CodecType, logger *blog.Logger) (*server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcprpc: listen %s: %w", addr, err)
	}
	s := &server{
		listener:  ln,
		codecType: codecType,
		logger:    logger,
		conns:     map[uint64]*multiplexedConn{},
		incoming:  make(chan inboundRequest, 256),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return
			}
			s.logger.Warn("tcprpc accept error", zap.Error(err))
			continue
		}
		connID := atomic.AddUint64(&s.nextConnID, 1)
		mc := newMultiplexedConn(conn, s.codecType)
		mc.onRequest = func(seq uint32, frame *codec.Frame) {
			s.handleRequestFrame(connID, seq, frame)
		}
		s.mu.Lock()
		s.conns[connID] = mc
		s.mu.Unlock()
	}
}

func (s *server) handleRequestFrame(connID uint64, seq uint32, frame *codec.Frame) {
	apiName, procedureName, ok := splitCanonicalName(frame.Target)
	if !ok {
		s.logger.Warn("tcprpc: malformed target", zap.String("target", frame.Target))
		return
	}
	var kwargs map[string]any
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &kwargs); err != nil {
			s.logger.Warn("tcprpc: malformed request payload", zap.Error(err))
			return
		}
	}

	msg := message.NewRpcMessage(apiName, procedureName, kwargs)
	if id, err := uuid.Parse(frame.ID); err == nil {
		msg.ID = id
	}
	msg.ReturnPath = encodeReturnPath(strconv.FormatUint(connID, 10), seq)

	s.incoming <- inboundRequest{msg: msg}
}

func splitCanonicalName(target string) (apiName, procedureName string, ok bool) {
	idx := strings.LastIndexByte(target, '.')
	if idx < 0 {
		return "", "", false
	}
	return target[:idx], target[idx+1:], true
}

// consumeRPCs returns the next inbound request addressed to one of
// apiNames, blocking until one arrives, ctx is cancelled, or the server
// has been closed.
func (s *server) consumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	allowed := make(map[string]struct{}, len(apiNames))
	for _, name := range apiNames {
		allowed[name] = struct{}{}
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case req, ok := <-s.incoming:
			if !ok {
				return nil, &berrors.TransportIsClosed{Transport: "tcprpc.server"}
			}
			if _, want := allowed[req.msg.APIName]; !want {
				continue
			}
			return []*message.RpcMessage{req.msg}, nil
		}
	}
}

// sendResult writes a result frame back on the connection and sequence
// named by returnPath, which the server itself minted in handleRequestFrame.
func (s *server) sendResult(_ context.Context, _ *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	connIDStr, seq, err := decodeReturnPath(returnPath)
	if err != nil {
		return err
	}
	connID, err := strconv.ParseUint(connIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("tcprpc: malformed return path %q: %w", returnPath, err)
	}

	s.mu.Lock()
	conn, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("tcprpc: connection %d no longer open", connID)
	}

	frame := &codec.Frame{ID: resultMsg.RpcMessageID.String()}
	if resultMsg.Error {
		frame.ErrFlag = true
		if desc, ok := resultMsg.Result.(string); ok {
			frame.ErrText = desc
		}
	} else {
		payload, err := json.Marshal(resultMsg.Result)
		if err != nil {
			return fmt.Errorf("tcprpc: marshal result: %w", err)
		}
		frame.Payload = payload
	}
	return conn.reply(seq, frame)
}

// close stops the accept loop and every open connection. conn.Close
// blocks until that connection's own recvLoop and heartbeatLoop have
// exited, so once the loop below returns, no connection goroutine can
// still be decoding a frame and racing handleRequestFrame's send on
// s.incoming — only then is it safe to close(s.incoming).
func (s *server) close() error {
	s.shutdown.Store(true)
	err := s.listener.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.incoming)
	return err
}
