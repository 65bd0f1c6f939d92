package tcprpc

import (
	"net"
	"testing"
	"time"

	"gobus/codec"
)

func TestMultiplexedConnCloseReturnsPromptly(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	mc := newMultiplexedConn(server, codec.CodecTypeJSON)

	done := make(chan struct{})
	go func() {
		mc.Close()
		close(done)
	}()

	// heartbeatLoop's ticker is 30s; if Close didn't signal it via closeCh
	// and instead waited for recvLoop/heartbeatLoop to notice on their own,
	// this would hang far longer than a second.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return within a second")
	}
}
