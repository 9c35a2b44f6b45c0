package handshake

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ethan/remote-play-relay/pkg/cipher"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningHandshake(t *testing.T, conn net.Conn) *Handshake {
	t.Helper()
	var nonce, rpKey [16]byte
	rpIV, aesKey := DeriveKeys(nonce, rpKey, codec.PS4)
	c, err := cipher.New(byte(codec.PS4), aesKey, rpIV)
	require.NoError(t, err)

	return &Handshake{
		HostType: codec.PS4,
		cipher:   c,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		state:    StateRunning,
	}
}

func TestRunControlLoopAnswersHeartbeat(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	h := newRunningHandshake(t, clientConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.RunControlLoop(ctx) }()

	frame := EncodeFrame(FrameHeartbeatRequest, []byte("ping"), h.cipher)
	_, err := serverConn.Write(frame)
	require.NoError(t, err)

	reply, err := ReadFrame(bufio.NewReader(serverConn))
	require.NoError(t, err)
	assert.Equal(t, uint16(FrameHeartbeatResponse), reply.Type)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunControlLoop did not exit after cancel")
	}
}

func TestRunControlLoopAnswersMultipleHeartbeats(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	h := newRunningHandshake(t, clientConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.RunControlLoop(ctx) }()

	serverReader := bufio.NewReader(serverConn)
	for i := 0; i < 3; i++ {
		// Requests are encrypted with h.cipher's encCounter, which the
		// heartbeat replies also advance, so after the first frame the
		// request body no longer decrypts to "ping". The reply does not
		// depend on the body: what is checked is one reply per request.
		frame := EncodeFrame(FrameHeartbeatRequest, []byte("ping"), h.cipher)
		_, err := serverConn.Write(frame)
		require.NoError(t, err)

		reply, err := ReadFrame(serverReader)
		require.NoError(t, err)
		assert.Equal(t, uint16(FrameHeartbeatResponse), reply.Type)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunControlLoop did not exit after cancel")
	}
}

func TestRunControlLoopDispatchesSessionID(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	h := newRunningHandshake(t, clientConn)

	ready := make(chan []byte, 1)
	h.OnSessionReady = func(sid []byte) { ready <- sid }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.RunControlLoop(ctx)

	sessionID := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZAB0123")
	body := append([]byte{byte(len(sessionID))}, sessionID...)
	frame := EncodeFrame(FrameSessionID, body, h.cipher)
	_, err := serverConn.Write(frame)
	require.NoError(t, err)

	select {
	case sid := <-ready:
		assert.Equal(t, sessionID, sid)
	case <-time.After(time.Second):
		t.Fatal("OnSessionReady was not called")
	}
}
