package handshake_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/ethan/remote-play-relay/pkg/cipher"
	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/handshake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeysDeterministic(t *testing.T) {
	var nonce, rpKey [16]byte
	for i := range nonce {
		nonce[i] = byte(i)
		rpKey[i] = byte(0x10 + i)
	}

	iv1, key1 := handshake.DeriveKeys(nonce, rpKey, codec.PS4)
	iv2, key2 := handshake.DeriveKeys(nonce, rpKey, codec.PS4)
	assert.Equal(t, iv1, iv2)
	assert.Equal(t, key1, key2)

	ivPS5, keyPS5 := handshake.DeriveKeys(nonce, rpKey, codec.PS5)
	assert.NotEqual(t, iv1, ivPS5)
	assert.NotEqual(t, key1, keyPS5)
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	var nonce, rpKey [16]byte
	rpIV, aesKey := handshake.DeriveKeys(nonce, rpKey, codec.PS4)
	c, err := cipher.New(byte(codec.PS4), aesKey, rpIV)
	require.NoError(t, err)

	encoded := handshake.EncodeFrame(handshake.FrameHeartbeatRequest, []byte("ping"), c)

	r := bufio.NewReader(bytes.NewReader(encoded))
	frame, err := handshake.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, uint16(handshake.FrameHeartbeatRequest), frame.Type)
}
