package handshake

import (
	"testing"

	"github.com/ethan/remote-play-relay/pkg/cipher"
)

func TestIsValidSessionIDRequiresLengthAndAlnum(t *testing.T) {
	valid := []byte("ABCDEFGHIJKLMNOPQRSTUVWX") // 24 alnum chars
	if !isValidSessionID(valid) {
		t.Fatalf("expected valid session id to pass")
	}

	tooShort := []byte("short")
	if isValidSessionID(tooShort) {
		t.Fatalf("expected too-short session id to fail")
	}

	nonAlnum := []byte("ABCDEFGHIJKLMNOPQRSTUVW!")
	if isValidSessionID(nonAlnum) {
		t.Fatalf("expected non-alnum session id to fail")
	}
}

func TestSynthesizeSessionIDIsNonEmptyAndVaries(t *testing.T) {
	a := synthesizeSessionID()
	b := synthesizeSessionID()
	if len(a) == 0 || len(b) == 0 {
		t.Fatalf("expected non-empty synthesized ids")
	}
	if string(a) == string(b) {
		t.Fatalf("expected synthesized ids to differ due to random component")
	}
}

func TestHandleFrameSessionIDFallsBackOnInvalid(t *testing.T) {
	var nonce, rpKey [16]byte
	rpIV, aesKey := DeriveKeys(nonce, rpKey, 0)
	h := &Handshake{state: StateRunning}
	c, err := cipher.New(0, aesKey, rpIV)
	if err != nil {
		t.Fatalf("build cipher: %v", err)
	}
	h.cipher = c

	var gotID []byte
	h.OnSessionReady = func(id []byte) { gotID = id }

	// body: [len=3]["a","b","c"] — too short and lowercase-only, but
	// still ASCII alnum; length check should reject it (min 24).
	body := []byte{3, 'a', 'b', 'c'}
	h.handleSessionID(body)

	if len(gotID) == 0 {
		t.Fatalf("expected a synthesized fallback session id")
	}
}
