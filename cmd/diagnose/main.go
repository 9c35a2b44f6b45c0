// cmd/diagnose is a standalone, no-WebRTC probe: it runs the §4.H
// handshake against one console up through KeyDerive (and, with
// -full, through SessionOpen and the first frame observed on the
// running control loop), printing what it derived along the way.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethan/remote-play-relay/pkg/codec"
	"github.com/ethan/remote-play-relay/pkg/handshake"
	"github.com/ethan/remote-play-relay/pkg/logger"
)

func main() {
	hostIP := flag.String("host", "", "console IP address")
	hostTypeFlag := flag.String("host-type", "PS5", "PS4 or PS5")
	registKey := flag.String("regist-key", "", "registration key")
	rpKeyHex := flag.String("rp-key", "", "16-byte rp_key, hex-encoded")
	full := flag.Bool("full", false, "also run SessionOpen and print the first control-loop frame")
	authB64 := flag.String("auth", "", "base64-encoded auth payload (required with -full)")
	deviceID := flag.String("device-id", "", "device id (required with -full)")
	timeout := flag.Duration("timeout", 45*time.Second, "overall handshake timeout")
	flag.Parse()

	if *hostIP == "" {
		fmt.Fprintln(os.Stderr, "error: -host is required")
		os.Exit(1)
	}

	var hostType codec.HostType
	switch *hostTypeFlag {
	case "PS4":
		hostType = codec.PS4
	case "PS5":
		hostType = codec.PS5
	default:
		fmt.Fprintf(os.Stderr, "error: -host-type must be PS4 or PS5, got %q\n", *hostTypeFlag)
		os.Exit(1)
	}

	var rpKey [16]byte
	if *rpKeyHex != "" {
		raw, err := hex.DecodeString(*rpKeyHex)
		if err != nil || len(raw) != 16 {
			fmt.Fprintf(os.Stderr, "error: -rp-key must be 16 bytes of hex: %v\n", err)
			os.Exit(1)
		}
		copy(rpKey[:], raw)
	}

	logger.SetDefault(mustLogger())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	h := handshake.New(*hostIP, hostType, *registKey, rpKey)

	fmt.Printf("discovering %s (%s)...\n", *hostIP, *hostTypeFlag)
	if err := h.Discover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "discover failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("discover: OK")

	if err := h.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("init: OK")

	if err := h.KeyDerive(); err != nil {
		fmt.Fprintf(os.Stderr, "key derive failed: %v\n", err)
		os.Exit(1)
	}
	cipherState := h.Cipher()
	aesKey := cipherState.AESKey()
	sessionIV := cipherState.SessionIV()
	fmt.Printf("key_derive: OK\n  aes_key:    %s\n  session_iv: %s\n",
		hex.EncodeToString(aesKey[:]), hex.EncodeToString(sessionIV[:]))

	if !*full {
		return
	}

	var auth []byte
	if *authB64 != "" {
		var err error
		auth, err = base64.StdEncoding.DecodeString(*authB64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: -auth is not valid base64: %v\n", err)
			os.Exit(1)
		}
	}

	if err := h.SessionOpen(ctx, auth, *deviceID); err != nil {
		fmt.Fprintf(os.Stderr, "session open failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("session_open: OK")

	sessionIDCh := make(chan []byte, 1)
	h.OnSessionReady = func(sid []byte) { sessionIDCh <- sid }

	loopErr := make(chan error, 1)
	go func() { loopErr <- h.RunControlLoop(ctx) }()

	select {
	case sid := <-sessionIDCh:
		fmt.Printf("session_id: %s\n", sid)
	case err := <-loopErr:
		fmt.Fprintf(os.Stderr, "control loop ended before a session-id frame arrived: %v\n", err)
		os.Exit(1)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "timed out waiting for a session-id frame")
		os.Exit(1)
	}

	_ = h.Stop()
}

func mustLogger() *logger.Logger {
	l, err := logger.New(logger.NewConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	return l
}
