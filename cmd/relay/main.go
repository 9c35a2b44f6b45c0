package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ethan/remote-play-relay/pkg/api"
	"github.com/ethan/remote-play-relay/pkg/config"
	"github.com/ethan/remote-play-relay/pkg/control"
	"github.com/ethan/remote-play-relay/pkg/logger"
	"github.com/ethan/remote-play-relay/pkg/session"
	"github.com/ethan/remote-play-relay/pkg/signalling"
	"github.com/ethan/remote-play-relay/pkg/video"
)

func main() {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("env", ".env", "path to the configuration .env file")
	addr := fs.String("addr", ":8080", "HTTP signalling listen address")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Remote-play relay: console handshake + AV pipeline + WebRTC signalling\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	logger.Info("starting remote-play relay", "log_config", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		"public_ip", cfg.PublicIP,
		"prefer_lan_candidates", cfg.PreferLANCandidates,
		"turn_servers", len(cfg.TURNServers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sigCfg := signalling.Config{
		STUNServers:        []string{"stun:stun.l.google.com:19302"},
		TURNServers:        toICEServers(cfg.TURNServers),
		PublicIP:           cfg.PublicIP,
		PreferLANCandidate: cfg.PreferLANCandidates,
		ICEPortMin:         cfg.ICE.PortMin,
		ICEPortMax:         cfg.ICE.PortMax,
		ShufflePorts:       cfg.ICE.ShufflePorts,
	}

	// The console publishes its own video profile table (resolution,
	// header bytes) out of band; until that negotiation is specified,
	// a single default profile derived from the configured resolution
	// stands in, with no header bytes to prepend on profile switch.
	profiles := []video.Profile{defaultProfile(cfg.DefaultResolution)}

	mgr := session.NewManager(sigCfg, control.NewNoopService(), profiles)
	mgr.Start(ctx)
	defer mgr.Stop()

	server := api.NewServer(mgr, cfg)
	if err := server.Start(*addr); err != nil {
		logger.Error("failed to start signalling server", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Error("error stopping signalling server", "error", err)
		}
	}()

	logger.Info("ready - press Ctrl+C to stop", "address", *addr)
	<-ctx.Done()
	logger.Info("graceful shutdown complete")
}

func toICEServers(servers []config.TURNServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: []string{s.URL}}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		out = append(out, ice)
	}
	return out
}

func defaultProfile(resolution string) video.Profile {
	w, h := 1280, 720
	if parts := strings.SplitN(resolution, "x", 2); len(parts) == 2 {
		if pw, err := strconv.Atoi(parts[0]); err == nil {
			w = pw
		}
		if ph, err := strconv.Atoi(parts[1]); err == nil {
			h = ph
		}
	}
	return video.Profile{Index: 0, Width: w, Height: h}
}
