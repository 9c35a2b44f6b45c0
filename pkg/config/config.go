// Package config loads the relay's runtime configuration from a .env
// file, following the shape of spec.md §6's configuration list.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// TURNServer is one entry of the turn_servers configuration list.
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// ICEConfig restricts ICE candidate allocation.
type ICEConfig struct {
	PortMin      uint16
	PortMax      uint16
	ShufflePorts bool
}

// AuthConfig is carried for the excluded auth collaborator only; this
// module never consumes it (see spec.md §1 Out of scope).
type AuthConfig struct {
	JWTIssuer   string
	JWTAudience string
	JWTSecret   string
	DatabaseURL string
}

// Config holds all relay configuration.
type Config struct {
	TURNServers         []TURNServer
	ICE                 ICEConfig
	PublicIP            string
	PreferLANCandidates bool

	DiscoveryTimeout time.Duration
	ConnectTimeout   time.Duration

	DefaultResolution string
	DefaultFPS        int
	DefaultQuality    string

	KeyframeCooldown time.Duration

	Auth AuthConfig
}

// Default mirrors the constants spec.md names explicitly (§4.J, §9
// Open Questions). KeyframeCooldown is loaded into Config, but nothing
// passes it on: pkg/health uses its own fixed 8 s keyframe cooldown.
func Default() *Config {
	return &Config{
		ICE:               ICEConfig{PortMin: 10000, PortMax: 20000},
		DiscoveryTimeout:  30 * time.Second,
		ConnectTimeout:    6 * time.Second,
		DefaultResolution: "1280x720",
		DefaultFPS:        60,
		DefaultQuality:    "default",
		KeyframeCooldown:  8 * time.Second,
	}
}

// Load reads configuration from a .env file, overlaying onto Default().
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)

	var turnURL, turnUser, turnCred string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		switch key {
		case "turn_url":
			turnURL = decodedValue
		case "turn_username":
			turnUser = decodedValue
		case "turn_credential":
			turnCred = decodedValue
		case "ice_port_min":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.ICE.PortMin = uint16(v)
			}
		case "ice_port_max":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.ICE.PortMax = uint16(v)
			}
		case "shuffle_ports":
			cfg.ICE.ShufflePorts = decodedValue == "true"
		case "public_ip":
			cfg.PublicIP = decodedValue
		case "prefer_lan_candidates":
			cfg.PreferLANCandidates = decodedValue == "true"
		case "discovery_timeout_ms":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.DiscoveryTimeout = time.Duration(v) * time.Millisecond
			}
		case "connect_timeout_ms":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.ConnectTimeout = time.Duration(v) * time.Millisecond
			}
		case "default_resolution":
			cfg.DefaultResolution = decodedValue
		case "default_fps":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.DefaultFPS = v
			}
		case "default_quality":
			cfg.DefaultQuality = decodedValue
		case "keyframe_cooldown_ms":
			if v, err := strconv.Atoi(decodedValue); err == nil {
				cfg.KeyframeCooldown = time.Duration(v) * time.Millisecond
			}
		case "jwt_issuer":
			cfg.Auth.JWTIssuer = decodedValue
		case "jwt_audience":
			cfg.Auth.JWTAudience = decodedValue
		case "jwt_secret":
			cfg.Auth.JWTSecret = decodedValue
		case "database_url":
			cfg.Auth.DatabaseURL = decodedValue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if turnURL != "" {
		cfg.TURNServers = append(cfg.TURNServers, TURNServer{
			URL:        turnURL,
			Username:   turnUser,
			Credential: turnCred,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.ICE.PortMin != 0 && c.ICE.PortMax != 0 && c.ICE.PortMin > c.ICE.PortMax {
		return fmt.Errorf("ice_port_min (%d) exceeds ice_port_max (%d)", c.ICE.PortMin, c.ICE.PortMax)
	}
	if c.DefaultFPS <= 0 {
		return fmt.Errorf("default_fps must be positive, got %d", c.DefaultFPS)
	}
	return nil
}
