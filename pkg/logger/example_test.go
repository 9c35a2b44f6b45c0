package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/remote-play-relay/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info().Str("version", "1.0.0").Msg("application started")
	log.Warn().Str("endpoint", "/v1/users").Msg("deprecated API used")
	log.Error().Str("error", "connection timeout").Msg("failed to connect")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugPacket)
	cfg.EnableCategory(logger.DebugVideo)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugPacket("packet received", "seq", 12345)
	log.DebugVideo("keyframe detected", "size", 15234)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/ethan/remote-play-relay/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("myapp", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/relay/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json")

	log.Info().
		Str("user_id", "12345").
		Str("ip", "192.168.1.1").
		Int("duration_ms", 250).
		Msg("user logged in")
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugFEC)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Only executes if DebugFEC is enabled; zero cost otherwise.
	log.DebugFEC("recovered missing source unit", "unit_index", 2)
	log.DebugPacket("packet received", "seq", 12345)
}
