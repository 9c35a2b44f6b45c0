package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string

	DebugPacket     bool
	DebugReorder    bool
	DebugFEC        bool
	DebugVideo      bool
	DebugAudio      bool
	DebugHandshake  bool
	DebugSignalling bool
	DebugHealth     bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugPacket, "debug-packet", false, "Debug packet codec parsing")
	fs.BoolVar(&f.DebugReorder, "debug-reorder", false, "Debug reorder queue decisions")
	fs.BoolVar(&f.DebugFEC, "debug-fec", false, "Debug FEC frame assembly/recovery")
	fs.BoolVar(&f.DebugVideo, "debug-video", false, "Debug video receiver (profile switches, IDR)")
	fs.BoolVar(&f.DebugAudio, "debug-audio", false, "Debug audio receiver (jitter buffer, gaps)")
	fs.BoolVar(&f.DebugHandshake, "debug-handshake", false, "Debug session handshake framing")
	fs.BoolVar(&f.DebugSignalling, "debug-signalling", false, "Debug WebRTC signalling (ICE, SDP)")
	fs.BoolVar(&f.DebugHealth, "debug-health", false, "Debug stream health supervision")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	type catFlag struct {
		on  bool
		cat DebugCategory
	}
	cats := []catFlag{
		{f.DebugPacket, DebugPacket},
		{f.DebugReorder, DebugReorder},
		{f.DebugFEC, DebugFEC},
		{f.DebugVideo, DebugVideo},
		{f.DebugAudio, DebugAudio},
		{f.DebugHandshake, DebugHandshake},
		{f.DebugSignalling, DebugSignalling},
		{f.DebugHealth, DebugHealth},
	}

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		for _, c := range cats {
			if c.on {
				cfg.EnableCategory(c.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// String returns a compact summary of enabled flags for startup logging.
func (f *Flags) String() string {
	parts := []string{
		fmt.Sprintf("level=%s", f.LogLevel),
		fmt.Sprintf("format=%s", f.LogFormat),
	}

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		for name, on := range map[string]bool{
			"packet":     f.DebugPacket,
			"reorder":    f.DebugReorder,
			"fec":        f.DebugFEC,
			"video":      f.DebugVideo,
			"audio":      f.DebugAudio,
			"handshake":  f.DebugHandshake,
			"signalling": f.DebugSignalling,
			"health":     f.DebugHealth,
		} {
			if on {
				debugCategories = append(debugCategories, name)
			}
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
