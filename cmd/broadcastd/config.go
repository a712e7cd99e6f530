package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/go-broadcast/tcpserver"
)

// BinaryName is used in usage and log output.
const BinaryName = "broadcastd"

var errUsage = errors.New("usage")

// Settings is everything broadcastd needs to start.
type Settings struct {
	Port           int
	BindAddr       string
	MaxClients     int
	BufferSize     int
	MaxEvents      int
	Backlog        int
	AcceptLimit    int
	AcceptWindow   time.Duration
	LogLevel       string
	LogDir         string
	DiscordWebhook string
}

// ServerConfig converts s into the event loop settings.
func (s Settings) ServerConfig() tcpserver.Config {
	cfg := tcpserver.DefaultTCPServerConfig(net.JoinHostPort(s.BindAddr, strconv.Itoa(s.Port)))
	cfg.Name = BinaryName
	cfg.MaxClients = s.MaxClients
	cfg.InitialBufferSize = s.BufferSize
	cfg.MaxEvents = s.MaxEvents
	cfg.Backlog = s.Backlog
	cfg.AcceptLimit = s.AcceptLimit
	cfg.AcceptWindow = s.AcceptWindow
	return cfg
}

func defaultSettings() Settings {
	defaults := tcpserver.DefaultTCPServerConfig("0.0.0.0:0")
	return Settings{
		BindAddr:     "0.0.0.0",
		MaxClients:   defaults.MaxClients,
		BufferSize:   defaults.InitialBufferSize,
		MaxEvents:    defaults.MaxEvents,
		Backlog:      defaults.Backlog,
		AcceptLimit:  defaults.AcceptLimit,
		AcceptWindow: defaults.AcceptWindow,
		LogLevel:     "info",
	}
}

// parsePort reads the only command line option, -p <port>. Any problem prints
// the usage to out and returns errUsage.
func parsePort(args []string, out io.Writer) (int, error) {
	fs := flag.NewFlagSet(BinaryName, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s -p <port>\n\nRelay every newline-terminated message to all other connected clients.\n\nOptions:\n", BinaryName)
		fs.PrintDefaults()
	}

	port := fs.String("p", "", "TCP port to listen on (1-65535)")
	if err := fs.Parse(args); err != nil {
		return 0, errUsage
	}

	if *port == "" || fs.NArg() > 0 {
		fs.Usage()
		return 0, errUsage
	}

	n, err := strconv.Atoi(*port)
	if err != nil || n < 1 || n > 65535 {
		fmt.Fprintf(out, "%s: invalid port %q\n", BinaryName, *port)
		fs.Usage()
		return 0, errUsage
	}

	return n, nil
}

// settingsFromEnv overlays BROADCAST_* variables on the defaults. Unset or
// unusable values keep the default.
func settingsFromEnv(getenv func(string) string) Settings {
	s := defaultSettings()

	if addr := strings.TrimSpace(getenv("BROADCAST_BIND_ADDR")); addr != "" {
		s.BindAddr = addr
	}
	s.MaxClients = parseIntValue(getenv("BROADCAST_MAX_CLIENTS"), s.MaxClients, 0)
	s.BufferSize = parseIntValue(getenv("BROADCAST_BUFFER_SIZE"), s.BufferSize, 1)
	s.MaxEvents = parseIntValue(getenv("BROADCAST_MAX_EVENTS"), s.MaxEvents, 1)
	s.Backlog = parseIntValue(getenv("BROADCAST_BACKLOG"), s.Backlog, 1)
	s.AcceptLimit = parseIntValue(getenv("BROADCAST_ACCEPT_LIMIT"), s.AcceptLimit, 0)
	if secs := parseIntValue(getenv("BROADCAST_ACCEPT_WINDOW"), 0, 1); secs > 0 {
		s.AcceptWindow = time.Duration(secs) * time.Second
	}
	if level := strings.TrimSpace(getenv("BROADCAST_LOG_LEVEL")); level != "" {
		s.LogLevel = level
	}
	s.LogDir = strings.TrimSpace(getenv("BROADCAST_LOG_DIR"))
	s.DiscordWebhook = strings.TrimSpace(getenv("BROADCAST_DISCORD_WEBHOOK"))

	return s
}

func parseIntValue(value string, defaultValue, minimum int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= minimum {
		return parsed
	}
	return defaultValue
}
