// Command broadcastd relays every newline-terminated message a client sends to
// all other connected clients.
//
//	broadcastd -p <port>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/go-broadcast/logger"
	"github.com/cyberinferno/go-broadcast/tcpserver"
	"github.com/cyberinferno/go-broadcast/utils"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	port, err := parsePort(args, os.Stderr)
	if err != nil {
		return 1
	}

	settings := settingsFromEnv(os.Getenv)
	settings.Port = port

	log, err := newLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", BinaryName, err)
		return 1
	}
	defer log.Close()

	srv, err := tcpserver.NewTCPServer(settings.ServerConfig(), log)
	if err != nil {
		return fatal(log, settings, err)
	}
	if err := srv.Listen(); err != nil {
		return fatal(log, settings, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case s := <-sig:
			log.Info("got stop signal", logger.Field{Key: "signal", Value: s.String()})
			srv.Stop()
		case <-srv.Done():
		}
	}()

	if err := srv.Serve(); err != nil {
		return fatal(log, settings, err)
	}

	stats := srv.GetStats()
	log.Info("bye",
		logger.Field{Key: "accepted", Value: stats.Accepted},
		logger.Field{Key: "messages", Value: stats.Messages},
		logger.Field{Key: "dropped", Value: stats.Dropped},
	)
	return 0
}

func newLogger(s Settings) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, err
	}
	if s.LogDir == "" {
		return logger.NewConsoleLogger(os.Stderr, BinaryName, level), nil
	}

	return logger.NewZerologFileLogger(os.Stderr, BinaryName, s.LogDir, level)
}

// fatal logs err, sends the optional Discord notice and returns the exit status.
func fatal(log logger.Logger, s Settings, err error) int {
	log.Error("fatal error", logger.Field{Key: "error", Value: err})

	if s.DiscordWebhook != "" {
		msg := fmt.Sprintf("%s on port %d stopped: %v", BinaryName, s.Port, err)
		if nerr := utils.SendDiscordNotification(context.Background(), s.DiscordWebhook, msg); nerr != nil {
			log.Warn("discord notification failed", logger.Field{Key: "error", Value: nerr})
		}
	}

	return 1
}
