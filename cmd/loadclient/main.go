// Command loadclient opens several connections to a broadcast server, sends
// each payload line both whole and in random fragments, and verifies what the
// other connections receive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/go-broadcast/logger"
)

func main() {
	cfg := LoadConfig{}
	flag.StringVar(&cfg.Addr, "addr", "localhost:9090", "Broadcast server address")
	flag.IntVar(&cfg.Clients, "clients", 4, "Number of concurrent clients")
	flag.IntVar(&cfg.Messages, "messages", 100, "Whole and chunked lines each client sends")
	flag.StringVar(&cfg.Payload, "payload", "Hello World, this line was broadcast!", "Line every client sends")
	flag.DurationVar(&cfg.MaxPause, "max-pause", 10*time.Millisecond, "Longest pause after a chunk")
	flag.DurationVar(&cfg.Settle, "settle", 5*time.Second, "How long to wait for deliveries after sending")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewConsoleLogger(os.Stderr, "loadclient", lvl)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := RunLoad(ctx, cfg, log)
	log.Info("load run finished",
		logger.Field{Key: "sent", Value: report.Sent},
		logger.Field{Key: "received", Value: report.Received},
		logger.Field{Key: "expected", Value: report.Expected},
		logger.Field{Key: "incorrect", Value: report.Incorrect},
		logger.Field{Key: "probes", Value: report.Probes},
		logger.Field{Key: "probe_mean", Value: report.ProbeMean.String()},
		logger.Field{Key: "probe_worst", Value: report.ProbeWorst.String()},
	)
	if err != nil {
		log.Error("load run failed", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	if report.Incorrect > 0 {
		os.Exit(2)
	}
}
