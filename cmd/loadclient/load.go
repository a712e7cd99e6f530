package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-broadcast/lineclient"
	"github.com/cyberinferno/go-broadcast/logger"
	"github.com/cyberinferno/go-broadcast/perfmonitor"
	"github.com/cyberinferno/go-broadcast/safemap"
	"github.com/cyberinferno/go-broadcast/utils"
)

const probePrefix = "probe "

// LoadConfig describes one load run.
type LoadConfig struct {
	Addr     string
	Clients  int
	Messages int
	Payload  string
	MaxPause time.Duration
	Settle   time.Duration
}

// Report summarises a load run.
type Report struct {
	Sent       int64
	Received   int64
	Expected   int64
	Incorrect  int64
	Probes     int
	ProbeMean  time.Duration
	ProbeWorst time.Duration
}

// probeSet pairs in-flight probe tokens with the monitor timing them.
type probeSet struct {
	inflight *safemap.SafeMap[string, *perfmonitor.PerformanceMonitor]
	done     chan time.Duration
}

// worker is one connected load client.
type worker struct {
	id        int
	client    *lineclient.LineClient
	payload   []byte
	probes    *probeSet
	sent      atomic.Int64
	received  atomic.Int64
	incorrect atomic.Int64
	log       logger.Logger
}

func (w *worker) onMessage(ev lineclient.MessageEvent) {
	line := ev.Line
	if token, ok := bytes.CutPrefix(line, []byte(probePrefix)); ok {
		if mon, found := w.probes.inflight.LoadAndDelete(string(token)); found {
			mon.Stop()
			w.probes.done <- mon.Elapsed()
		}
		return
	}

	w.received.Add(1)
	if !bytes.Equal(line, w.payload) {
		w.incorrect.Add(1)
		w.log.Warn("received an incorrect message", logger.Field{Key: "client", Value: w.id}, logger.Field{Key: "line", Value: string(line)})
	}
}

// sendWhole writes the payload line in one write per message.
func (w *worker) sendWhole(ctx context.Context, n int) error {
	line := append(append([]byte(nil), w.payload...), '\n')
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.client.Send(line); err != nil {
			return fmt.Errorf("client %d send: %w", w.id, err)
		}
		w.sent.Add(1)
	}

	return nil
}

// sendChunked writes each payload line split into random-sized chunks with a
// random pause after every chunk.
func (w *worker) sendChunked(ctx context.Context, n int, pauses []time.Duration) error {
	line := append(append([]byte(nil), w.payload...), '\n')
	for range n {
		rest := line
		for len(rest) > 0 {
			size := 1 + rand.Intn(len(rest))
			if err := w.client.Send(rest[:size]); err != nil {
				return fmt.Errorf("client %d send chunk: %w", w.id, err)
			}
			rest = rest[size:]

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(utils.GetRandomElement(pauses)):
			}
		}
		w.sent.Add(1)
	}

	return nil
}

func (w *worker) sendProbe() error {
	token := fmt.Sprintf("%d-%s", w.id, utils.GenerateRandomString(12))
	mon := perfmonitor.NewPerformanceMonitor()
	mon.Start()
	w.probes.inflight.Store(token, mon)

	return w.client.SendLine([]byte(probePrefix + token))
}

// pauseSteps returns the pause durations a chunked send picks from.
func pauseSteps(maxPause time.Duration) []time.Duration {
	if maxPause <= 0 {
		return []time.Duration{0}
	}

	steps := make([]time.Duration, 0, 5)
	for i := range 5 {
		steps = append(steps, maxPause*time.Duration(i)/4)
	}
	return steps
}

// RunLoad connects cfg.Clients clients, has each send cfg.Messages whole lines
// and cfg.Messages chunked lines plus one timing probe, and checks that every
// line other clients receive is the payload.
//
// Parameters:
//   - ctx: Cancels the run
//   - cfg: Run settings
//   - log: Destination for progress logs
//
// Returns:
//   - The run report, and the first connection or send error
func RunLoad(ctx context.Context, cfg LoadConfig, log logger.Logger) (Report, error) {
	if cfg.Clients < 2 {
		return Report{}, errors.New("at least two clients are needed to observe a broadcast")
	}
	if strings.ContainsRune(cfg.Payload, '\n') {
		return Report{}, errors.New("payload must not contain a newline")
	}

	probes := &probeSet{
		inflight: safemap.NewSafeMap[string, *perfmonitor.PerformanceMonitor](),
		done:     make(chan time.Duration, cfg.Clients),
	}

	workers := make([]*worker, 0, cfg.Clients)
	defer func() {
		for _, w := range workers {
			_ = w.client.Close()
		}
	}()

	for i := range cfg.Clients {
		lcfg := lineclient.DefaultLineClientConfig(cfg.Addr)
		w := &worker{
			id:      i,
			client:  lineclient.NewLineClient(lcfg, log.With(logger.Field{Key: "client", Value: i})),
			payload: []byte(cfg.Payload),
			probes:  probes,
			log:     log,
		}
		w.client.OnMessage(w.onMessage)
		workers = append(workers, w)

		if err := w.client.Connect(); err != nil {
			return Report{}, fmt.Errorf("client %d connect: %w", i, err)
		}
	}
	log.Info("clients connected", logger.Field{Key: "clients", Value: cfg.Clients}, logger.Field{Key: "addr", Value: cfg.Addr})

	pauses := pauseSteps(cfg.MaxPause)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			if err := w.sendWhole(gctx, cfg.Messages); err != nil {
				return err
			}
			if err := w.sendChunked(gctx, cfg.Messages, pauses); err != nil {
				return err
			}
			return w.sendProbe()
		})
	}
	sendErr := g.Wait()

	report := Report{Expected: int64(cfg.Clients-1) * int64(2*cfg.Messages) * int64(cfg.Clients)}
	collect := func() {
		report.Sent, report.Received, report.Incorrect = 0, 0, 0
		for _, w := range workers {
			report.Sent += w.sent.Load()
			report.Received += w.received.Load()
			report.Incorrect += w.incorrect.Load()
		}
	}

	deadline := time.After(cfg.Settle)
	var total time.Duration
wait:
	for {
		collect()
		if report.Received >= report.Expected && report.Probes == cfg.Clients {
			break
		}

		select {
		case d := <-probes.done:
			report.Probes++
			total += d
			report.ProbeWorst = max(report.ProbeWorst, d)
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	collect()
	if report.Probes > 0 {
		report.ProbeMean = total / time.Duration(report.Probes)
	}

	return report, sendErr
}
