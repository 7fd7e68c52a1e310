// syncfeed is a reference client for the music sync channel: it reads
// newline-delimited JSON spectrum frames on stdin, runs the band analyzer at
// display cadence and streams music_sync samples over the bridge websocket.
//
// Frame shape: {"sample_rate": 44100, "spectrum": [0..255, ...]}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"led-bridge/internal/analyzer"
)

type frame struct {
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float64 `json:"spectrum"`
}

// stdinSource holds the latest frame; the analyzer polls it once per tick.
type stdinSource struct {
	mu    sync.RWMutex
	frame frame
}

func (s *stdinSource) Spectrum() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame.Spectrum
}

func (s *stdinSource) SampleRate() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame.SampleRate
}

func (s *stdinSource) set(f frame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
}

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "bridge websocket endpoint")
	brightness := flag.Int("brightness", 255, "brightness ceiling for emitted samples")
	interval := flag.Duration("interval", analyzer.DefaultInterval, "tick interval")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		slog.Error("dial failed", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	src := &stdinSource{}

	var wmu sync.Mutex
	emit := func(s analyzer.Sample) {
		msg := map[string]any{"type": "music_sync", "data": s}
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Error("write failed", "error", err)
		}
	}

	an := analyzer.New(src, emit)
	an.SetInterval(*interval)
	an.SetBrightness(*brightness)
	if err := an.Start(context.Background()); err != nil {
		slog.Error("analyzer start failed", "error", err)
		os.Exit(1)
	}
	defer an.Stop()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			slog.Warn("skipping malformed frame", "error", err)
			continue
		}
		src.set(f)
	}
	if err := scanner.Err(); err != nil {
		slog.Error("stdin read failed", "error", err)
	}
}
