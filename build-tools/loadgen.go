//go:build ignore

// Run: go run ./build-tools/loadgen.go -url ws://localhost:8080/ws -conns 100 -duration 60s

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"nhooyr.io/websocket"
)

type event struct {
	Type string `json:"type"`
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
		conns    = flag.Int("conns", 100, "concurrent subscriber connections")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		report   = flag.Duration("report", 5*time.Second, "stats report interval")
	)
	flag.Parse()

	fmt.Printf("loadgen → url=%s conns=%d duration=%s\n", *url, *conns, duration.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var (
		received atomic.Int64
		failed   atomic.Int64
		byType   sync.Map // event type -> *atomic.Int64
	)

	var wg sync.WaitGroup
	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			conn, _, err := websocket.Dial(ctx, *url, nil)
			if err != nil {
				failed.Add(1)
				fmt.Printf("conn %d: dial error: %v\n", id, err)
				return
			}
			defer conn.Close(websocket.StatusNormalClosure, "")
			conn.SetReadLimit(1 << 20)

			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}

				received.Add(1)

				var ev event
				if json.Unmarshal(data, &ev) == nil {
					c, _ := byType.LoadOrStore(ev.Type, new(atomic.Int64))
					c.(*atomic.Int64).Add(1)
				}
			}
		}(i)
	}

	// periodic stats
	go func() {
		tick := time.NewTicker(*report)
		defer tick.Stop()

		var last int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				total := received.Load()
				fmt.Printf("events=%d (+%d), failed conns=%d\n", total, total-last, failed.Load())
				last = total
			}
		}
	}()

	wg.Wait()

	fmt.Printf("done: %d events total\n", received.Load())
	byType.Range(func(k, v any) bool {
		fmt.Printf("  %-13s %d\n", k, v.(*atomic.Int64).Load())
		return true
	})
}
