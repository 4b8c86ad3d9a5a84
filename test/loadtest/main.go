// Package main implements a load test harness for the momoguard ingest API.
// It generates synthetic mobile-money SMS messages with unique transaction
// IDs, posts them to /api/sms/process concurrently, and reports throughput,
// latency percentiles, and the status-code breakdown.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -addr http://localhost:8080 \
//	  -concurrency 8 \
//	  -duration 30s \
//	  -duplicate-pct 5
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type result struct {
	status  int
	latency time.Duration
	err     error
}

func paymentMessage(txID string, amount int, balance int, ts time.Time) string {
	return fmt.Sprintf(
		"TxId: %s. Your payment of %d RWF to Assia Itangishaka 047700 has been completed at %s. Your new balance: %d RWF. Fee was 0 RWF.",
		txID, amount, ts.Format("2006-01-02 15:04:05"), balance,
	)
}

func transferMessage(amount int, balance int, ts time.Time) string {
	return fmt.Sprintf(
		"*165*S*%d RWF transferred to Jeannette MUKARUSINE (250788953573) from 27827750 at %s . Fee was: 20 RWF. New balance: %d RWF. Kugura ama inite kuri MoMo. *EN#",
		amount, ts.Format("2006-01-02 15:04:05"), balance,
	)
}

func main() {
	var (
		addr         = flag.String("addr", "http://localhost:8080", "momoguard base URL")
		concurrency  = flag.Int("concurrency", 8, "concurrent workers")
		duration     = flag.Duration("duration", 30*time.Second, "test duration")
		duplicatePct = flag.Int("duplicate-pct", 0, "percentage of requests reusing a prior tx_id")
	)
	flag.Parse()

	if *duplicatePct < 0 || *duplicatePct > 100 {
		fmt.Fprintln(os.Stderr, "duplicate-pct must be within [0, 100]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := *addr + "/api/sms/process"

	var seq atomic.Int64
	seed := time.Now().UnixNano() % 1_000_000_000

	results := make(chan result, 4096)
	var wg sync.WaitGroup

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + seed))
			for ctx.Err() == nil {
				n := seq.Add(1)
				if *duplicatePct > 0 && rng.Intn(100) < *duplicatePct && n > 1 {
					n = rng.Int63n(n-1) + 1
				}
				txID := fmt.Sprintf("%d%06d", seed, n)

				var msg string
				ts := time.Now()
				if rng.Intn(2) == 0 {
					msg = paymentMessage(txID, 500+rng.Intn(5000), 1000+rng.Intn(100000), ts)
				} else {
					msg = transferMessage(500+rng.Intn(5000), 1000+rng.Intn(100000), ts)
				}

				body, _ := json.Marshal(map[string]string{"message": msg})
				start := time.Now()
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
				if err != nil {
					results <- result{err: err}
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					results <- result{err: err, latency: time.Since(start)}
					continue
				}
				resp.Body.Close()
				results <- result{status: resp.StatusCode, latency: time.Since(start)}
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		latencies []time.Duration
		byStatus  = make(map[int]int)
		errCount  int
	)
	testStart := time.Now()
	for r := range results {
		if r.err != nil {
			errCount++
			continue
		}
		byStatus[r.status]++
		latencies = append(latencies, r.latency)
	}
	elapsed := time.Since(testStart)

	total := len(latencies) + errCount
	fmt.Printf("requests:   %d (%.1f/s over %s)\n", total, float64(total)/elapsed.Seconds(), elapsed.Round(time.Millisecond))
	fmt.Printf("errors:     %d\n", errCount)

	statuses := make([]int, 0, len(byStatus))
	for s := range byStatus {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)
	for _, s := range statuses {
		fmt.Printf("status %d: %d\n", s, byStatus[s])
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		pct := func(p float64) time.Duration {
			idx := int(float64(len(latencies)-1) * p)
			return latencies[idx]
		}
		fmt.Printf("latency p50: %s  p95: %s  p99: %s  max: %s\n",
			pct(0.50).Round(time.Microsecond),
			pct(0.95).Round(time.Microsecond),
			pct(0.99).Round(time.Microsecond),
			latencies[len(latencies)-1].Round(time.Microsecond),
		)
	}

	if errCount > 0 {
		os.Exit(1)
	}
}
