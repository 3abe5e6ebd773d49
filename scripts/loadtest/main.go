// Loadtest opens many concurrent TCP sessions through the load balancer and
// reports throughput, latency percentiles and how sessions were spread across
// backends. It expects backends that announce themselves with a banner line
// and echo everything else, such as scripts/echobackend.
//
// Usage:
//
//	go run ./scripts/loadtest --addr localhost:7070 --concurrency 50 --sessions 5000
//	go run ./scripts/loadtest --addr localhost:7070 --payload 1048576 --out summary.json
//
// Every session sends a payload unique to that session and checks that the
// exact same bytes come back, so crossed or corrupted streams are reported as
// failures.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

type backendStats struct {
	Count     int32
	Success   int32
	Failure   int32
	Latencies []time.Duration
}

type backendSummary struct {
	Total   int32   `json:"total"`
	Success int32   `json:"success"`
	Failure int32   `json:"failure"`
	Share   float64 `json:"share"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

type summary struct {
	Target        string                    `json:"target"`
	Sessions      int                       `json:"sessions"`
	Concurrency   int                       `json:"concurrency"`
	PayloadBytes  int                       `json:"payload_bytes"`
	Success       int32                     `json:"success"`
	Failure       int32                     `json:"failure"`
	Unreachable   int32                     `json:"unreachable"`
	Mismatched    int32                     `json:"mismatched"`
	DurationMs    int64                     `json:"duration_ms"`
	ThroughputSPS float64                   `json:"throughput_sps"`
	Backends      map[string]backendSummary `json:"backends"`
}

// sessionResult is what one session observed. Backend is empty when no
// banner arrived, which means the load balancer dropped the client.
type sessionResult struct {
	Backend  string
	Duration time.Duration
	Err      error
	Mismatch bool
}

func main() {
	var (
		addr        = pflag.String("addr", "localhost:7070", "load balancer address")
		concurrency = pflag.IntP("concurrency", "c", 10, "number of concurrent workers")
		sessions    = pflag.IntP("sessions", "n", 100, "total number of sessions to open")
		payloadSize = pflag.Int("payload", 4096, "bytes each session sends and expects back")
		timeout     = pflag.Duration("timeout", 10*time.Second, "per-session deadline")
		outJSON     = pflag.String("out", "", "write a JSON summary to this file")
		verbose     = pflag.BoolP("verbose", "v", false, "log every session")
	)
	pflag.Parse()

	jobs := make(chan int)
	var wg sync.WaitGroup

	var success, failure, unreachable, mismatched atomic.Int32

	stats := make(map[string]*backendStats)
	var statsMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				res := runSession(*addr, idx, *payloadSize, *timeout)

				switch {
				case res.Backend == "":
					unreachable.Add(1)
					failure.Add(1)
				case res.Mismatch:
					mismatched.Add(1)
					failure.Add(1)
				case res.Err != nil:
					failure.Add(1)
				default:
					success.Add(1)
				}

				backend := res.Backend
				if backend == "" {
					backend = "(dropped)"
				}

				statsMu.Lock()
				bs, ok := stats[backend]
				if !ok {
					bs = &backendStats{}
					stats[backend] = bs
				}
				bs.Count++
				if res.Err == nil && !res.Mismatch {
					bs.Success++
				} else {
					bs.Failure++
				}
				bs.Latencies = append(bs.Latencies, res.Duration)
				statsMu.Unlock()

				if *verbose {
					fmt.Printf("[%d] session=%d backend=%s dur=%v mismatch=%t err=%v\n",
						workerID, idx, backend, res.Duration, res.Mismatch, res.Err)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *sessions; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)

	report := summary{
		Target:        *addr,
		Sessions:      *sessions,
		Concurrency:   *concurrency,
		PayloadBytes:  *payloadSize,
		Success:       success.Load(),
		Failure:       failure.Load(),
		Unreachable:   unreachable.Load(),
		Mismatched:    mismatched.Load(),
		DurationMs:    totalDuration.Milliseconds(),
		ThroughputSPS: float64(*sessions) / totalDuration.Seconds(),
		Backends:      make(map[string]backendSummary, len(stats)),
	}

	for name, bs := range stats {
		sorted := make([]time.Duration, len(bs.Latencies))
		copy(sorted, bs.Latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		report.Backends[name] = backendSummary{
			Total:   bs.Count,
			Success: bs.Success,
			Failure: bs.Failure,
			Share:   float64(bs.Count) / float64(*sessions),
			P50:     percentileMs(sorted, 0.50),
			P90:     percentileMs(sorted, 0.90),
			P95:     percentileMs(sorted, 0.95),
			P99:     percentileMs(sorted, 0.99),
		}
	}

	printSummary(report)
	fmt.Printf("\nGOMAXPROCS=%d  NumGoroutine=%d\n", runtime.GOMAXPROCS(0), runtime.NumGoroutine())

	if *outJSON != "" {
		if err := writeJSON(*outJSON, report); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if report.Failure > 0 {
		os.Exit(2)
	}
}

func runSession(addr string, idx, payloadSize int, timeout time.Duration) sessionResult {
	start := time.Now()
	res := sessionResult{}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	defer conn.Close()
	_ = conn.SetDeadline(start.Add(timeout))

	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		res.Err = fmt.Errorf("read banner: %w", err)
		res.Duration = time.Since(start)
		return res
	}
	res.Backend = strings.TrimSpace(banner)

	payload := makePayload(idx, payloadSize)

	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(payload)
		writeErr <- err
	}()

	echoed := make([]byte, len(payload))
	_, err = io.ReadFull(reader, echoed)
	if werr := <-writeErr; err == nil {
		err = werr
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("echo: %w", err)
		return res
	}
	res.Mismatch = !bytes.Equal(payload, echoed)

	return res
}

// makePayload returns size bytes that differ between sessions so that a
// stream delivered to the wrong client cannot pass the echo check.
func makePayload(idx, size int) []byte {
	tag := []byte(fmt.Sprintf("<session %d>", idx))
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = tag[i%len(tag)]
	}
	return payload
}

func percentileMs(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return float64(sorted[idx].Microseconds()) / 1000.0
}

func printSummary(report summary) {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", report.Target)
	fmt.Printf("Sessions: %d  Concurrency: %d  Payload: %d bytes\n", report.Sessions, report.Concurrency, report.PayloadBytes)
	fmt.Printf("Success: %d  Failure: %d  (dropped: %d, mismatched: %d)\n",
		report.Success, report.Failure, report.Unreachable, report.Mismatched)
	fmt.Printf("Duration: %dms  Throughput: %.2f sessions/s\n", report.DurationMs, report.ThroughputSPS)

	fmt.Println("\nBackend distribution & stats:")
	names := make([]string, 0, len(report.Backends))
	for name := range report.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bs := report.Backends[name]
		fmt.Printf("  %s -> total=%d (%.1f%%) success=%d failure=%d\n",
			name, bs.Total, bs.Share*100, bs.Success, bs.Failure)
		fmt.Printf("    latencies: p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms\n", bs.P50, bs.P90, bs.P95, bs.P99)
	}
}

func writeJSON(path string, report summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
