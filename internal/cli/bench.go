package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

var (
	benchConcurrency int
	benchDuration    time.Duration
	benchLimit       int
	benchQueries     []string
)

var defaultBenchQueries = []string{
	"search",
	"engine",
	"tags:go",
	"tags:search AND tags:performance",
	"features.lang:zh",
	"status:published",
	"title:Post",
	"segment commit",
	"create_at:>=0",
	"+tags:storage -tags:json",
	"snapshot OR generation",
	"ranking",
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the search endpoint",
	Long: `Sends queries from concurrent workers for a fixed duration and reports
throughput, latency percentiles and status codes.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 10, "number of concurrent workers")
	benchCmd.Flags().DurationVar(&benchDuration, "duration", 30*time.Second, "benchmark duration")
	benchCmd.Flags().IntVar(&benchLimit, "limit", 10, "results requested per query")
	benchCmd.Flags().StringArrayVar(&benchQueries, "query", nil, "query to send, repeatable (default: built-in set)")
	rootCmd.AddCommand(benchCmd)
}

type benchStats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func newBenchStats() *benchStats {
	return &benchStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *benchStats) record(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func runBench(cmd *cobra.Command, _ []string) error {
	queries := benchQueries
	if len(queries) == 0 {
		queries = defaultBenchQueries
	}
	workers := max(benchConcurrency, 1)

	cmd.Println("=== Search Benchmark ===")
	cmd.Printf("Target:      %s\n", endpoint)
	cmd.Printf("Concurrency: %d\n", workers)
	cmd.Printf("Duration:    %s\n", benchDuration)
	cmd.Printf("Queries:     %d unique\n\n", len(queries))

	parent := commandContext(cmd)
	ctx, cancel := context.WithTimeout(parent, benchDuration)
	defer cancel()

	c := newClient(endpoint, requestTimeout, workers)
	stats := runWorkers(ctx, c, workers, queries)
	return printReport(cmd, stats, benchDuration)
}

func runWorkers(ctx context.Context, c *client, workers int, queries []string) *benchStats {
	stats := newBenchStats()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			queryIdx := workerID
			for ctx.Err() == nil {
				query := queries[queryIdx%len(queries)]
				queryIdx++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(query, benchLimit, nil), nil)
				if err != nil {
					stats.record(0, 0, err)
					continue
				}
				start := time.Now()
				resp, err := c.http.Do(req)
				duration := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.record(duration, 0, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(duration, resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func printReport(cmd *cobra.Command, stats *benchStats, duration time.Duration) error {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errCount := stats.errorCount.Load()

	cmd.Println("=== Results ===")
	cmd.Printf("Total Requests:  %d\n", total)
	cmd.Printf("Successful:      %d\n", success)
	cmd.Printf("Errors:          %d\n", errCount)

	if total > 0 {
		cmd.Printf("Error Rate:      %.2f%%\n", float64(errCount)/float64(total)*100)
		cmd.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		cmd.Println()
		cmd.Println("=== Latency ===")
		cmd.Printf("Min:    %s\n", latencies[0])
		cmd.Printf("Avg:    %s\n", avg)
		cmd.Printf("P50:    %s\n", percentile(latencies, 50))
		cmd.Printf("P90:    %s\n", percentile(latencies, 90))
		cmd.Printf("P95:    %s\n", percentile(latencies, 95))
		cmd.Printf("P99:    %s\n", percentile(latencies, 99))
		cmd.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		cmd.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	cmd.Println()
	cmd.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		cmd.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		return fmt.Errorf("no requests completed, is searchd running at %s?", endpoint)
	}
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
