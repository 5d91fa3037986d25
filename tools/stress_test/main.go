// Command stress_test downloads one published file concurrently and reports
// latency and throughput.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	flag "github.com/spf13/pflag"

	"github.com/VanDung-dev/HeavyData-Engine/network"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Ref         string
	Concurrency int
	Fetches     int64
	Duration    time.Duration
	ReportFile  string
	Fetcher     network.FetcherConfig
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalFetches    int64
	Successful      int64
	Failed          int64
	Bytes           int64
	TotalDuration   time.Duration
	AvgLatency      time.Duration
	MinLatency      time.Duration
	MaxLatency      time.Duration
	FetchesPerSec   float64
	MegabytesPerSec float64
}

func main() {
	config := parseFlags()
	if config.Ref == "" {
		log.Fatal("--ref is required")
	}

	fmt.Println("=== Heavy data transfer stress test ===")
	fmt.Printf("Reference:   %s\n", config.Ref)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration:    %v\n", config.Duration)
	fmt.Printf("Compression: %v\n", config.Fetcher.Compress)
	fmt.Println()

	result := runStressTest(config)
	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{Fetcher: network.DefaultFetcherConfig()}

	flag.StringVar(&config.Ref, "ref", "", "reference printed by heavydata serve")
	flag.IntVarP(&config.Concurrency, "concurrency", "c", 4, "number of concurrent fetchers")
	flag.Int64VarP(&config.Fetches, "fetches", "n", 0, "stop after this many fetches (0 = until --duration)")
	flag.DurationVarP(&config.Duration, "duration", "d", 30*time.Second, "duration of test")
	flag.StringVar(&config.Fetcher.Token, "token", os.Getenv(network.EnvAuthToken), "authentication token")
	flag.IntVar(&config.Fetcher.ChunkSize, "chunk-size", config.Fetcher.ChunkSize, "payload size per request")
	flag.BoolVar(&config.Fetcher.Compress, "compress", config.Fetcher.Compress, "ask for zstd payloads")
	flag.StringVarP(&config.ReportFile, "output", "o", "", "output report file (JSON)")
	flag.Parse()

	return config
}

type counters struct {
	started      atomic.Int64
	success      atomic.Int64
	failed       atomic.Int64
	bytes        atomic.Int64
	totalLatency atomic.Int64
	minLatency   atomic.Int64
	maxLatency   atomic.Int64
}

func runStressTest(config StressTestConfig) StressTestResult {
	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	var c counters
	c.minLatency.Store(1<<63 - 1)
	fetcher := network.NewFetcher(config.Fetcher)

	startTime := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, fetcher, config, &c)
		}()
	}
	wg.Wait()

	duration := time.Since(startTime)
	success := c.success.Load()
	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(c.totalLatency.Load() / success)
	}
	total := success + c.failed.Load()
	return StressTestResult{
		TotalFetches:    total,
		Successful:      success,
		Failed:          c.failed.Load(),
		Bytes:           c.bytes.Load(),
		TotalDuration:   duration,
		AvgLatency:      avgLatency,
		MinLatency:      time.Duration(c.minLatency.Load()),
		MaxLatency:      time.Duration(c.maxLatency.Load()),
		FetchesPerSec:   float64(total) / duration.Seconds(),
		MegabytesPerSec: float64(c.bytes.Load()) / (1 << 20) / duration.Seconds(),
	}
}

func runWorker(ctx context.Context, fetcher *network.Fetcher, config StressTestConfig, c *counters) {
	for ctx.Err() == nil {
		if config.Fetches > 0 && c.started.Add(1) > config.Fetches {
			return
		}
		start := time.Now()
		n, err := fetcher.Fetch(ctx, config.Ref, io.Discard)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.failed.Add(1)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		lat := int64(time.Since(start))
		c.success.Add(1)
		c.bytes.Add(n)
		c.totalLatency.Add(lat)
		for {
			old := c.minLatency.Load()
			if lat >= old || c.minLatency.CompareAndSwap(old, lat) {
				break
			}
		}
		for {
			old := c.maxLatency.Load()
			if lat <= old || c.maxLatency.CompareAndSwap(old, lat) {
				break
			}
		}
	}
}

func printResults(result StressTestResult) {
	percent := func(n int64) float64 {
		if result.TotalFetches == 0 {
			return 0
		}
		return float64(n) / float64(result.TotalFetches) * 100
	}
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:      %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Fetches:       %d\n", result.TotalFetches)
	fmt.Printf("Successful:    %d (%.2f%%)\n", result.Successful, percent(result.Successful))
	fmt.Printf("Failed:        %d (%.2f%%)\n", result.Failed, percent(result.Failed))
	fmt.Printf("Fetches/sec:   %.2f\n", result.FetchesPerSec)
	fmt.Printf("Throughput:    %.2f MiB/s\n", result.MegabytesPerSec)
	fmt.Printf("Avg Latency:   %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:   %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:   %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]any{
		"config": map[string]any{
			"ref":         config.Ref,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"chunk_size":  config.Fetcher.ChunkSize,
			"compress":    config.Fetcher.Compress,
		},
		"results": map[string]any{
			"fetches":         result.TotalFetches,
			"successful":      result.Successful,
			"failed":          result.Failed,
			"bytes":           result.Bytes,
			"fetches_per_sec": result.FetchesPerSec,
			"mib_per_sec":     result.MegabytesPerSec,
			"avg_latency_ms":  float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":  float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":  float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0o644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
