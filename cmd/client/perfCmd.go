package client

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stratadb/strata/cmd/util"
	"github.com/stratadb/strata/lib/command"
	rpcclient "github.com/stratadb/strata/rpc/client"
)

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for strata nodes",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfRequests   = 1000
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent connections to use for the benchmark"))
	key = "requests"
	perfCmd.Flags().Int(key, 1000, util.WrapString("Number of requests per benchmark"))
	key = "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. ping,write)"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfRequests = viper.GetInt("requests")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for strata nodes")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Requests per test: %d\n", perfRequests)
	fmt.Println()

	fmt.Println("starting tests...")

	tests := []struct {
		name    string
		makeReq func(i int) *command.Request
	}{
		{"ping", func(int) *command.Request {
			return command.NewRequest("Ping")
		}},
		{"status", func(int) *command.Request {
			return command.NewRequest("Status")
		}},
		{"read", func(int) *command.Request {
			req := command.NewRequest("Query")
			req.Headers.Set("query", "SELECT 1;")
			return req
		}},
		{"write", func(i int) *command.Request {
			req := command.NewRequest("Query")
			req.Headers.Set("query", fmt.Sprintf("INSERT INTO perf ( value ) VALUES ( %d );", i))
			return req
		}},
	}

	// the write test needs its table
	if !shouldSkip("write") {
		req := command.NewRequest("Query")
		req.Headers.Set("query", "CREATE TABLE IF NOT EXISTS perf ( id INTEGER PRIMARY KEY AUTOINCREMENT, value INTEGER );")
		resp, err := cli.Do(req)
		if err != nil {
			return fmt.Errorf("failed to create perf table: %v", err)
		}
		if !strings.HasPrefix(resp.Status, "200") {
			return fmt.Errorf("failed to create perf table: %s", resp.Status)
		}
	}

	// Create results map
	registry := gometrics.NewRegistry()
	results := make(map[string]gometrics.Timer)

	for _, test := range tests {
		if shouldSkip(test.name) {
			fmt.Printf("%-10sskipped\n", test.name)
			continue
		}

		timer := gometrics.GetOrRegisterTimer(test.name, registry)
		if err := runBenchmark(test.name, timer, test.makeReq); err != nil {
			return err
		}

		results[test.name] = timer
		printPerfResult(test.name, timer)
	}

	// cleanup
	if !shouldSkip("write") {
		req := command.NewRequest("Query")
		req.Headers.Set("query", "DROP TABLE perf;")
		if _, err := cli.Do(req); err != nil {
			fmt.Printf("warning: failed to drop perf table: %v\n", err)
		}
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runBenchmark fires perfRequests requests at the server from perfNumThreads
// connections and records every latency in the timer.
func runBenchmark(name string, timer gometrics.Timer, makeReq func(int) *command.Request) error {
	conf := util.GetClientConfig()

	// feed the workers from a prefilled channel so an early worker exit
	// cannot stall the producer
	requests := make(chan int, perfRequests)
	for i := 0; i < perfRequests; i++ {
		requests <- i
	}
	close(requests)

	var wg sync.WaitGroup
	errs := make(chan error, perfNumThreads)

	for t := 0; t < perfNumThreads; t++ {
		// every worker gets its own connection
		worker, err := rpcclient.NewClient(*conf)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer worker.Close()

			for i := range requests {
				start := time.Now()
				resp, err := worker.Do(makeReq(i))
				if err != nil {
					errs <- fmt.Errorf("(%s) request failed: %v", name, err)
					return
				}
				timer.UpdateSince(start)

				if strings.HasPrefix(resp.Status, "5") {
					errs <- fmt.Errorf("(%s) server error: %s", name, resp.Status)
					return
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printPerfResult prints the result of a benchmark test in a formatted way
func printPerfResult(test string, timer gometrics.Timer) {
	ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-10s%8d ops\t%10.0f ops/sec\tp50 %s\tp95 %s\tp99 %s\n",
		test,
		timer.Count(),
		timer.RateMean(),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]gometrics.Timer) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetClientConfig()

	// Write header
	header := []string{
		"Test", "Count", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount", "Threads", "Requests",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, timer := range results {
		ps := timer.Percentiles([]float64{0.5, 0.95, 0.99})
		row := []string{
			test,
			strconv.FormatInt(timer.Count(), 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			fmt.Sprintf("%.0f", timer.RateMean()),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfRequests),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
