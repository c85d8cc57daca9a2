// Replay tool for checking a running buildcheck against recorded builds.
//
// Usage:
//
//	replay --csv builds.csv --url http://localhost:8080
//
// The CSV has a header row. Columns:
//
//	build_id  expected  <slug>  <slug>  ...
//
// expected is valid, warning or error (or empty to skip the comparison).
// Every other column is a category slug; its cell holds one part id or
// several separated by ";".
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RecordedBuild is one row of the replay file.
type RecordedBuild struct {
	BuildID   string
	Expected  string
	Selection map[string][]string
}

// ValidateRequest is the buildcheck API request format.
type ValidateRequest struct {
	BuildID   string              `json:"buildId,omitempty"`
	Selection map[string][]string `json:"selection"`
}

// ValidateResponse is the part of the buildcheck response the replay reads.
type ValidateResponse struct {
	Result struct {
		IsValid  bool   `json:"isValid"`
		Status   string `json:"status"`
		Stage    string `json:"stage"`
		Issues   []any  `json:"issues"`
		Warnings []any  `json:"warnings"`
	} `json:"result"`
}

// Metrics tracks replay results.
type Metrics struct {
	Matched    atomic.Int64
	Mismatched atomic.Int64
	Unlabelled atomic.Int64
	Errors     atomic.Int64
	Processed  atomic.Int64

	ProcessingTimeMs atomic.Int64

	mu       sync.Mutex
	byStatus map[string]int
	misses   []string
}

func (m *Metrics) record(build RecordedBuild, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byStatus[status]++
	if build.Expected != "" && build.Expected != status {
		m.misses = append(m.misses, fmt.Sprintf("%s: expected %s, got %s", build.BuildID, build.Expected, status))
	}
}

type options struct {
	csvPath  string
	baseURL  string
	tenantID string
	limit    int
	workers  int
	verbose  bool
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded builds against a running buildcheck",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "Path to the recorded builds CSV")
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "buildcheck base URL")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "default", "Tenant ID for requests")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum builds to replay (0 = all)")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "Number of concurrent requests")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print each build result")
	_ = cmd.MarkFlagRequired("csv")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	fmt.Println("buildcheck replay")
	fmt.Printf("\nCSV File:  %s\n", opts.csvPath)
	fmt.Printf("URL:       %s\n", opts.baseURL)
	fmt.Printf("Tenant ID: %s\n", opts.tenantID)
	fmt.Printf("Workers:   %d\n", opts.workers)
	fmt.Println()

	if err := checkHealth(opts.baseURL); err != nil {
		return fmt.Errorf("buildcheck not reachable at %s: %w", opts.baseURL, err)
	}
	fmt.Println("buildcheck is healthy")

	f, err := os.Open(opts.csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	builds, err := readBuilds(f, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}
	fmt.Printf("Loaded %d builds\n", len(builds))

	start := time.Now()
	metrics, err := replay(ctx, builds, opts)
	if err != nil {
		return err
	}
	printResults(metrics, time.Since(start))
	return nil
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readBuilds parses the replay CSV. Rows with a wrong field count are
// skipped.
func readBuilds(r io.Reader, limit int) ([]RecordedBuild, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idCol, expectedCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "build_id":
			idCol = i
		case "expected":
			expectedCol = i
		}
	}
	if idCol < 0 {
		return nil, errors.New("missing build_id column")
	}

	var builds []RecordedBuild
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		build := RecordedBuild{BuildID: record[idCol], Selection: map[string][]string{}}
		if expectedCol >= 0 {
			build.Expected = strings.ToLower(strings.TrimSpace(record[expectedCol]))
		}
		for i, col := range header {
			if i == idCol || i == expectedCol {
				continue
			}
			for _, id := range strings.Split(record[i], ";") {
				if id = strings.TrimSpace(id); id != "" {
					slug := strings.TrimSpace(col)
					build.Selection[slug] = append(build.Selection[slug], id)
				}
			}
		}
		builds = append(builds, build)

		if limit > 0 && len(builds) >= limit {
			break
		}
	}
	return builds, nil
}

func replay(ctx context.Context, builds []RecordedBuild, opts options) (*Metrics, error) {
	metrics := &Metrics{byStatus: map[string]int{}}
	client := &http.Client{Timeout: 10 * time.Second}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))

	for _, build := range builds {
		build := build
		g.Go(func() error {
			start := time.Now()
			result, err := validateBuild(gCtx, client, opts.baseURL, opts.tenantID, build)
			metrics.ProcessingTimeMs.Add(time.Since(start).Milliseconds())
			metrics.Processed.Add(1)

			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				metrics.Errors.Add(1)
				if opts.verbose {
					fmt.Printf("ERROR: %s -> %v\n", build.BuildID, err)
				}
				return nil
			}

			status := result.Result.Status
			metrics.record(build, status)
			switch {
			case build.Expected == "":
				metrics.Unlabelled.Add(1)
			case build.Expected == status:
				metrics.Matched.Add(1)
			default:
				metrics.Mismatched.Add(1)
			}

			if opts.verbose {
				mark := "ok"
				if build.Expected != "" && build.Expected != status {
					mark = "MISS"
				}
				fmt.Printf("%-4s %-20s | stage: %-12s | status: %-7s | issues: %d | warnings: %d\n",
					mark, build.BuildID, result.Result.Stage, status,
					len(result.Result.Issues), len(result.Result.Warnings))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return metrics, err
	}
	return metrics, nil
}

func validateBuild(ctx context.Context, client *http.Client, baseURL, tenantID string, build RecordedBuild) (*ValidateResponse, error) {
	body, err := json.Marshal(ValidateRequest{BuildID: build.BuildID, Selection: build.Selection})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\n  Processed:   %d\n", m.Processed.Load())
	fmt.Printf("  Errors:      %d\n", m.Errors.Load())
	fmt.Printf("  Matched:     %d\n", m.Matched.Load())
	fmt.Printf("  Mismatched:  %d\n", m.Mismatched.Load())
	fmt.Printf("  Unlabelled:  %d\n", m.Unlabelled.Load())

	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]string, 0, len(m.byStatus))
	for s := range m.byStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	fmt.Println("\n  By status:")
	for _, s := range statuses {
		fmt.Printf("    %-8s %d\n", s, m.byStatus[s])
	}

	if len(m.misses) > 0 {
		sort.Strings(m.misses)
		fmt.Println("\n  Mismatches:")
		for _, miss := range m.misses {
			fmt.Printf("    %s\n", miss)
		}
	}

	fmt.Printf("\n  Total Duration: %v\n", duration.Round(time.Millisecond))
	if n := m.Processed.Load(); n > 0 {
		fmt.Printf("  Avg Latency:    %.2f ms\n", float64(m.ProcessingTimeMs.Load())/float64(n))
		fmt.Printf("  Throughput:     %.2f builds/sec\n", float64(n)/duration.Seconds())
	}
	fmt.Println()
}
