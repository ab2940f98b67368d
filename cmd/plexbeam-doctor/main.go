// Command plexbeam-doctor is an operator diagnostic companion to
// plexbeam: it never runs a transcode itself, it just reads the
// install-global state a cartridge run leaves behind and reports on it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

func main() {
	fs := flag.NewFlagSet("plexbeam-doctor", flag.ExitOnError)
	installDir := fs.String("install-dir", "/opt/plexbeam", "cartridge install directory (cartridge_events.log, fingerprint file)")
	pullDir := fs.String("pull-dir", "", "session pull directory, defaults to install-dir/sessions")
	workerPool := fs.String("worker-pool", "", "comma-separated worker pool spec to probe, same shape as PLEXBEAM_WORKER_POOL")
	recentSessions := fs.Int("recent", 5, "number of most recent sessions to summarize")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("PLEXBEAM")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *pullDir == "" {
		*pullDir = filepath.Join(*installDir, "sessions")
	}

	fmt.Println("== plexbeam doctor ==")
	reportFingerprint(*installDir)
	fmt.Println()
	reportEvents(*installDir)
	fmt.Println()
	reportSessions(*pullDir, *recentSessions)
	fmt.Println()
	reportWorkerPool(*workerPool)
}

func reportFingerprint(installDir string) {
	fmt.Println("-- backup binary fingerprint --")
	path := filepath.Join(installDir, ".binary_fingerprint")
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("  no fingerprint recorded yet (%s)\n", err)
		return
	}
	fmt.Printf("  current: %s\n", strings.TrimSpace(string(b)))

	history, err := os.ReadFile(filepath.Join(installDir, ".plex_version_history"))
	if err != nil {
		return
	}
	lines := strings.Split(strings.TrimSpace(string(history)), "\n")
	fmt.Printf("  upgrade history: %d recorded change(s)\n", len(lines))
	if n := len(lines); n > 0 {
		fmt.Printf("  most recent: %s\n", lines[n-1])
	}
}

type eventRecord struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
}

func reportEvents(installDir string) {
	fmt.Println("-- recent events --")
	f, err := os.Open(filepath.Join(installDir, "cartridge_events.log"))
	if err != nil {
		fmt.Printf("  no event log found (%s)\n", err)
		return
	}
	defer f.Close()

	var events []eventRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec eventRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		events = append(events, rec)
	}

	if len(events) == 0 {
		fmt.Println("  (empty)")
		return
	}
	start := 0
	if len(events) > 10 {
		start = len(events) - 10
	}
	for _, e := range events[start:] {
		fmt.Printf("  %s session=%s kind=%s\n", e.Timestamp, e.SessionID, e.Kind)
	}
}

func reportSessions(pullDir string, n int) {
	fmt.Println("-- recent sessions --")
	entries, err := os.ReadDir(pullDir)
	if err != nil {
		fmt.Printf("  no session directory found (%s)\n", err)
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// session_id = <utc-compact-timestamp>_<pid>, lexicographic order
	// matches chronological order.
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Println("  (none)")
		return
	}
	start := 0
	if len(names) > n {
		start = len(names) - n
	}
	for _, name := range names[start:] {
		fmt.Printf("  %s — %s\n", name, sessionOutcome(filepath.Join(pullDir, name)))
	}
}

func sessionOutcome(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, "03_job_completed.json")); err == nil {
		return "completed"
	}
	if _, err := os.Stat(filepath.Join(dir, "03_job_failed.json")); err == nil {
		return "failed"
	}
	return "no terminal record (in progress or crashed)"
}

func reportWorkerPool(spec string) {
	fmt.Println("-- worker pool reachability --")
	if spec == "" {
		fmt.Println("  (no --worker-pool given, skipping)")
		return
	}

	workers, err := workerpool.ParseSpec(spec)
	if err != nil {
		fmt.Printf("  could not parse pool spec: %s\n", err)
		return
	}

	client := workerclient.New("doctor")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, w := range workers {
		resp, err := client.Health(ctx, w.URL)
		if err != nil {
			fmt.Printf("  %s (%s): unreachable: %s\n", w.URL, w.Tag, err)
			continue
		}
		fmt.Printf("  %s (%s): %s, hw_accel=%s\n", w.URL, w.Tag, resp.Status, resp.HWAccel)
	}
}
