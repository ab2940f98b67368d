// Package selfheal implements the self-heal / watchdog half of the Local
// Fallback component (C7b): before a Plex deployment does anything else,
// it must know that its "real transcoder" backup binary — the one local
// fallback execs when every remote dispatch path has failed — is still
// there and still executable, and it must notice when the host's Plex
// install has silently swapped that binary out from under it (a Plex
// Media Server upgrade replaces it in place).
//
// Grounded on the teacher's pipeline/coordinator.go retry-with-backoff
// idiom (backoff.Retry around a flaky check) and its single-writer,
// append-only log file discipline (events/events.go, log/events.go).
package selfheal

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
)

const (
	fingerprintFileName  = ".binary_fingerprint"
	versionHistoryName   = ".plex_version_history"
	backupStatRetries    = 3
	backupStatRetryDelay = 50 * time.Millisecond
)

// Result is what Verify found: the backup binary path that should
// actually be used (which may differ from the configured one, if a
// sibling had to be substituted) and whether this call discovered a new
// fingerprint (i.e. a host upgrade event fired).
type Result struct {
	BackupPath         string
	FingerprintChanged bool
	Fingerprint        string
}

// Verify runs the self-heal check for one session. For Jellyfin sources
// it is a no-op (Jellyfin's interception is a separate shim file with
// nothing to self-heal), returning the configured path unexamined.
func Verify(cfg config.Config, sessionID string, events *log.EventLogger) (Result, error) {
	if cfg.Source != "plex" {
		return Result{BackupPath: cfg.RealFFmpegPath}, nil
	}

	backupPath := cfg.RealFFmpegPath
	if !isExecutableWithRetry(backupPath) {
		found, err := findSibling(backupPath)
		if err != nil {
			return Result{}, cartridgeerrors.NewSelfHealError(fmt.Sprintf("backup transcoder %q missing and no sibling found: %s", backupPath, err))
		}
		log.Log(sessionID, "self-heal substituted backup transcoder", "configured", backupPath, "found", found)
		backupPath = found
	}

	fp, err := fingerprint(backupPath)
	if err != nil {
		return Result{}, cartridgeerrors.NewSelfHealError(fmt.Sprintf("fingerprinting backup transcoder %q: %s", backupPath, err))
	}

	changed, err := recordFingerprint(cfg.InstallDir, sessionID, fp, events)
	if err != nil {
		log.LogError(sessionID, "self-heal fingerprint bookkeeping failed", err)
	}

	return Result{BackupPath: backupPath, FingerprintChanged: changed, Fingerprint: fp}, nil
}

// isExecutableWithRetry stats path a few times with a short backoff:
// the backup binary can live on a network mount that occasionally blips,
// and a transient stat failure shouldn't be indistinguishable from the
// binary actually being gone.
func isExecutableWithRetry(path string) bool {
	var ok bool
	_ = backoff.Retry(func() error {
		ok = isExecutable(path)
		if ok {
			return nil
		}
		return fmt.Errorf("not executable: %s", path)
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(backupStatRetryDelay), backupStatRetries))
	return ok
}

func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0o111 != 0
}

// findSibling searches the locations the spec names when the configured
// backup path is gone: a "Plex Transcoder.real" sibling, a
// "<name>.backup" sibling, and failing that any ELF/Mach-O file in the
// parent directory.
func findSibling(configuredPath string) (string, error) {
	dir := filepath.Dir(configuredPath)

	candidates := []string{
		filepath.Join(dir, "Plex Transcoder.real"),
		configuredPath + ".backup",
	}
	for _, c := range candidates {
		if isExecutable(c) {
			return c, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if !isExecutable(full) {
			continue
		}
		if isELFOrMachO(full) {
			return full, nil
		}
	}
	return "", fmt.Errorf("no executable ELF/Mach-O sibling found in %s", dir)
}

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	// 32-bit, 64-bit, fat (big/little endian) Mach-O magics.
	machOMagics = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xcf, 0xfa, 0xed, 0xfe},
		{0xca, 0xfe, 0xba, 0xbe},
	}
)

func isELFOrMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var head [4]byte
	if _, err := f.Read(head[:]); err != nil {
		return false
	}
	if string(head[:]) == string(elfMagic) {
		return true
	}
	for _, m := range machOMagics {
		if string(head[:]) == string(m) {
			return true
		}
	}
	return false
}

func fingerprint(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// recordFingerprint compares fp against the install-global
// .binary_fingerprint file, and when it differs (including "never
// recorded before"), logs a host-upgrade event and appends a line to
// .plex_version_history, per the persisted state layout.
func recordFingerprint(installDir, sessionID, fp string, events *log.EventLogger) (changed bool, err error) {
	fpPath := filepath.Join(installDir, fingerprintFileName)

	prev, readErr := os.ReadFile(fpPath)
	prevFP := strings.TrimSpace(string(prev))
	changed = readErr != nil || prevFP != fp
	if !changed {
		return false, nil
	}

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return true, err
	}
	if err := os.WriteFile(fpPath, []byte(fp), 0o644); err != nil {
		return true, err
	}

	if events != nil {
		events.Event(sessionID, "self_heal_fingerprint_changed", map[string]any{
			"old": prevFP,
			"new": fp,
		})
	}

	if err := appendVersionHistory(installDir, fp); err != nil {
		return true, err
	}
	return true, nil
}

func appendVersionHistory(installDir, fp string) error {
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), fp)
	f, err := os.OpenFile(filepath.Join(installDir, versionHistoryName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
