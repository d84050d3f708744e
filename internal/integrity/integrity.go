// Package integrity implements the Integrity Verifier (C2): size-tolerance
// detection of corrupt or incomplete model files, plus the
// "uninstall_failed" sentinel protocol for interrupted removals.
package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"localmind/internal/errs"
	"localmind/internal/logx"
)

// Status is the integrity verdict for an on-disk model file.
type Status string

const (
	StatusOK       Status = "ok"
	StatusTooSmall Status = "too_small"
	StatusTooLarge Status = "too_large"
	StatusMissing  Status = "missing"
)

// Verdict is the result of checking one model file against its expected size.
type Verdict struct {
	Canonical    string
	Path         string
	ActualBytes  int64
	ExpectedMB   uint32
	Status       Status
}

// Message renders a human-readable explanation using humanized byte sizes,
// suitable for the "actionable remediation hint" the error handling design
// requires for resource errors.
func (v Verdict) Message() string {
	expected := uint64(v.ExpectedMB) * 1024 * 1024
	switch v.Status {
	case StatusOK:
		return fmt.Sprintf("%s: ok (%s, expected ~%s)", v.Canonical, humanize.Bytes(uint64(v.ActualBytes)), humanize.Bytes(expected))
	case StatusMissing:
		return fmt.Sprintf("%s: not installed (expected ~%s); run: install %s", v.Canonical, humanize.Bytes(expected), v.Canonical)
	case StatusTooSmall:
		return fmt.Sprintf("%s: file too small (%s of expected ~%s), looks incomplete or corrupt; reinstall", v.Canonical, humanize.Bytes(uint64(v.ActualBytes)), humanize.Bytes(expected))
	case StatusTooLarge:
		return fmt.Sprintf("%s: file too large (%s vs expected ~%s), looks corrupt; reinstall", v.Canonical, humanize.Bytes(uint64(v.ActualBytes)), humanize.Bytes(expected))
	default:
		return fmt.Sprintf("%s: unknown integrity status", v.Canonical)
	}
}

// lowTolerance / highTolerance implement the boundary rule: ok iff
// 0.95*expected <= actual <= 1.10*expected (both bounds inclusive);
// below 95% is too_small, strictly above 110% is too_large.
const (
	lowTolerance  = 0.95
	highTolerance = 1.10
)

// Verify computes the Status for one installed file against its expected
// size. A missing file (path does not exist) is StatusMissing, never an
// error.
func Verify(canonical, path string, expectedMB uint32) (Verdict, error) {
	v := Verdict{Canonical: canonical, Path: path, ExpectedMB: expectedMB}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			v.Status = StatusMissing
			return v, nil
		}
		return v, errs.New(errs.KindResource, "integrity", "check file permissions", err)
	}

	v.ActualBytes = info.Size()
	expectedBytes := float64(expectedMB) * 1024 * 1024
	actual := float64(v.ActualBytes)

	switch {
	case actual > expectedBytes*highTolerance:
		v.Status = StatusTooLarge
	case actual >= expectedBytes*lowTolerance:
		v.Status = StatusOK
	default:
		v.Status = StatusTooSmall
	}

	logx.Get(logx.CategoryIntegrity).Debug("verify %s: status=%s actual=%d expected_mb=%d", canonical, v.Status, v.ActualBytes, expectedMB)
	return v, nil
}

// ---------------------------------------------------------------------------
// Uninstall-failed sentinel
// ---------------------------------------------------------------------------

const sentinelFile = ".uninstall_failed"

// marker is the on-disk sentinel content: the canonical name whose removal
// failed mid-way.
type marker struct {
	Canonical string `json:"canonical"`
}

// BeginUninstall records that an uninstall of canonical is starting, so a
// crash mid-removal can be detected on next startup. Must be called before
// any file is touched.
func BeginUninstall(appDir, canonical string) error {
	path := filepath.Join(appDir, sentinelFile)
	data, err := json.Marshal(marker{Canonical: canonical})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.New(errs.KindResource, "integrity", "check disk space and permissions", err)
	}
	return nil
}

// CompleteUninstall removes the sentinel after a fully successful removal.
func CompleteUninstall(appDir string) error {
	err := os.Remove(filepath.Join(appDir, sentinelFile))
	if err != nil && !os.IsNotExist(err) {
		return errs.New(errs.KindResource, "integrity", "", err)
	}
	return nil
}

// StartupCleanupOffer describes a sentinel found at startup, informational
// only: the verifier never mutates files without an explicit
// CleanupConfirmed call.
type StartupCleanupOffer struct {
	Canonical string
	AppDir    string
}

// ScanStartup checks for a leftover sentinel from an interrupted uninstall.
// Returns ok=false if no sentinel is present.
func ScanStartup(appDir string) (StartupCleanupOffer, bool, error) {
	data, err := os.ReadFile(filepath.Join(appDir, sentinelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return StartupCleanupOffer{}, false, nil
		}
		return StartupCleanupOffer{}, false, errs.New(errs.KindResource, "integrity", "", err)
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return StartupCleanupOffer{}, false, errs.New(errs.KindInvariant, "integrity", "sentinel file is corrupt; remove it manually", err)
	}
	return StartupCleanupOffer{Canonical: m.Canonical, AppDir: appDir}, true, nil
}

// CleanupConfirmed performs the actual cleanup of a dangling partial model
// file and clears the sentinel. Only called after the caller has explicitly
// confirmed the offer; never invoked automatically by ScanStartup.
func CleanupConfirmed(offer StartupCleanupOffer, modelPath string) error {
	if err := os.Remove(modelPath); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.KindResource, "integrity", "", err)
	}
	return CompleteUninstall(offer.AppDir)
}
