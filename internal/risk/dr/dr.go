// Package dr implements crash-durable persistence for risk and strategy
// state: atomic saves, an emergency direct-write path for signal handlers,
// labeled backups, integrity checks, and position reconciliation.
package dr

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/riskcore/internal/audit"
)

const (
	riskStateFile     = "risk_state.json"
	strategyStateFile = "strategy_state.json"
	backupMetaFile    = "backup_meta.json"
)

const reconcileEpsilon = 1e-8

// BackupInfo describes a labeled backup.
type BackupInfo struct {
	Label     string    `json:"label"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Valid     bool      `json:"valid"`
}

type backupMeta struct {
	Label      string `json:"label"`
	TimestampNs int64  `json:"timestamp"`
	ISOTime    string `json:"iso_time"`
}

// ReconciliationResult is the outcome of comparing a local and exchange
// position for a symbol.
type ReconciliationResult struct {
	Symbol        string
	Local         float64
	Exchange      float64
	Discrepancy   float64
	PositionsMatch bool
	TimestampMs   int64
}

// Recovery persists and restores opaque risk/strategy state JSON blobs
// under a backup directory, with atomic writes and labeled backups.
type Recovery struct {
	dir string
	log *zap.Logger
	aud *audit.Logger

	mu sync.Mutex
}

// New constructs a Recovery rooted at dir, creating it if necessary.
func New(dir string, log *zap.Logger, aud *audit.Logger) (*Recovery, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dr: creating backup directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "journals"), 0o755); err != nil {
		return nil, fmt.Errorf("dr: creating journals directory: %w", err)
	}
	return &Recovery{dir: dir, log: log.Named("disasterrecovery"), aud: aud}, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveRiskState atomically persists both state blobs under the backup
// directory's root.
func (r *Recovery) SaveRiskState(risk, strategy json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := atomicWrite(filepath.Join(r.dir, riskStateFile), risk); err != nil {
		r.fail("save risk state", err)
		return false
	}
	if err := atomicWrite(filepath.Join(r.dir, strategyStateFile), strategy); err != nil {
		r.fail("save strategy state", err)
		return false
	}
	return true
}

// EmergencySave writes directly without the tmp/rename dance, to minimize
// latency from a signal handler. It returns true iff both writes succeed.
func (r *Recovery) EmergencySave(risk, strategy json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	okRisk := os.WriteFile(filepath.Join(r.dir, riskStateFile), risk, 0o644) == nil
	okStrategy := os.WriteFile(filepath.Join(r.dir, strategyStateFile), strategy, 0o644) == nil
	ok := okRisk && okStrategy
	if !ok {
		r.fail("emergency save", fmt.Errorf("risk_ok=%v strategy_ok=%v", okRisk, okStrategy))
	}
	return ok
}

func (r *Recovery) LoadRiskState() (json.RawMessage, error) {
	return os.ReadFile(filepath.Join(r.dir, riskStateFile))
}

func (r *Recovery) LoadStrategyState() (json.RawMessage, error) {
	return os.ReadFile(filepath.Join(r.dir, strategyStateFile))
}

func (r *Recovery) fail(op string, err error) {
	r.log.Error("disaster recovery operation failed", zap.String("op", op), zap.Error(err))
	if r.aud != nil {
		r.aud.LogEvent(audit.Event{Type: audit.ErrorCondition, Description: op + " failed: " + err.Error(), Success: false})
	}
}

// CreateBackup copies both state files and the journals directory into
// <dir>/<label>/, overwriting any existing backup under that label. An
// empty label mints a ksuid, giving unattended backups a collision-resistant,
// sortable name.
func (r *Recovery) CreateBackup(label string) (BackupInfo, error) {
	if label == "" {
		label = ksuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	backupDir := filepath.Join(r.dir, label)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		r.fail("create backup", err)
		return BackupInfo{}, err
	}

	if err := copyFileIfExists(filepath.Join(r.dir, riskStateFile), filepath.Join(backupDir, riskStateFile)); err != nil {
		r.fail("create backup: copy risk state", err)
		return BackupInfo{}, err
	}
	if err := copyFileIfExists(filepath.Join(r.dir, strategyStateFile), filepath.Join(backupDir, strategyStateFile)); err != nil {
		r.fail("create backup: copy strategy state", err)
		return BackupInfo{}, err
	}

	journalsSrc := filepath.Join(r.dir, "journals")
	journalsDst := filepath.Join(backupDir, "journals")
	if err := os.MkdirAll(journalsDst, 0o755); err != nil {
		r.fail("create backup: journals dir", err)
		return BackupInfo{}, err
	}
	entries, _ := os.ReadDir(journalsSrc)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_ = copyFileIfExists(filepath.Join(journalsSrc, e.Name()), filepath.Join(journalsDst, e.Name()))
	}

	now := time.Now()
	meta := backupMeta{Label: label, TimestampNs: now.UnixNano(), ISOTime: now.UTC().Format(time.RFC3339Nano)}
	metaData, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(backupDir, backupMetaFile), metaData, 0o644); err != nil {
		r.fail("create backup: write meta", err)
		return BackupInfo{}, err
	}

	r.log.Info("backup created", zap.String("label", label))
	if r.aud != nil {
		r.aud.LogEvent(audit.Event{Type: audit.SystemStart, Description: "backup created: " + label, Success: true})
	}

	size, _ := dirSize(backupDir)
	return BackupInfo{Label: label, Path: backupDir, CreatedAt: now, SizeBytes: size, Valid: true}, nil
}

// RestoreBackup is the inverse of CreateBackup: copies the labeled backup's
// state files back over the live state files.
func (r *Recovery) RestoreBackup(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	backupDir := filepath.Join(r.dir, label)
	if _, err := os.Stat(backupDir); err != nil {
		return fmt.Errorf("dr: backup %q not found: %w", label, err)
	}
	if err := copyFileIfExists(filepath.Join(backupDir, riskStateFile), filepath.Join(r.dir, riskStateFile)); err != nil {
		r.fail("restore backup: risk state", err)
		return err
	}
	if err := copyFileIfExists(filepath.Join(backupDir, strategyStateFile), filepath.Join(r.dir, strategyStateFile)); err != nil {
		r.fail("restore backup: strategy state", err)
		return err
	}
	r.log.Info("backup restored", zap.String("label", label))
	if r.aud != nil {
		r.aud.LogEvent(audit.Event{Type: audit.SystemStart, Description: "backup restored: " + label, Success: true})
	}
	return nil
}

// ListBackups enumerates labeled subdirectories, parsing each metadata
// file; a backup lacking metadata is still returned, marked invalid.
func (r *Recovery) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var out []BackupInfo
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "journals" {
			continue
		}
		backupDir := filepath.Join(r.dir, e.Name())
		info := BackupInfo{Label: e.Name(), Path: backupDir}
		metaData, err := os.ReadFile(filepath.Join(backupDir, backupMetaFile))
		if err != nil {
			info.Valid = false
			out = append(out, info)
			continue
		}
		var meta backupMeta
		if err := json.Unmarshal(metaData, &meta); err != nil {
			info.Valid = false
			out = append(out, info)
			continue
		}
		info.CreatedAt = time.Unix(0, meta.TimestampNs)
		info.SizeBytes, _ = dirSize(backupDir)
		info.Valid = true
		out = append(out, info)
	}
	return out, nil
}

func (r *Recovery) DeleteBackup(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return os.RemoveAll(filepath.Join(r.dir, label))
}

// ValidateJournalIntegrity enumerates *.journal files under the journals
// directory and reports whether each is non-empty.
func (r *Recovery) ValidateJournalIntegrity() (map[string]bool, error) {
	journalsDir := filepath.Join(r.dir, "journals")
	entries, err := os.ReadDir(journalsDir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".journal" {
			continue
		}
		fi, err := e.Info()
		result[e.Name()] = err == nil && fi.Size() > 0
	}
	return result, nil
}

// ValidateSnapshotIntegrity verifies every labeled backup directory
// contains at least one regular file.
func (r *Recovery) ValidateSnapshotIntegrity() (map[string]bool, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "journals" {
			continue
		}
		hasFile := false
		sub, _ := os.ReadDir(filepath.Join(r.dir, e.Name()))
		for _, f := range sub {
			if !f.IsDir() {
				hasFile = true
				break
			}
		}
		result[e.Name()] = hasFile
	}
	return result, nil
}

// ReconcilePosition compares a local and exchange-reported position,
// logging and auditing on mismatch.
func (r *Recovery) ReconcilePosition(symbol string, local, exchange float64) ReconciliationResult {
	discrepancy := local - exchange
	match := math.Abs(discrepancy) < reconcileEpsilon
	res := ReconciliationResult{
		Symbol: symbol, Local: local, Exchange: exchange,
		Discrepancy: discrepancy, PositionsMatch: match,
		TimestampMs: time.Now().UnixMilli(),
	}
	if !match {
		r.log.Warn("position reconciliation mismatch",
			zap.String("symbol", symbol), zap.Float64("local", local), zap.Float64("exchange", exchange))
		if r.aud != nil {
			r.aud.LogEvent(audit.Event{
				Type:        audit.DataAccess,
				Description: fmt.Sprintf("position mismatch for %s: local=%v exchange=%v", symbol, local, exchange),
				Success:     false,
				Target:      symbol,
			})
		}
	}
	return res
}

func copyFileIfExists(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
