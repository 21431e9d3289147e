package dr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRecovery(t *testing.T) *Recovery {
	dir := t.TempDir()
	r, err := New(dir, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return r
}

func TestSaveAndLoadRiskStateRoundTrip(t *testing.T) {
	r := newTestRecovery(t)
	risk := json.RawMessage(`{"current_position":1.5}`)
	strategy := json.RawMessage(`{"foo":"bar"}`)

	if !r.SaveRiskState(risk, strategy) {
		t.Fatal("expected save to succeed")
	}
	gotRisk, err := r.LoadRiskState()
	if err != nil {
		t.Fatalf("LoadRiskState: %v", err)
	}
	if string(gotRisk) != string(risk) {
		t.Fatalf("risk state round-trip mismatch: got %s", gotRisk)
	}
	gotStrategy, err := r.LoadStrategyState()
	if err != nil {
		t.Fatalf("LoadStrategyState: %v", err)
	}
	if string(gotStrategy) != string(strategy) {
		t.Fatalf("strategy state round-trip mismatch: got %s", gotStrategy)
	}
}

func TestAtomicWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	if err := atomicWrite(path, []byte(`{}`)); err != nil {
		t.Fatalf("atomicWrite: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected no leftover .tmp file")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{}" {
		t.Fatalf("expected final file to contain written content, got %q err=%v", data, err)
	}
}

func TestBackupCreateMutateRestoreRoundTrip(t *testing.T) {
	r := newTestRecovery(t)
	original := json.RawMessage(`{"current_position":1.0}`)
	r.SaveRiskState(original, json.RawMessage(`{}`))

	info, err := r.CreateBackup("checkpoint-1")
	require.NoError(t, err)
	require.True(t, info.Valid)
	require.Equal(t, "checkpoint-1", info.Label)

	mutated := json.RawMessage(`{"current_position":99.0}`)
	r.SaveRiskState(mutated, json.RawMessage(`{}`))

	if err := r.RestoreBackup("checkpoint-1"); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	got, _ := r.LoadRiskState()
	if string(got) != string(original) {
		t.Fatalf("expected restored state to match backup-time content, got %s", got)
	}
}

func TestCreateBackupWithEmptyLabelMintsOne(t *testing.T) {
	r := newTestRecovery(t)
	r.SaveRiskState(json.RawMessage(`{}`), json.RawMessage(`{}`))
	info, err := r.CreateBackup("")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if info.Label == "" {
		t.Fatal("expected a minted label")
	}
}

func TestListBackupsMarksMissingMetadataInvalid(t *testing.T) {
	r := newTestRecovery(t)
	if err := os.MkdirAll(filepath.Join(r.dir, "no-meta"), 0o755); err != nil {
		t.Fatal(err)
	}
	backups, err := r.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	found := false
	for _, b := range backups {
		if b.Label == "no-meta" {
			found = true
			if b.Valid {
				t.Fatalf("expected backup lacking metadata to be marked invalid")
			}
		}
	}
	if !found {
		t.Fatalf("expected the no-meta directory to still be listed")
	}
}

func TestReconcilePositionMatchesWithinEpsilon(t *testing.T) {
	r := newTestRecovery(t)

	res := r.ReconcilePosition("BTCUSD", 10.0, 10.0+5e-9)
	if !res.PositionsMatch {
		t.Fatalf("expected match within epsilon, got discrepancy %v", res.Discrepancy)
	}

	res2 := r.ReconcilePosition("BTCUSD", 10.0, 10.01)
	if res2.PositionsMatch {
		t.Fatalf("expected mismatch outside epsilon")
	}
}

func TestValidateJournalIntegrityReportsNonEmptyFiles(t *testing.T) {
	r := newTestRecovery(t)
	journalsDir := filepath.Join(r.dir, "journals")
	os.WriteFile(filepath.Join(journalsDir, "a.journal"), []byte("data"), 0o644)
	os.WriteFile(filepath.Join(journalsDir, "b.journal"), nil, 0o644)

	result, err := r.ValidateJournalIntegrity()
	if err != nil {
		t.Fatalf("ValidateJournalIntegrity: %v", err)
	}
	if !result["a.journal"] {
		t.Fatalf("expected a.journal to be valid (non-empty)")
	}
	if result["b.journal"] {
		t.Fatalf("expected b.journal to be invalid (empty)")
	}
}
