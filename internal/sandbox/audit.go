package sandbox

import (
	"context"
	"time"

	"github.com/opencode-ai/toolguard/internal/storage"
)

// AuditRecord is written once per run when auditing is enabled.
type AuditRecord struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Dir        string    `json:"dir,omitempty"`
	Backend    string    `json:"backend"`
	Outcome    Outcome   `json:"outcome"`
	ExitCode   int       `json:"exitCode"`
	Truncated  bool      `json:"truncated"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
	Error      string    `json:"error,omitempty"`
}

// AuditSink receives audit records.
type AuditSink interface {
	WriteAudit(ctx context.Context, rec AuditRecord) error
}

// StorageAudit stores records under ["audit", <yyyy-mm-dd>, <id>].
type StorageAudit struct {
	Storage *storage.Storage
}

// AuditKey is the storage key of rec.
func AuditKey(rec AuditRecord) []string {
	return []string{"audit", rec.StartedAt.UTC().Format("2006-01-02"), rec.ID}
}

func (a StorageAudit) WriteAudit(ctx context.Context, rec AuditRecord) error {
	return a.Storage.Put(ctx, AuditKey(rec), rec)
}
