package domain

import "time"

// AuditResult: исход мутации.
type AuditResult string

const (
	AuditResultApplied  AuditResult = "applied"
	AuditResultRejected AuditResult = "rejected"
	AuditResultFailed   AuditResult = "failed"
	AuditResultSkipped  AuditResult = "skipped"
)

// AuditEntry описывает событие в журнале мутаций сущности.
type AuditEntry struct {
	Kind      Kind        `json:"kind"`
	Key       int         `json:"key"`
	Operation EventType   `json:"operation"`
	Result    AuditResult `json:"result"`
	Reason    string      `json:"reason,omitempty"`
	Version   int64       `json:"version"`
	Occurred  time.Time   `json:"occurred"`
}
