package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudnav-ai/cloudnav/pkg/log"
)

// Audit verdicts. One row is written per prompt round, whatever its outcome.
const (
	VerdictExecuted    = "executed"
	VerdictDenied      = "denied"
	VerdictLintFailed  = "lint_failed"
	VerdictParseFailed = "parse_failed"
	VerdictQuestion    = "question"
	VerdictSpawnFailed = "spawn_failed"
	VerdictLLMFailed   = "llm_failed"
)

// AuditEntry is one audit row.
type AuditEntry struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
	ClientIP       string    `json:"client_ip"`
	Prompt         string    `json:"prompt"`
	Tool           string    `json:"tool"`
	Command        string    `json:"command"`
	Verdict        string    `json:"verdict"`
	ExitCode       int       `json:"exit_code"`
	Success        bool      `json:"success"`
	ErrorMsg       string    `json:"error_msg,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
}

// RecordAudit inserts one audit row. Failures are logged, not propagated:
// auditing must never fail a user request.
func (d *DB) RecordAudit(e *AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO audit_log
		(created_at, conversation_id, client_ip, prompt, tool, command, verdict, exit_code, success, error_msg, duration_ms)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4),
		d.placeholder(5), d.placeholder(6), d.placeholder(7), d.placeholder(8),
		d.placeholder(9), d.placeholder(10), d.placeholder(11))

	if _, err := d.conn.Exec(query,
		e.CreatedAt, e.ConversationID, e.ClientIP, e.Prompt, e.Tool,
		e.Command, e.Verdict, e.ExitCode, e.Success, e.ErrorMsg, e.DurationMs); err != nil {
		log.Errorf("audit insert failed: %v", err)
	}
}

// AuditFilter narrows ListAudit results. Zero values mean no filter.
type AuditFilter struct {
	ConversationID string
	Verdict        string
	Limit          int
}

// ListAudit returns audit rows, newest first.
func (d *DB) ListAudit(f AuditFilter) ([]AuditEntry, error) {
	var conds []string
	var args []any
	n := 0
	if f.ConversationID != "" {
		n++
		conds = append(conds, "conversation_id = "+d.placeholder(n))
		args = append(args, f.ConversationID)
	}
	if f.Verdict != "" {
		n++
		conds = append(conds, "verdict = "+d.placeholder(n))
		args = append(args, f.Verdict)
	}

	query := `SELECT id, created_at, conversation_id, client_ip, prompt, tool, command, verdict, exit_code, success, error_msg, duration_ms FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.ConversationID, &e.ClientIP,
			&e.Prompt, &e.Tool, &e.Command, &e.Verdict, &e.ExitCode,
			&e.Success, &e.ErrorMsg, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountAudit returns the number of audit rows.
func (d *DB) CountAudit() (int64, error) {
	var n int64
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

// PurgeOlderThan deletes audit rows older than the retention window and
// returns how many were removed. Wired to the retention cron schedule.
func (d *DB) PurgeOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := d.conn.Exec(
		"DELETE FROM audit_log WHERE created_at < "+d.placeholder(1), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit_log: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		log.Infof("audit retention removed %d rows older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}
