package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opentrade/opentrade/internal/domain"
)

// Log 风控审计库
// 每一次裁决都落库：拒绝绝不静默丢弃，事后可按决策回放。
type Log struct {
	db *sql.DB
}

// Open 打开审计库并建表
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开审计库失败: %w", err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS risk_audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  decision_id TEXT NOT NULL,
  strategy_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  size_fraction REAL NOT NULL,
  confidence REAL NOT NULL,
  vetoed INTEGER NOT NULL DEFAULT 0,
  approved INTEGER NOT NULL,
  reason TEXT,
  approved_size TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_decision ON risk_audit_log(decision_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON risk_audit_log(ts);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("审计库迁移失败: %w", err)
		}
	}
	return nil
}

// RecordVerdict 记录一次风控裁决（实现 ports.AuditSink）
func (l *Log) RecordVerdict(ctx context.Context, d *domain.Decision, v *domain.Verdict) error {
	approved := 0
	if v.Approved {
		approved = 1
	}
	vetoed := 0
	if d.Vetoed {
		vetoed = 1
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO risk_audit_log (ts,decision_id,strategy_id,symbol,direction,size_fraction,confidence,vetoed,approved,reason,approved_size)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, time.Now().Format(time.RFC3339Nano), d.ID, d.StrategyID, d.Symbol, string(d.Direction),
		d.Size, d.Confidence, vetoed, approved, string(v.Reason), v.ApprovedSize.String())
	if err != nil {
		return fmt.Errorf("写入审计记录失败: %w", err)
	}
	return nil
}

// Entry 审计记录
type Entry struct {
	ID         int64
	Timestamp  time.Time
	DecisionID string
	StrategyID string
	Symbol     string
	Direction  string
	Approved   bool
	Reason     string
}

// Recent 最近 N 条裁决记录（新的在前）
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id,ts,decision_id,strategy_id,symbol,direction,approved,COALESCE(reason,'')
FROM risk_audit_log ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var approved int
		if err := rows.Scan(&e.ID, &ts, &e.DecisionID, &e.StrategyID, &e.Symbol, &e.Direction, &approved, &e.Reason); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Approved = approved == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close 关闭审计库
func (l *Log) Close() error {
	return l.db.Close()
}
