package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordPlan(p PlanRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO plans
		(ref, time, symbol, exchange, currency, action, quantity, order_type, order_ids,
		 entry_price, stop_price, target_price, risk_amount, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Ref, p.Time, p.Symbol, p.Exchange, p.Currency, p.Action, p.Quantity, p.OrderType,
		joinIDs(p.OrderIDs), p.EntryPrice, p.StopPrice, p.Target, p.RiskAmount, p.Note,
	)
	return err
}

func (j *SQLite) RecordStatus(s StatusRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO order_status
		(ref, order_id, parent_id, status, filled, remaining, avg_fill_price, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Ref, s.OrderID, s.ParentID, s.Status, s.Filled, s.Remaining, s.AvgFillPrice, s.Time,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
