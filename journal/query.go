package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const planColumns = `ref, time, symbol, exchange, currency, action, quantity, order_type, order_ids,
		entry_price, stop_price, target_price, risk_amount, note`

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (PlanRecord, error) {
	var rec PlanRecord
	var ids string
	err := row.Scan(
		&rec.Ref,
		&rec.Time,
		&rec.Symbol,
		&rec.Exchange,
		&rec.Currency,
		&rec.Action,
		&rec.Quantity,
		&rec.OrderType,
		&ids,
		&rec.EntryPrice,
		&rec.StopPrice,
		&rec.Target,
		&rec.RiskAmount,
		&rec.Note,
	)
	if err != nil {
		return PlanRecord{}, err
	}
	rec.OrderIDs, err = splitIDs(ids)
	return rec, err
}

// GetPlan returns a single plan by ticket reference.
func (j *SQLite) GetPlan(ref string) (PlanRecord, error) {
	row := j.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE ref = ?`, ref)
	rec, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlanRecord{}, fmt.Errorf("plan %q not found", ref)
		}
		return PlanRecord{}, err
	}
	return rec, nil
}

// ListPlansBetween returns plans submitted within [start, end).
func (j *SQLite) ListPlansBetween(start, end time.Time) ([]PlanRecord, error) {
	rows, err := j.db.Query(`SELECT `+planColumns+`
		FROM plans
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStatuses returns every status recorded for a plan, oldest first.
func (j *SQLite) ListStatuses(ref string) ([]StatusRecord, error) {
	rows, err := j.db.Query(`
		SELECT ref, order_id, parent_id, status, filled, remaining, avg_fill_price, time
		FROM order_status
		WHERE ref = ?
		ORDER BY time ASC, rowid ASC`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		if err := rows.Scan(
			&rec.Ref,
			&rec.OrderID,
			&rec.ParentID,
			&rec.Status,
			&rec.Filled,
			&rec.Remaining,
			&rec.AvgFillPrice,
			&rec.Time,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
