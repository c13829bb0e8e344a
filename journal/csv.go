package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

var (
	planHeader   = []string{"ref", "time", "symbol", "exchange", "currency", "action", "quantity", "order_type", "order_ids", "entry_price", "stop_price", "target_price", "risk_amount", "note"}
	statusHeader = []string{"ref", "order_id", "parent_id", "status", "filled", "remaining", "avg_fill_price", "time"}
)

type CSVJournal struct {
	plans    *csv.Writer
	statuses *csv.Writer
	pf, sf   *os.File
}

// NewCSV appends to the two files, writing headers only into empty ones.
func NewCSV(plansPath, statusPath string) (*CSVJournal, error) {
	pf, pw, err := openCSV(plansPath, planHeader)
	if err != nil {
		return nil, err
	}
	sf, sw, err := openCSV(statusPath, statusHeader)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}
	return &CSVJournal{pw, sw, pf, sf}, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
	}
	return f, w, nil
}

func (j *CSVJournal) RecordPlan(p PlanRecord) error {
	err := j.plans.Write([]string{
		p.Ref,
		p.Time.Format(time.RFC3339),
		p.Symbol,
		p.Exchange,
		p.Currency,
		p.Action,
		strconv.FormatInt(p.Quantity, 10),
		p.OrderType,
		joinIDs(p.OrderIDs),
		f(p.EntryPrice),
		f(p.StopPrice),
		f(p.Target),
		f(p.RiskAmount),
		p.Note,
	})
	if err != nil {
		return err
	}
	j.plans.Flush()
	return j.plans.Error()
}

func (j *CSVJournal) RecordStatus(s StatusRecord) error {
	err := j.statuses.Write([]string{
		s.Ref,
		strconv.FormatInt(s.OrderID, 10),
		strconv.FormatInt(s.ParentID, 10),
		s.Status,
		f(s.Filled),
		f(s.Remaining),
		f(s.AvgFillPrice),
		s.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.statuses.Flush()
	return j.statuses.Error()
}

func (j *CSVJournal) Close() error {
	j.plans.Flush()
	if err := j.plans.Error(); err != nil {
		return err
	}
	j.statuses.Flush()
	if err := j.statuses.Error(); err != nil {
		return err
	}

	if err := j.pf.Close(); err != nil {
		return err
	}
	return j.sf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
