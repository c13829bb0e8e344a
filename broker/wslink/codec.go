package wslink

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/ibsession/broker"
)

type decoder func([]byte) (broker.Event, error)

func as[T broker.Event](b []byte) (broker.Event, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[string]decoder{
	broker.EvNextValidID:       as[broker.NextValidID],
	broker.EvManagedAccounts:   as[broker.ManagedAccounts],
	broker.EvTickPrice:         as[broker.TickPrice],
	broker.EvTickSize:          as[broker.TickSize],
	broker.EvTickSnapshotEnd:   as[broker.TickSnapshotEnd],
	broker.EvHistoricalBar:     as[broker.HistoricalBar],
	broker.EvHistoricalEnd:     as[broker.HistoricalEnd],
	broker.EvAccountSummary:    as[broker.AccountSummary],
	broker.EvAccountSummaryEnd: as[broker.AccountSummaryEnd],
	broker.EvPosition:          as[broker.Position],
	broker.EvPositionEnd:       as[broker.PositionEnd],
	broker.EvOpenOrder:         as[broker.OpenOrder],
	broker.EvOpenOrderEnd:      as[broker.OpenOrderEnd],
	broker.EvOrderStatus:       as[broker.OrderStatus],
	broker.EvScannerData:       as[broker.ScannerData],
	broker.EvScannerEnd:        as[broker.ScannerEnd],
	broker.EvError:             as[broker.Error],
}

// Decode parses one inbound frame.
func Decode(frame []byte) (broker.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	dec, ok := decoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("decode frame: unknown type %q", head.Type)
	}
	ev, err := dec(frame)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return ev, nil
}
