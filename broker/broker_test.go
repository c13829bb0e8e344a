package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
		want Tier
	}{
		{"market data farm ok", 2104, TierInfo},
		{"hmds farm ok", 2106, TierInfo},
		{"hmds inactive", 2107, TierInfo},
		{"farm inactive", 2108, TierInfo},
		{"farm connecting", 2119, TierInfo},
		{"sec def ok", 2158, TierInfo},
		{"delayed data", 10268, TierWarning},
		{"unable to modify", 2102, TierWarning},
		{"farm broken", 2103, TierWarning},
		{"tws to server broken", 2110, TierWarning},
		{"order warning", 399, TierWarning},
		{"no security definition", 200, TierError},
		{"order rejected", 201, TierError},
		{"unknown", 9999, TierError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TierOf(tt.code))

			ge := Error{ID: 7, Code: tt.code, Message: "x"}.AsGatewayError()
			assert.Equal(t, tt.want == TierError, ge.IsFailure())
		})
	}
}

func TestGatewayErrorMessage(t *testing.T) {
	t.Parallel()

	ge := &GatewayError{ID: 12, Code: 200, Message: "No security definition has been found"}
	assert.Equal(t, "gateway error 200 (id 12): No security definition has been found", ge.Error())
	assert.Equal(t, "info", TierInfo.String())
}

func TestConnectionErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	var err error = &ConnectionError{Host: "127.0.0.1", Port: PaperPort, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "127.0.0.1:4002")

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, PaperPort, ce.Port)
}

func TestTaggedEvents(t *testing.T) {
	t.Parallel()

	tagged := []Tagged{
		TickPrice{ReqID: 3},
		TickSize{ReqID: 3},
		TickSnapshotEnd{ReqID: 3},
		HistoricalBar{ReqID: 3},
		HistoricalEnd{ReqID: 3},
		AccountSummary{ReqID: 3},
		AccountSummaryEnd{ReqID: 3},
		ScannerData{ReqID: 3},
		ScannerEnd{ReqID: 3},
	}
	for _, ev := range tagged {
		assert.Equal(t, int64(3), ev.RequestID(), ev.Kind())
	}

	var ev Event = Position{}
	_, ok := ev.(Tagged)
	assert.False(t, ok, "positions are untagged on the wire")
}

func TestIsTerminalStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"Filled", "Cancelled", "ApiCancelled", "Inactive", "Rejected"} {
		assert.True(t, IsTerminalStatus(s), s)
	}
	for _, s := range []string{"PreSubmitted", "Submitted", "PendingSubmit", ""} {
		assert.False(t, IsTerminalStatus(s), s)
	}
}
