package swap

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStarted = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newRecord(messages ...json.RawMessage) *Record {
	return &Record{
		UUID:        "swap-1",
		TimeStarted: testStarted,
		Request: Request{
			BaseCurrency:  "BTC",
			QuoteCurrency: "RES",
			Amount:        dec("1"),
			Price:         dec("100"),
			Total:         dec("100"),
			Side:          SideBuy,
		},
		Response: Response{
			UUID:      "swap-1",
			Base:      "BTC",
			Rel:       "RES",
			BaseValue: dec("1"),
			RelValue:  dec("100"),
		},
		Messages: messages,
	}
}

func connectedMsg() json.RawMessage {
	return json.RawMessage(`{"method":"connected","uuid":"swap-1"}`)
}

func updateMsg(t *testing.T, stage, coin string, amount string) json.RawMessage {
	return raw(t, map[string]interface{}{
		"method": "update",
		"uuid":   "swap-1",
		"name":   stage,
		"coin":   coin,
		"txid":   stage + "-tx",
		"amount": json.Number(amount),
	})
}

func finishedMsg(t *testing.T, chain ...Transaction) json.RawMessage {
	return raw(t, map[string]interface{}{
		"method":    "tradestatus",
		"uuid":      "swap-1",
		"status":    "finished",
		"txChain":   chain,
		"sentflags": []string{"alicespend"},
	})
}

func failedMsg(t *testing.T, code int) json.RawMessage {
	return raw(t, map[string]interface{}{"method": "failed", "uuid": "swap-1", "error": code})
}

func tx(stage, coin, amount string) Transaction {
	return Transaction{Stage: stage, Coin: coin, TxID: stage + "-tx", Amount: dec(amount)}
}

func happyChain() []Transaction {
	return []Transaction{
		tx(StageMyFee, "RES", "0.001"),
		tx(StageBobDeposit, "BTC", "1"),
		tx(StageAlicePayment, "RES", "95"),
		tx(StageBobPayment, "BTC", "1"),
		tx(StageAliceSpend, "BTC", "1"),
	}
}

func project(rec *Record) *Projected {
	return NewProjector(time.Time{}).Project(rec)
}

func TestProjectLifecycleScenario(t *testing.T) {
	rec := newRecord()

	p := project(rec)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, float64(0), p.Progress)
	require.Equal(t, "Pending", p.StatusFormatted)
	require.True(t, p.IsActive)
	require.Nil(t, p.Executed)

	rec.Messages = append(rec.Messages, connectedMsg())
	p = project(rec)
	require.Equal(t, StatusMatched, p.Status)
	require.InDelta(t, 0.1667, p.Progress, 0.0001)

	rec.Messages = append(rec.Messages, updateMsg(t, StageBobDeposit, "BTC", "1"))
	p = project(rec)
	require.Equal(t, StatusSwapping, p.Status)
	require.Len(t, p.Transactions, 1)
	require.Equal(t, StageBobDeposit, p.Transactions[0].Stage)
	require.Equal(t, "BTC", p.Transactions[0].Coin)
	require.Equal(t, "bobdeposit-tx", p.Transactions[0].TxID)
	require.Equal(t, "Swapping 2/5", p.StatusFormatted)
	require.InDelta(t, 0.5, p.Progress, 0.0001)

	rec.Messages = append(rec.Messages, finishedMsg(t, happyChain()...))
	p = project(rec)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, float64(1), p.Progress)
	require.Equal(t, "Completed", p.StatusFormatted)
	require.False(t, p.IsActive)
	require.NotNil(t, p.Executed)
	require.True(t, p.Executed.Price.Equal(dec("95")), "executed price %s", p.Executed.Price)
	require.True(t, p.Executed.BaseCurrencyAmount.Equal(dec("1")))
	require.True(t, p.Executed.QuoteCurrencyAmount.Equal(dec("95")))
	require.True(t, p.Executed.PercentCheaperThanRequested.Equal(dec("5")),
		"percent %s", p.Executed.PercentCheaperThanRequested)
	require.Equal(t, []string{"alicespend"}, p.SentFlags)
}

func TestProjectIsIdempotent(t *testing.T) {
	rec := newRecord(
		connectedMsg(),
		updateMsg(t, StageMyFee, "RES", "0.001"),
		updateMsg(t, StageBobDeposit, "BTC", "1"),
		finishedMsg(t, happyChain()...),
	)
	before := make([]json.RawMessage, len(rec.Messages))
	copy(before, rec.Messages)

	projector := NewProjector(testStarted.Add(time.Hour))
	first, err := json.Marshal(projector.Project(rec))
	require.NoError(t, err)
	second, err := json.Marshal(projector.Project(rec))
	require.NoError(t, err)

	require.Equal(t, string(first), string(second))
	require.Equal(t, before, rec.Messages)
}

func TestProjectFinishedReplacesChain(t *testing.T) {
	b := tx(StageBobDeposit, "BTC", "1")
	rec := newRecord(
		updateMsg(t, StageMyFee, "RES", "0.001"),
		updateMsg(t, StageBobDeposit, "BTC", "1"),
		finishedMsg(t, b),
	)

	p := project(rec)

	require.Len(t, p.Transactions, 1)
	require.Equal(t, b.Stage, p.Transactions[0].Stage)
	require.Equal(t, b.TxID, p.Transactions[0].TxID)
	// No spend in the chain.
	require.Equal(t, StatusFailed, p.Status)
}

func TestProjectDeduplicatesStages(t *testing.T) {
	rec := newRecord(
		updateMsg(t, StageMyFee, "RES", "0.001"),
		updateMsg(t, StageMyFee, "RES", "0.001"),
		updateMsg(t, StageBobDeposit, "BTC", "1"),
		updateMsg(t, StageBobDeposit, "BTC", "1"),
	)

	p := project(rec)

	require.Len(t, p.Transactions, 2)
	require.Equal(t, StageMyFee, p.Transactions[0].Stage)
	require.Equal(t, StageBobDeposit, p.Transactions[1].Stage)
}

func TestProjectInvertedOrientation(t *testing.T) {
	rec := newRecord()
	rec.Response = Response{
		UUID:      "swap-1",
		Base:      "RES",
		Rel:       "BTC",
		BaseValue: dec("100"),
		RelValue:  dec("1"),
	}

	p := project(rec)

	require.True(t, p.BaseCurrencyAmount.Equal(rec.Response.RelValue))
	require.True(t, p.QuoteCurrencyAmount.Equal(rec.Response.BaseValue))
	require.True(t, p.Broadcast.Price.Equal(dec("100")))
	require.Equal(t, "BTC", p.BaseCurrency)
	require.Equal(t, "RES", p.QuoteCurrency)
}

func TestProjectSellPercentIsNegated(t *testing.T) {
	rec := newRecord(finishedMsg(t,
		tx(StageBobPayment, "BTC", "1"),
		tx(StageAliceSpend, "RES", "95"),
	))
	rec.Request.Side = SideSell

	p := project(rec)

	require.Equal(t, StatusCompleted, p.Status)
	require.True(t, p.Executed.Price.Equal(dec("95")))
	require.True(t, p.Executed.PercentCheaperThanRequested.Equal(dec("-5")),
		"percent %s", p.Executed.PercentCheaperThanRequested)
}

func TestProjectFailed(t *testing.T) {
	tests := []struct {
		name      string
		messages  func(t *testing.T) []json.RawMessage
		status    Status
		formatted string
		hidden    bool
	}{
		{
			name: "generic failure",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{connectedMsg(), failedMsg(t, -42)}
			},
			status:    StatusFailed,
			formatted: "Failed",
		},
		{
			name: "unmatched while pending",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{failedMsg(t, ErrCodeUnmatched)}
			},
			status:    StatusFailed,
			formatted: "Unmatched",
			hidden:    true,
		},
		{
			name: "cancelled while pending",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{failedMsg(t, ErrCodeCancelled)}
			},
			status:    StatusFailed,
			formatted: "Cancelled",
		},
		{
			name: "late cancel after match is ignored",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{connectedMsg(), failedMsg(t, ErrCodeUnmatched)}
			},
			status:    StatusMatched,
			formatted: "Matched",
		},
		{
			name: "late cancel while swapping is ignored",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{
					updateMsg(t, StageMyFee, "RES", "0.001"),
					failedMsg(t, ErrCodeCancelled),
				}
			},
			status:    StatusSwapping,
			formatted: "Swapping 1/5",
		},
		{
			name: "failure after completion is ignored",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{finishedMsg(t, happyChain()...), NewForcedFailure("swap-1")}
			},
			status:    StatusCompleted,
			formatted: "Completed",
		},
		{
			name: "reclaim after failure is reverted",
			messages: func(t *testing.T) []json.RawMessage {
				return []json.RawMessage{
					updateMsg(t, StageMyFee, "RES", "0.001"),
					failedMsg(t, -7),
					finishedMsg(t,
						tx(StageMyFee, "RES", "0.001"),
						tx(StageAlicePayment, "RES", "95"),
						tx(StageAliceReclaim, "RES", "95"),
					),
				}
			},
			status:    StatusFailed,
			formatted: "Reverted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := project(newRecord(tt.messages(t)...))
			require.Equal(t, tt.status, p.Status)
			require.Equal(t, tt.formatted, p.StatusFormatted)
			require.Equal(t, tt.hidden, p.IsHidden)
			require.Equal(t, !tt.status.IsTerminal(), p.IsActive)
		})
	}
}

func TestProjectFailedRecordsCode(t *testing.T) {
	p := project(newRecord(NewForcedFailure("swap-1")))

	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, float64(1), p.Progress)
	require.NotNil(t, p.Error)
	require.NotNil(t, p.Error.Code)
	require.Equal(t, ErrCodeForced, *p.Error.Code)
}

func TestProjectOrphanedPending(t *testing.T) {
	rec := newRecord()

	p := NewProjector(testStarted.Add(time.Minute)).Project(rec)
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, "Cancelled", p.StatusFormatted)
	require.NotNil(t, p.Error)
	require.Nil(t, p.Error.Code)

	// Swaps from this session stay pending.
	p = NewProjector(testStarted.Add(-time.Minute)).Project(rec)
	require.Equal(t, StatusPending, p.Status)

	// Only pending swaps are affected.
	rec.Messages = append(rec.Messages, connectedMsg())
	p = NewProjector(testStarted.Add(time.Minute)).Project(rec)
	require.Equal(t, StatusMatched, p.Status)
}

func TestProjectPrivateStatus(t *testing.T) {
	status := json.RawMessage(`{"method":"set_private_order_status","uuid":"swap-1","status":"relaying"}`)

	rec := newRecord(connectedMsg(), status)
	rec.Privacy = &Privacy{ProcessName: "relay", Status: "created"}

	p := project(rec)
	require.True(t, p.IsPrivate)
	require.Equal(t, "relaying", p.Privacy.Status)
	require.Equal(t, StatusMatched, p.Status)
	require.Equal(t, "created", rec.Privacy.Status)

	public := project(newRecord(connectedMsg(), status))
	require.False(t, public.IsPrivate)
	require.Nil(t, public.Privacy)
	require.Equal(t, StatusMatched, public.Status)
}

func TestProjectIgnoresUndecodableMessages(t *testing.T) {
	rec := newRecord(
		json.RawMessage(`not json`),
		json.RawMessage(`{"uuid":"swap-1"}`),
		json.RawMessage(`{"method":"somethingelse","uuid":"swap-1"}`),
		json.RawMessage(`{"method":"tradestatus","uuid":"swap-1","status":"started"}`),
		connectedMsg(),
	)

	p := project(rec)
	require.Equal(t, StatusMatched, p.Status)
}

func TestProjectUnknownStageCountsAsZero(t *testing.T) {
	p := project(newRecord(updateMsg(t, "bobfeeclaim", "BTC", "1")))

	require.Equal(t, StatusSwapping, p.Status)
	require.Equal(t, "Swapping 0/5", p.StatusFormatted)
	require.InDelta(t, 1.0/6, p.Progress, 0.0001)
}

func TestProjectCustomLabels(t *testing.T) {
	projector := &Projector{Labels: Labels{LabelSwapping: "Échange"}}

	p := projector.Project(newRecord(updateMsg(t, StageMyFee, "RES", "0.001")))
	require.Equal(t, "Échange 1/5", p.StatusFormatted)

	// Missing keys fall back to English.
	p = projector.Project(newRecord(connectedMsg()))
	require.Equal(t, "Matched", p.StatusFormatted)
}

func TestProjectStatusNeverRegresses(t *testing.T) {
	pool := []json.RawMessage{
		connectedMsg(),
		updateMsg(t, StageMyFee, "RES", "0.001"),
		updateMsg(t, StageBobDeposit, "BTC", "1"),
		updateMsg(t, StageAlicePayment, "RES", "95"),
		updateMsg(t, StageAliceSpend, "BTC", "1"),
		finishedMsg(t, happyChain()...),
		finishedMsg(t, tx(StageMyFee, "RES", "0.001")),
		failedMsg(t, ErrCodeUnmatched),
		failedMsg(t, ErrCodeCancelled),
		failedMsg(t, -1),
		NewForcedFailure("swap-1"),
	}

	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 200; run++ {
		rec := newRecord()
		prev := project(rec)
		for step := 0; step < 12; step++ {
			rec.Messages = append(rec.Messages, pool[rng.Intn(len(pool))])
			next := project(rec)

			require.GreaterOrEqual(t, next.Status.Rank(), prev.Status.Rank(),
				"run %d step %d: %s -> %s", run, step, prev.Status, next.Status)
			require.GreaterOrEqual(t, next.Progress, prev.Progress)
			if prev.Status.IsTerminal() {
				require.Equal(t, prev.Status, next.Status)
			}
			prev = next
		}
	}
}
