package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swap"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestSwap creates a test swap record with sensible defaults.
func createTestSwap(uuid string, started time.Time) *swap.Record {
	return &swap.Record{
		UUID:        uuid,
		TimeStarted: started,
		Request: swap.Request{
			BaseCurrency:  "BTC",
			QuoteCurrency: "RES",
			Amount:        decimal.NewFromInt(1),
			Price:         decimal.NewFromInt(100),
			Total:         decimal.NewFromInt(100),
			Side:          swap.SideBuy,
		},
		Response: swap.Response{
			UUID:      uuid,
			Base:      "BTC",
			Rel:       "RES",
			BaseValue: decimal.NewFromInt(1),
			RelValue:  decimal.NewFromInt(100),
		},
	}
}

func newTestStore(t *testing.T) *Storage {
	t.Helper()

	store, err := New(&Config{DataDir: t.TempDir(), PortfolioID: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSwapInsertAndGet(t *testing.T) {
	store := newTestStore(t)

	rec := createTestSwap("swap-001", testTime)
	rec.Privacy = &swap.Privacy{ProcessName: "relay", Status: "created"}
	require.NoError(t, store.InsertSwap(rec))

	got, err := store.GetSwap("swap-001")
	require.NoError(t, err)
	require.Equal(t, "swap-001", got.UUID)
	require.True(t, got.TimeStarted.Equal(testTime))
	require.Equal(t, "BTC", got.Request.BaseCurrency)
	require.Equal(t, swap.SideBuy, got.Request.Side)
	require.True(t, got.Request.Price.Equal(decimal.NewFromInt(100)))
	require.True(t, got.Response.RelValue.Equal(decimal.NewFromInt(100)))
	require.Empty(t, got.Messages)
	require.Equal(t, &swap.Privacy{ProcessName: "relay", Status: "created"}, got.Privacy)

	require.ErrorIs(t, store.InsertSwap(rec), ErrSwapExists)
	require.ErrorIs(t, store.InsertSwap(createTestSwap("", testTime)), swap.ErrEmptyUUID)
}

func TestGetSwapNotFound(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSwap("missing")
	require.ErrorIs(t, err, ErrSwapNotFound)
	require.Nil(t, got)
}

func TestAppendSwapMessage(t *testing.T) {
	store := newTestStore(t)

	rec := createTestSwap("swap-001", testTime)
	rec.Privacy = &swap.Privacy{ProcessName: "relay", Status: "created"}
	require.NoError(t, store.InsertSwap(rec))

	messages := []string{
		`{"method":"connected","uuid":"swap-001"}`,
		`{"method":"update","uuid":"swap-001","requestid":11,"quoteid":12,"name":"myfee","coin":"RES","txid":"a","amount":0.001}`,
		`{"method":"update","uuid":"swap-001","requestid":99,"quoteid":98,"name":"bobdeposit","coin":"BTC","txid":"b","amount":1}`,
		`{"method":"set_private_order_status","uuid":"swap-001","status":"relaying"}`,
	}

	var updated *swap.Record
	for _, m := range messages {
		var err error
		updated, err = store.AppendSwapMessage("swap-001", json.RawMessage(m))
		require.NoError(t, err)
	}

	got, err := store.GetSwap("swap-001")
	require.NoError(t, err)
	require.Len(t, got.Messages, len(messages))
	for i, m := range messages {
		require.Equal(t, m, string(got.Messages[i]))
	}

	// First ids win
	require.Equal(t, uint64(11), got.RequestID)
	require.Equal(t, uint64(12), got.QuoteID)
	require.Equal(t, "relaying", got.Privacy.Status)
	require.Len(t, updated.Messages, len(got.Messages))
}

func TestAppendSwapMessageUnknownSwap(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendSwapMessage("missing", json.RawMessage(`{"method":"connected","uuid":"missing"}`))
	require.ErrorIs(t, err, ErrSwapNotFound)

	count, err := store.CountSwaps()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAppendSwapMessageRejectsInvalidJSON(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertSwap(createTestSwap("swap-001", testTime)))

	_, err := store.AppendSwapMessage("swap-001", json.RawMessage(`{"method":`))
	require.Error(t, err)

	got, err := store.GetSwap("swap-001")
	require.NoError(t, err)
	require.Empty(t, got.Messages)
}

func TestListSwaps(t *testing.T) {
	store := newTestStore(t)

	// swap-b and swap-c share a timestamp.
	swaps := []*swap.Record{
		createTestSwap("swap-a", testTime),
		createTestSwap("swap-b", testTime.Add(time.Minute)),
		createTestSwap("swap-c", testTime.Add(time.Minute)),
		createTestSwap("swap-d", testTime.Add(2*time.Minute)),
	}
	for _, rec := range swaps {
		require.NoError(t, store.InsertSwap(rec))
	}

	all, err := store.ListSwaps(time.Time{}, 0)
	require.NoError(t, err)
	want := []string{"swap-d", "swap-c", "swap-b", "swap-a"}
	require.Len(t, all, len(want))
	for i, uuid := range want {
		require.Equal(t, uuid, all[i].UUID)
	}

	// Since is exclusive
	recent, err := store.ListSwaps(testTime, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	limited, err := store.ListSwaps(time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "swap-d", limited[0].UUID)

	uuids, err := store.ListSwapUUIDs()
	require.NoError(t, err)
	require.Len(t, uuids, 4)

	count, err := store.CountSwaps()
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

func TestDeleteLegacySwaps(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.InsertSwap(createTestSwap("current", testTime)))

	legacy := []struct {
		uuid    string
		request string
	}{
		{"legacy-amount", `{"baseCurrency":"BTC","quoteCurrency":"RES","amount":"1","price":100,"total":100,"type":"buy"}`},
		{"legacy-price", `{"baseCurrency":"BTC","quoteCurrency":"RES","amount":1,"price":"100","total":100,"type":"buy"}`},
		{"legacy-total", `{"baseCurrency":"BTC","quoteCurrency":"RES","amount":1,"price":100,"total":"100","type":"buy"}`},
	}
	for _, l := range legacy {
		_, err := store.DB().Exec(
			`INSERT INTO swaps (uuid, time_started, request, response, updated_at) VALUES (?, ?, ?, '{}', ?)`,
			l.uuid, testTime.UnixMilli(), l.request, testTime.UnixMilli(),
		)
		require.NoError(t, err)
	}

	deleted, err := store.DeleteLegacySwaps()
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	_, err = store.GetSwap("current")
	require.NoError(t, err)

	// Idempotent
	deleted, err = store.DeleteLegacySwaps()
	require.NoError(t, err)
	require.Zero(t, deleted)
}
