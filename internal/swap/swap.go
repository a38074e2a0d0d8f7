// Package swap holds the swap record model and the status projector.
//
// A Record is the persisted trace of one swap attempt: the order request, the
// trading daemon's acknowledgment and every push message the daemon sent for
// it, in arrival order. Nothing derived is stored. The Projector folds the
// message log into a Projected view each time the swap is read.
package swap

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrEmptyUUID     = errors.New("swap uuid is empty")
	ErrInvalidSide   = errors.New("invalid order side")
	ErrMissingMethod = errors.New("message has no method")
)

// Status is the projected lifecycle status of a swap.
type Status string

const (
	StatusPending   Status = "pending"   // Order placed, no daemon push yet
	StatusMatched   Status = "matched"   // Counterparty found
	StatusSwapping  Status = "swapping"  // Transaction chain in progress
	StatusCompleted Status = "completed" // Spend confirmed by the daemon
	StatusFailed    Status = "failed"    // Failed, cancelled, unmatched or reverted
)

// Rank orders statuses along pending -> matched -> swapping -> terminal.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusMatched:
		return 1
	case StatusSwapping:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// IsTerminal reports whether no further forward transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Side is the order side from the user's point of view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Swap-chain stages in protocol order. The daemon reports each of them as an
// update message once the corresponding transaction is broadcast.
const (
	StageMyFee        = "myfee"
	StageBobDeposit   = "bobdeposit"
	StageAlicePayment = "alicepayment"
	StageBobPayment   = "bobpayment"
	StageAliceSpend   = "alicespend"

	// Stages outside the happy path.
	StageBobSpend     = "bobspend"
	StageBobRefund    = "bobrefund"
	StageAliceClaim   = "aliceclaim"
	StageAliceReclaim = "alicereclaim"
)

// Stages is the canonical stage ordering used for progress reporting.
var Stages = []string{
	StageMyFee,
	StageBobDeposit,
	StageAlicePayment,
	StageBobPayment,
	StageAliceSpend,
}

// StageIndex returns the 1-based position of stage in Stages, or 0 when the
// stage is not part of the canonical list.
func StageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i + 1
		}
	}
	return 0
}

// Daemon error codes with special meaning.
const (
	// ErrCodeUnmatched is sent when an order expires without a counterparty.
	ErrCodeUnmatched = -9999
	// ErrCodeCancelled is sent when an order is cancelled before matching.
	ErrCodeCancelled = -9998
	// ErrCodeForced marks a failure synthesised locally after daemon
	// messages for the swap were lost.
	ErrCodeForced = -10000
)

// IsLateCancelCode reports whether code is one of the cancellation codes the
// daemon can race out after a swap has already been matched.
func IsLateCancelCode(code int) bool {
	return code == ErrCodeUnmatched || code == ErrCodeCancelled
}

// Request holds the original order parameters. Immutable once created.
type Request struct {
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Total         decimal.Decimal `json:"total"`
	Side          Side            `json:"type"`
}

type requestJSON struct {
	BaseCurrency  string      `json:"baseCurrency"`
	QuoteCurrency string      `json:"quoteCurrency"`
	Amount        json.Number `json:"amount"`
	Price         json.Number `json:"price"`
	Total         json.Number `json:"total"`
	Side          Side        `json:"type"`
}

// MarshalJSON encodes numeric fields as JSON numbers. Records whose request
// amounts are JSON strings belong to an older schema and get purged at
// startup.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		BaseCurrency:  r.BaseCurrency,
		QuoteCurrency: r.QuoteCurrency,
		Amount:        number(r.Amount),
		Price:         number(r.Price),
		Total:         number(r.Total),
		Side:          r.Side,
	})
}

// Response is the daemon's synchronous acknowledgment of an order. Base and
// Rel use the daemon's naming, which may be inverted relative to the request.
type Response struct {
	UUID      string          `json:"uuid"`
	Base      string          `json:"base"`
	Rel       string          `json:"rel"`
	BaseValue decimal.Decimal `json:"basevalue"`
	RelValue  decimal.Decimal `json:"relvalue"`
	RequestID uint64          `json:"requestid,omitempty"`
	QuoteID   uint64          `json:"quoteid,omitempty"`
}

type responseJSON struct {
	UUID      string      `json:"uuid"`
	Base      string      `json:"base"`
	Rel       string      `json:"rel"`
	BaseValue json.Number `json:"basevalue"`
	RelValue  json.Number `json:"relvalue"`
	RequestID uint64      `json:"requestid,omitempty"`
	QuoteID   uint64      `json:"quoteid,omitempty"`
}

// MarshalJSON encodes values as JSON numbers, matching the daemon's format.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseJSON{
		UUID:      r.UUID,
		Base:      r.Base,
		Rel:       r.Rel,
		BaseValue: number(r.BaseValue),
		RelValue:  number(r.RelValue),
		RequestID: r.RequestID,
		QuoteID:   r.QuoteID,
	})
}

// Privacy describes private-swap routing through an intermediary process.
type Privacy struct {
	ProcessName string `json:"processName"`
	Status      string `json:"status"`
}

// Record is one persisted swap attempt.
type Record struct {
	UUID        string
	TimeStarted time.Time
	Request     Request
	Response    Response
	Messages    []json.RawMessage
	Privacy     *Privacy

	// Captured from the first message that carries them.
	RequestID uint64
	QuoteID   uint64
}

// IsPrivate reports whether the swap was routed through a privacy process.
func (r *Record) IsPrivate() bool {
	return r.Privacy != nil
}

// Transaction is one stage of the swap transaction chain.
type Transaction struct {
	Stage  string          `json:"stage"`
	Coin   string          `json:"coin"`
	TxID   string          `json:"txid"`
	Amount decimal.Decimal `json:"amount"`
}

// SwapError describes why a swap failed. Code is nil when the failure was
// inferred locally (for example an order orphaned by a restart).
type SwapError struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
