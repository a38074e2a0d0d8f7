package swap

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Label keys. Failure labels refine the failed status for display only.
const (
	LabelPending   = "pending"
	LabelMatched   = "matched"
	LabelSwapping  = "swapping"
	LabelCompleted = "completed"
	LabelFailed    = "failed"
	LabelUnmatched = "unmatched"
	LabelCancelled = "cancelled"
	LabelReverted  = "reverted"
)

// Labels maps label keys to display strings.
type Labels map[string]string

// DefaultLabels is the English label table.
var DefaultLabels = Labels{
	LabelPending:   "Pending",
	LabelMatched:   "Matched",
	LabelSwapping:  "Swapping",
	LabelCompleted: "Completed",
	LabelFailed:    "Failed",
	LabelUnmatched: "Unmatched",
	LabelCancelled: "Cancelled",
	LabelReverted:  "Reverted",
}

func (l Labels) get(key string) string {
	if v, ok := l[key]; ok {
		return v
	}
	if v, ok := DefaultLabels[key]; ok {
		return v
	}
	return key
}

// Amounts is a base/quote/price triple in the request's orientation.
type Amounts struct {
	BaseCurrencyAmount  decimal.Decimal `json:"baseCurrencyAmount"`
	QuoteCurrencyAmount decimal.Decimal `json:"quoteCurrencyAmount"`
	Price               decimal.Decimal `json:"price"`
}

// Executed holds the amounts actually swapped, known once completed.
type Executed struct {
	Amounts
	PercentCheaperThanRequested decimal.Decimal `json:"percentCheaperThanRequested"`
}

// Projected is the view of a swap derived from its record. It is recomputed
// on every read and never persisted.
type Projected struct {
	UUID            string    `json:"uuid"`
	TimeStarted     time.Time `json:"timeStarted"`
	Status          Status    `json:"status"`
	StatusFormatted string    `json:"statusFormatted"`
	Progress        float64   `json:"progress"`
	OrderType       Side      `json:"orderType"`

	BaseCurrency        string          `json:"baseCurrency"`
	QuoteCurrency       string          `json:"quoteCurrency"`
	BaseCurrencyAmount  decimal.Decimal `json:"baseCurrencyAmount"`
	QuoteCurrencyAmount decimal.Decimal `json:"quoteCurrencyAmount"`
	Price               decimal.Decimal `json:"price"`

	Requested Amounts   `json:"requested"`
	Broadcast Amounts   `json:"broadcast"`
	Executed  *Executed `json:"executed"`

	Transactions []Transaction `json:"transactions"`
	SentFlags    []string      `json:"sentFlags,omitempty"`
	Error        *SwapError    `json:"error"`

	IsActive  bool     `json:"isActive"`
	IsPrivate bool     `json:"isPrivate"`
	IsHidden  bool     `json:"isHidden"`
	Privacy   *Privacy `json:"privacy,omitempty"`

	RequestID uint64 `json:"requestId,omitempty"`
	QuoteID   uint64 `json:"quoteId,omitempty"`
}

// Projector folds swap records into projections.
type Projector struct {
	// ProcessStarted is when this process started. Swaps still pending that
	// were started before it belong to a previous session and are never
	// resumed.
	ProcessStarted time.Time

	// Labels overrides display strings. Missing keys fall back to
	// DefaultLabels.
	Labels Labels
}

// NewProjector creates a projector for a process started at processStarted.
func NewProjector(processStarted time.Time) *Projector {
	return &Projector{ProcessStarted: processStarted, Labels: DefaultLabels}
}

// projection is the fold accumulator.
type projection struct {
	*Projected
	orphaned bool
}

// Project folds rec's messages, in arrival order, into a Projected view.
// Project does not modify rec and returns equal results for equal input.
func (p *Projector) Project(rec *Record) *Projected {
	out := &Projected{
		UUID:          rec.UUID,
		TimeStarted:   rec.TimeStarted,
		Status:        StatusPending,
		OrderType:     rec.Request.Side,
		BaseCurrency:  rec.Request.BaseCurrency,
		QuoteCurrency: rec.Request.QuoteCurrency,
		Transactions:  []Transaction{},
		IsPrivate:     rec.IsPrivate(),
		RequestID:     rec.RequestID,
		QuoteID:       rec.QuoteID,
	}

	// The daemon may report the pair inverted relative to the request.
	baseValue, relValue := rec.Response.BaseValue, rec.Response.RelValue
	if rec.Response.Base != "" && rec.Request.BaseCurrency != rec.Response.Base {
		baseValue, relValue = relValue, baseValue
	}
	out.Broadcast = Amounts{
		BaseCurrencyAmount:  baseValue,
		QuoteCurrencyAmount: relValue,
		Price:               ratio(relValue, baseValue),
	}
	out.Requested = Amounts{
		BaseCurrencyAmount:  rec.Request.Amount,
		QuoteCurrencyAmount: rec.Request.Total,
		Price:               rec.Request.Price,
	}
	out.BaseCurrencyAmount = out.Broadcast.BaseCurrencyAmount
	out.QuoteCurrencyAmount = out.Broadcast.QuoteCurrencyAmount
	out.Price = out.Broadcast.Price

	if rec.Privacy != nil {
		privacy := *rec.Privacy
		out.Privacy = &privacy
	}

	acc := &projection{Projected: out}
	for _, raw := range rec.Messages {
		msg, err := ParseMessage(raw)
		if err != nil {
			continue
		}
		acc.apply(msg)
	}

	if out.Status == StatusPending && p.ProcessStarted.After(rec.TimeStarted) {
		out.Status = StatusFailed
		out.Progress = 1
		out.Error = &SwapError{Message: "order was not resumed after restart"}
		acc.orphaned = true
	}

	p.label(acc)
	out.IsActive = !out.Status.IsTerminal()

	return out
}

func (acc *projection) apply(msg Message) {
	switch m := msg.(type) {
	case Connected:
		if acc.Status.Rank() < StatusMatched.Rank() {
			acc.Status = StatusMatched
			acc.Progress = stageProgress(0)
		}

	case Update:
		if acc.Status.IsTerminal() {
			return
		}
		acc.Status = StatusSwapping
		if !hasStage(acc.Transactions, m.Stage) {
			acc.Transactions = append(acc.Transactions, m.Transaction)
		}
		if progress := stageProgress(highestStage(acc.Transactions)); progress > acc.Progress {
			acc.Progress = progress
		}

	case TradeStatus:
		if !m.Finished() {
			return
		}
		switch acc.Status {
		case StatusCompleted:
			return
		case StatusFailed:
			// A reclaim after a failure refines the label only.
			if hasStage(m.TxChain, StageAliceReclaim) {
				acc.Transactions = cloneTransactions(m.TxChain)
				acc.SentFlags = append([]string(nil), m.SentFlags...)
			}
			return
		}
		acc.complete(m)

	case Failed:
		if acc.Status.IsTerminal() {
			return
		}
		if acc.Status != StatusPending && IsLateCancelCode(m.Error) {
			return
		}
		code := m.Error
		acc.Status = StatusFailed
		acc.Progress = 1
		acc.Error = &SwapError{Code: &code, Message: errorMessage(code)}

	case PrivateStatusUpdate:
		if acc.Privacy != nil {
			acc.Privacy.Status = m.Status
		}

	case Unrecognized:
	}
}

// complete folds a finished trade status. The chain in the message is
// authoritative and replaces whatever updates were seen before.
func (acc *projection) complete(m TradeStatus) {
	acc.Status = StatusCompleted
	acc.Progress = 1
	acc.Transactions = cloneTransactions(m.TxChain)
	acc.SentFlags = append([]string(nil), m.SentFlags...)

	payment := firstPayment(acc.Transactions)
	spend := lastSpend(acc.Transactions)
	if spend == nil {
		acc.Status = StatusFailed
		acc.Error = &SwapError{Message: "swap finished without a spend transaction"}
		return
	}
	if payment == nil {
		return
	}

	var base, quote decimal.Decimal
	if payment.Coin == acc.BaseCurrency {
		base, quote = payment.Amount, spend.Amount
	} else {
		base, quote = spend.Amount, payment.Amount
	}
	price := ratio(quote, base)

	requested := acc.Requested.Price
	percent := decimal.Zero
	if !requested.IsZero() && !price.IsZero() {
		percent = requested.Sub(price).Div(requested).Mul(decimal.NewFromInt(100)).Round(2)
		if acc.OrderType == SideSell {
			percent = percent.Neg()
		}
	}

	acc.Executed = &Executed{
		Amounts: Amounts{
			BaseCurrencyAmount:  base,
			QuoteCurrencyAmount: quote,
			Price:               price,
		},
		PercentCheaperThanRequested: percent,
	}
	acc.BaseCurrencyAmount = base
	acc.QuoteCurrencyAmount = quote
	acc.Price = price
}

func (p *Projector) label(acc *projection) {
	labels := p.Labels
	if labels == nil {
		labels = DefaultLabels
	}

	switch acc.Status {
	case StatusSwapping:
		acc.StatusFormatted = fmt.Sprintf("%s %d/%d", labels.get(LabelSwapping), highestStage(acc.Transactions), len(Stages))
	case StatusFailed:
		kind := failureKind(acc)
		acc.StatusFormatted = labels.get(kind)
		acc.IsHidden = kind == LabelUnmatched
	default:
		acc.StatusFormatted = labels.get(string(acc.Status))
	}
}

func failureKind(acc *projection) string {
	if hasStage(acc.Transactions, StageAliceReclaim) {
		return LabelReverted
	}
	if acc.orphaned {
		return LabelCancelled
	}
	if acc.Error != nil && acc.Error.Code != nil {
		switch *acc.Error.Code {
		case ErrCodeUnmatched:
			return LabelUnmatched
		case ErrCodeCancelled:
			return LabelCancelled
		}
	}
	return LabelFailed
}

func errorMessage(code int) string {
	switch code {
	case ErrCodeUnmatched:
		return "order was not matched"
	case ErrCodeCancelled:
		return "order was cancelled"
	case ErrCodeForced:
		return forcedFailureMessage
	default:
		return fmt.Sprintf("swap failed with error code %d", code)
	}
}

// stageProgress maps the highest stage reached to a progress fraction. The
// match itself counts as the first step.
func stageProgress(stage int) float64 {
	return float64(stage+1) / float64(len(Stages)+1)
}

// highestStage returns the highest canonical stage index among txs. Stages
// outside the canonical list count as 0.
func highestStage(txs []Transaction) int {
	highest := 0
	for _, tx := range txs {
		if i := StageIndex(tx.Stage); i > highest {
			highest = i
		}
	}
	return highest
}

func hasStage(txs []Transaction, stage string) bool {
	for _, tx := range txs {
		if tx.Stage == stage {
			return true
		}
	}
	return false
}

func firstPayment(txs []Transaction) *Transaction {
	for i := range txs {
		switch txs[i].Stage {
		case StageAlicePayment, StageBobPayment:
			return &txs[i]
		}
	}
	return nil
}

func lastSpend(txs []Transaction) *Transaction {
	for i := len(txs) - 1; i >= 0; i-- {
		switch txs[i].Stage {
		case StageAliceSpend, StageBobSpend, StageAliceClaim:
			return &txs[i]
		}
	}
	return nil
}

func cloneTransactions(txs []Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out
}

func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Round(8)
}
