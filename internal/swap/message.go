package swap

import (
	"encoding/json"
	"fmt"
)

// Method names used by the daemon's push channel.
const (
	MethodConnected     = "connected"
	MethodUpdate        = "update"
	MethodTradeStatus   = "tradestatus"
	MethodFailed        = "failed"
	MethodPrivateStatus = "set_private_order_status"
)

// TradeStatusFinished is the tradestatus value of a completion report.
const TradeStatusFinished = "finished"

const forcedFailureMessage = "swap marked as failed locally"

// Envelope carries the routing fields every push message may have.
type Envelope struct {
	Method    string `json:"method"`
	UUID      string `json:"uuid,omitempty"`
	RequestID uint64 `json:"requestid,omitempty"`
	QuoteID   uint64 `json:"quoteid,omitempty"`
	QueueID   uint64 `json:"queueid,omitempty"`
}

// Header returns the envelope itself.
func (e Envelope) Header() Envelope { return e }

// Message is a decoded daemon push message. The set of implementations is
// closed: Connected, Update, TradeStatus, Failed, PrivateStatusUpdate and
// Unrecognized.
type Message interface {
	Header() Envelope
	message()
}

// Connected reports that the order was matched with a counterparty.
type Connected struct {
	Envelope
}

// Update reports a swap-chain transaction for one stage.
type Update struct {
	Envelope
	Stage  string `json:"name"`
	Transaction
}

// TradeStatus is the daemon's swap status report. Only the finished status
// affects the projection; it carries the authoritative transaction chain.
type TradeStatus struct {
	Envelope
	Status    string        `json:"status"`
	TxChain   []Transaction `json:"txChain"`
	SentFlags []string      `json:"sentflags"`
}

// Finished reports whether this is the terminal completion report.
func (m TradeStatus) Finished() bool {
	return m.Status == TradeStatusFinished
}

// Failed is a terminal failure report.
type Failed struct {
	Envelope
	Error int `json:"error"`
}

// PrivateStatusUpdate updates the privacy side-channel status only.
type PrivateStatusUpdate struct {
	Envelope
	Status string `json:"status"`
}

// Unrecognized keeps the envelope of a method this package does not know.
type Unrecognized struct {
	Envelope
}

func (Connected) message()           {}
func (Update) message()              {}
func (TradeStatus) message()         {}
func (Failed) message()              {}
func (PrivateStatusUpdate) message() {}
func (Unrecognized) message()        {}

// ParseHeader decodes only the envelope of a raw push message.
func ParseHeader(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return env, nil
}

// ParseMessage decodes a raw push message into its concrete type.
func ParseMessage(raw []byte) (Message, error) {
	env, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if env.Method == "" {
		return nil, ErrMissingMethod
	}

	switch env.Method {
	case MethodConnected:
		return Connected{Envelope: env}, nil

	case MethodUpdate:
		var m Update
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s message: %w", env.Method, err)
		}
		m.Transaction.Stage = m.Stage
		return m, nil

	case MethodTradeStatus:
		var m TradeStatus
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s message: %w", env.Method, err)
		}
		return m, nil

	case MethodFailed:
		var m Failed
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s message: %w", env.Method, err)
		}
		return m, nil

	case MethodPrivateStatus:
		var m PrivateStatusUpdate
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s message: %w", env.Method, err)
		}
		return m, nil

	default:
		return Unrecognized{Envelope: env}, nil
	}
}

// NewForcedFailure builds the local failure message appended when a swap
// has to be resolved without hearing back from the daemon.
func NewForcedFailure(uuid string) json.RawMessage {
	raw, _ := json.Marshal(struct {
		Envelope
		Error   int    `json:"error"`
		Message string `json:"message"`
	}{
		Envelope: Envelope{Method: MethodFailed, UUID: uuid},
		Error:    ErrCodeForced,
		Message:  forcedFailureMessage,
	})
	return raw
}
