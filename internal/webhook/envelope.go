package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidEnvelope = errors.New("invalid webhook envelope")

// EventKind is the closed set of notification topics this service reads.
type EventKind string

const (
	KindPayment           EventKind = "payment"
	KindPreapproval       EventKind = "subscription_preapproval"
	KindAuthorizedPayment EventKind = "subscription_authorized_payment"
	KindUnknown           EventKind = "unknown"
)

func ParseKind(s string) EventKind {
	switch k := EventKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPayment, KindPreapproval, KindAuthorizedPayment:
		return k
	default:
		return KindUnknown
	}
}

// looseString accepts JSON strings and numbers.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*l = looseString(n.String())
	return nil
}

// Envelope is the notification body posted by the gateway.
type Envelope struct {
	ID     looseString `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID looseString `json:"id"`
	} `json:"data"`
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, errors.Join(ErrInvalidEnvelope, err)
	}
	if env.Type == "" || env.DataID() == "" {
		return Envelope{}, ErrInvalidEnvelope
	}
	return env, nil
}

func (e Envelope) Kind() EventKind { return ParseKind(e.Type) }

func (e Envelope) DataID() string { return strings.TrimSpace(string(e.Data.ID)) }

// EventID is the ledger key. Notifications without an id fall back to a key
// derived from topic, action and resource.
func (e Envelope) EventID() string {
	if id := strings.TrimSpace(string(e.ID)); id != "" {
		return id
	}
	return e.Type + ":" + e.Action + ":" + e.DataID()
}

// PeekDataID reads data.id from a body that may not be a valid envelope.
func PeekDataID(body []byte) string {
	var probe struct {
		Data struct {
			ID looseString `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(string(probe.Data.ID))
}
