package domain

import (
	"encoding/json"
	"strconv"
)

// EventType classifies an inbound provider webhook event.
type EventType string

const (
	EventTypePayment        EventType = "payment"
	EventTypeFailedPayment  EventType = "failed_payment"
	EventTypeCancellation   EventType = "cancellation"
	EventTypeTransfer       EventType = "transfer"
	EventTypeFailedTransfer EventType = "failed_transfer"
	EventTypeUnknown        EventType = "unknown"
)

// ParseEventType maps a wire value to an EventType, folding anything
// unrecognized into EventTypeUnknown.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventTypePayment, EventTypeFailedPayment, EventTypeCancellation,
		EventTypeTransfer, EventTypeFailedTransfer:
		return EventType(s)
	}
	return EventTypeUnknown
}

// IsTransferClass reports whether the type describes an outbound transfer,
// which is the class of events subject to idempotency dedup.
func (t EventType) IsTransferClass() bool {
	return t == EventTypeTransfer || t == EventTypeFailedTransfer
}

// FlexString is a string that also accepts a JSON number on the wire.
// Providers send ids like chain_id as either 137 or "137".
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int64 parses the value as a base-10 integer, returning 0 when empty or
// unparseable.
func (f FlexString) Int64() int64 {
	v, _ := strconv.ParseInt(string(f), 10, 64)
	return v
}

// TransactionDetails is the nested on-chain detail block of an event.
type TransactionDetails struct {
	Hash          string     `json:"hash"`
	TransactionID string     `json:"transaction_id"`
	ChainID       FlexString `json:"chain_id"`
	Network       string     `json:"network"`
	ExplorerURL   string     `json:"explorer_url"`
	Currency      string     `json:"currency"`
	WalletAddress string     `json:"wallet_address"`
}

// EventUser carries payer identity delivered with an event.
type EventUser struct {
	Email        string     `json:"email"`
	SubscriberID FlexString `json:"subscriber_id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
}

// AgreementMessage is the signed recurring-payment authorization. The raw
// payload is preserved verbatim alongside the two fields this service reads.
type AgreementMessage struct {
	Raw            json.RawMessage
	SigningAddress string
	PermitID       string
}

func (m *AgreementMessage) UnmarshalJSON(b []byte) error {
	m.Raw = append(m.Raw[:0], b...)
	var aux struct {
		SigningAddress string     `json:"signing_address"`
		PermitID       FlexString `json:"permitId"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.SigningAddress = aux.SigningAddress
	m.PermitID = string(aux.PermitID)
	return nil
}

// EventAgreement is the nested agreement block of an event.
type EventAgreement struct {
	ID      string            `json:"id"`
	Message *AgreementMessage `json:"message"`
}

// EventMetadata is the free-form metadata sub-object the provider echoes
// back from session creation. It may embed the originating order id.
type EventMetadata struct {
	OrderID    FlexString `json:"order_id"`
	WooOrderID FlexString `json:"woocommerce_order_id"`
}

// EmbeddedOrderID returns the order id carried in the metadata block, trying
// both key spellings, or 0 when absent.
func (m *EventMetadata) EmbeddedOrderID() int64 {
	if m == nil {
		return 0
	}
	if id := m.OrderID.Int64(); id != 0 {
		return id
	}
	return m.WooOrderID.Int64()
}

// Event is a decoded provider webhook delivery.
type Event struct {
	Type               EventType
	OriginID           string
	MerchantID         string
	AgreementID        string
	TransferID         string
	PaymentID          string
	WalletID           string
	Hash               string
	Network            string
	Status             string
	FailureReason      string
	ErrorMessage       string
	AmountInUSD        float64
	TransactionDetails *TransactionDetails
	User               *EventUser
	Agreement          *EventAgreement
	Metadata           *EventMetadata
	Secret             string // shared secret when delivered in the body
}

// eventWire mirrors the provider payload including its alternate key forms.
type eventWire struct {
	Type               string              `json:"type"`
	OriginID           string              `json:"origin_id"`
	MerchantID         string              `json:"merchant_id"`
	AgreementID        string              `json:"agreement_id"`
	TransferID         string              `json:"transfer_id"`
	TransferIDAlt      string              `json:"transferId"`
	PaymentID          string              `json:"payment_id"`
	WalletID           string              `json:"wallet_id"`
	WalletIDAlt        string              `json:"walletId"`
	Hash               string              `json:"hash"`
	Network            string              `json:"network"`
	Status             string              `json:"status"`
	FailureReason      string              `json:"failure_reason"`
	ErrorMessage       string              `json:"error"`
	AmountInUSD        *float64            `json:"amount_in_usd"`
	Amount             *float64            `json:"amount"`
	TransactionDetails *TransactionDetails `json:"transaction_details"`
	User               *EventUser          `json:"user"`
	Agreement          *EventAgreement     `json:"agreement"`
	Metadata           *EventMetadata      `json:"metadata"`
	Secret             string              `json:"secret"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	e.Type = ParseEventType(w.Type)
	e.OriginID = w.OriginID
	e.MerchantID = w.MerchantID
	e.AgreementID = w.AgreementID
	e.TransferID = firstNonEmpty(w.TransferID, w.TransferIDAlt)
	e.PaymentID = w.PaymentID
	e.WalletID = firstNonEmpty(w.WalletID, w.WalletIDAlt)
	e.Hash = w.Hash
	e.Network = w.Network
	e.Status = w.Status
	e.FailureReason = w.FailureReason
	e.ErrorMessage = w.ErrorMessage
	if w.AmountInUSD != nil {
		e.AmountInUSD = *w.AmountInUSD
	} else if w.Amount != nil {
		e.AmountInUSD = *w.Amount
	}
	e.TransactionDetails = w.TransactionDetails
	e.User = w.User
	e.Agreement = w.Agreement
	e.Metadata = w.Metadata
	e.Secret = w.Secret

	// Agreement id may only be present on the nested block.
	if e.AgreementID == "" && e.Agreement != nil {
		e.AgreementID = e.Agreement.ID
	}
	return nil
}

// FailureText resolves the human-readable failure description, falling back
// through the alternate fields the provider uses.
func (e *Event) FailureText() string {
	if s := firstNonEmpty(e.FailureReason, e.ErrorMessage, e.Status); s != "" {
		return s
	}
	return "Unknown reason"
}

// TxHash returns the transaction hash, preferring the nested detail block.
func (e *Event) TxHash() string {
	if e.TransactionDetails != nil && e.TransactionDetails.Hash != "" {
		return e.TransactionDetails.Hash
	}
	return e.Hash
}

// TxNetwork returns the network name, preferring the nested detail block.
func (e *Event) TxNetwork() string {
	if e.TransactionDetails != nil && e.TransactionDetails.Network != "" {
		return e.TransactionDetails.Network
	}
	return e.Network
}

// HasCorrelation reports whether the event carries any handle that could
// resolve it to an order. Events with none are dropped at the door.
func (e *Event) HasCorrelation() bool {
	if e.OriginID != "" || e.AgreementID != "" {
		return true
	}
	if e.Type.IsTransferClass() && (e.TransferID != "" || e.PaymentID != "") {
		return true
	}
	return e.Metadata.EmbeddedOrderID() != 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
