// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// To-device event types of the handshake.
const (
	TypeRequest = "m.key.verification.request"
	TypeReady   = "m.key.verification.ready"
	TypeStart   = "m.key.verification.start"
	TypeAccept  = "m.key.verification.accept"
	TypeKey     = "m.key.verification.key"
	TypeMAC     = "m.key.verification.mac"
	TypeDone    = "m.key.verification.done"
	TypeCancel  = "m.key.verification.cancel"
)

// The only method combination this client offers.
const (
	MethodSAS            = "m.sas.v1"
	KeyAgreementProtocol = "curve25519-hkdf-sha256"
	HashMethod           = "sha256"
	MACMethod            = "hkdf-hmac-sha256.v2"
	SASMethodEmoji       = "emoji"
)

// RequestContent is the content of m.key.verification.request.
type RequestContent struct {
	FromDevice    string   `json:"from_device"`
	Methods       []string `json:"methods"`
	Timestamp     int64    `json:"timestamp"`
	TransactionID string   `json:"transaction_id"`
}

// ReadyContent is the content of m.key.verification.ready.
type ReadyContent struct {
	FromDevice    string   `json:"from_device"`
	Methods       []string `json:"methods"`
	TransactionID string   `json:"transaction_id"`
}

// StartContent is the content of m.key.verification.start.
type StartContent struct {
	FromDevice                 string   `json:"from_device"`
	Method                     string   `json:"method"`
	KeyAgreementProtocols      []string `json:"key_agreement_protocols"`
	Hashes                     []string `json:"hashes"`
	MessageAuthenticationCodes []string `json:"message_authentication_codes"`
	ShortAuthenticationString  []string `json:"short_authentication_string"`
	TransactionID              string   `json:"transaction_id"`
}

// AcceptContent is the content of m.key.verification.accept.
type AcceptContent struct {
	TransactionID             string   `json:"transaction_id"`
	Method                    string   `json:"method"`
	KeyAgreementProtocol      string   `json:"key_agreement_protocol"`
	Hash                      string   `json:"hash"`
	MessageAuthenticationCode string   `json:"message_authentication_code"`
	ShortAuthenticationString []string `json:"short_authentication_string"`
	Commitment                string   `json:"commitment"`
}

// KeyContent is the content of m.key.verification.key.
type KeyContent struct {
	TransactionID string `json:"transaction_id"`
	Key           string `json:"key"`
}

// MACContent is the content of m.key.verification.mac.
type MACContent struct {
	TransactionID string            `json:"transaction_id"`
	MAC           map[string]string `json:"mac"`
	Keys          string            `json:"keys"`
}

// DoneContent is the content of m.key.verification.done.
type DoneContent struct {
	TransactionID string `json:"transaction_id"`
}

// CancelContent is the content of m.key.verification.cancel.
type CancelContent struct {
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
	Reason        string `json:"reason"`
}

// Event is an input to Machine.Apply.
type Event interface {
	isEvent()
}

// inbound is an event that arrived from another device.
type inbound interface {
	Event
	from() ref.UserID
	transaction() string
}

// RequestReceived is an m.key.verification.request. Now is the local
// receive time, used to reject stale requests.
type RequestReceived struct {
	Sender  ref.UserID
	Content RequestContent
	Now     time.Time
}

// StartReceived is an m.key.verification.start. Raw is the content as
// received, which the commitment hashes.
type StartReceived struct {
	Sender  ref.UserID
	Content StartContent
	Raw     json.RawMessage
}

// KeyReceived is an m.key.verification.key.
type KeyReceived struct {
	Sender  ref.UserID
	Content KeyContent
}

// MACReceived is an m.key.verification.mac.
type MACReceived struct {
	Sender  ref.UserID
	Content MACContent
}

// DoneReceived is an m.key.verification.done.
type DoneReceived struct {
	Sender  ref.UserID
	Content DoneContent
}

// CancelReceived is an m.key.verification.cancel.
type CancelReceived struct {
	Sender  ref.UserID
	Content CancelContent
}

// UnexpectedReceived is a handshake message this side never expects
// (accept, ready) or one whose content could not be decoded.
type UnexpectedReceived struct {
	Sender        ref.UserID
	Type          string
	TransactionID string
	Malformed     bool
}

// AcceptRequest is the operator accepting the pending request.
// TheirEd25519 is the other device's verified signing key.
type AcceptRequest struct {
	TheirEd25519 string
}

// DeclineRequest is the operator declining the pending request.
type DeclineRequest struct{}

// PresentEmoji marks the emoji as shown to the operator.
type PresentEmoji struct{}

// ConfirmMatch is the operator confirming the emoji match.
type ConfirmMatch struct{}

// RejectMatch is the operator reporting an emoji mismatch.
type RejectMatch struct{}

// Timeout is a step deadline expiring.
type Timeout struct{}

// Stop is the local user abandoning the attempt.
type Stop struct{}

func (RequestReceived) isEvent()    {}
func (StartReceived) isEvent()      {}
func (KeyReceived) isEvent()        {}
func (MACReceived) isEvent()        {}
func (DoneReceived) isEvent()       {}
func (CancelReceived) isEvent()     {}
func (UnexpectedReceived) isEvent() {}
func (AcceptRequest) isEvent()      {}
func (DeclineRequest) isEvent()     {}
func (PresentEmoji) isEvent()       {}
func (ConfirmMatch) isEvent()       {}
func (RejectMatch) isEvent()        {}
func (Timeout) isEvent()            {}
func (Stop) isEvent()               {}

func (e RequestReceived) from() ref.UserID    { return e.Sender }
func (e StartReceived) from() ref.UserID      { return e.Sender }
func (e KeyReceived) from() ref.UserID        { return e.Sender }
func (e MACReceived) from() ref.UserID        { return e.Sender }
func (e DoneReceived) from() ref.UserID       { return e.Sender }
func (e CancelReceived) from() ref.UserID     { return e.Sender }
func (e UnexpectedReceived) from() ref.UserID { return e.Sender }

func (e RequestReceived) transaction() string    { return e.Content.TransactionID }
func (e StartReceived) transaction() string      { return e.Content.TransactionID }
func (e KeyReceived) transaction() string        { return e.Content.TransactionID }
func (e MACReceived) transaction() string        { return e.Content.TransactionID }
func (e DoneReceived) transaction() string       { return e.Content.TransactionID }
func (e CancelReceived) transaction() string     { return e.Content.TransactionID }
func (e UnexpectedReceived) transaction() string { return e.TransactionID }

// Outbound is a to-device message the machine wants sent to the other
// device.
type Outbound struct {
	Type    string
	Content any
}

// ParseEvent converts a to-device event into a machine event. It
// reports false for events that are not part of a verification.
func ParseEvent(event messaging.ToDeviceEvent, now time.Time) (Event, bool) {
	if !strings.HasPrefix(event.Type, "m.key.verification.") {
		return nil, false
	}
	malformed := func() (Event, bool) {
		var probe struct {
			TransactionID string `json:"transaction_id"`
		}
		json.Unmarshal(event.Content, &probe)
		return UnexpectedReceived{Sender: event.Sender, Type: event.Type, TransactionID: probe.TransactionID, Malformed: true}, true
	}

	switch event.Type {
	case TypeRequest:
		var content RequestContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return RequestReceived{Sender: event.Sender, Content: content, Now: now}, true
	case TypeStart:
		var content StartContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return StartReceived{Sender: event.Sender, Content: content, Raw: event.Content}, true
	case TypeKey:
		var content KeyContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return KeyReceived{Sender: event.Sender, Content: content}, true
	case TypeMAC:
		var content MACContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return MACReceived{Sender: event.Sender, Content: content}, true
	case TypeDone:
		var content DoneContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return DoneReceived{Sender: event.Sender, Content: content}, true
	case TypeCancel:
		var content CancelContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			return malformed()
		}
		return CancelReceived{Sender: event.Sender, Content: content}, true
	default:
		var probe struct {
			TransactionID string `json:"transaction_id"`
		}
		if err := json.Unmarshal(event.Content, &probe); err != nil {
			return malformed()
		}
		return UnexpectedReceived{Sender: event.Sender, Type: event.Type, TransactionID: probe.TransactionID}, true
	}
}
