// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"crypto/rand"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
)

// Requests older than maxRequestAge or further than maxRequestSkew in
// the future are ignored.
const (
	maxRequestAge  = 10 * time.Minute
	maxRequestSkew = 5 * time.Minute
)

// State is a verification handshake state.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateKeysExchanged
	StateEmojiPresented
	StateConfirmed
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateKeysExchanged:
		return "keys-exchanged"
	case StateEmojiPresented:
		return "emoji-presented"
	case StateConfirmed:
		return "confirmed"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further event changes the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Identity is this device as the handshake sees it.
type Identity struct {
	UserID   ref.UserID
	DeviceID ref.DeviceID

	// Ed25519 is this device's published signing key, unpadded base64.
	Ed25519 string
}

// Request describes the other party of a handshake.
type Request struct {
	UserID        ref.UserID
	DeviceID      string
	TransactionID string

	// Ed25519 is the other device's signing key once it has been
	// looked up and checked; empty before.
	Ed25519 string

	// Legacy is set when the other side sent a bare start instead of
	// a request.
	Legacy bool
}

// Machine is one verification attempt. It is a value: Apply returns
// the next machine and never modifies the receiver.
type Machine struct {
	identity  Identity
	ephemeral curveKey
	state     State
	progress  int

	request  *Request
	start    *StartReceived
	accepted bool

	secret []byte
	emoji  []Emoji

	heldMAC     *MACContent
	macVerified bool
	remoteDone  bool

	cancel *CancelError
}

// NewMachine returns an idle machine for identity. The ephemeral key
// is drawn from random (crypto/rand when nil) up front so that Apply
// needs no randomness.
func NewMachine(identity Identity, random io.Reader) (Machine, error) {
	if identity.UserID.IsZero() || identity.DeviceID.IsZero() || identity.Ed25519 == "" {
		return Machine{}, fmt.Errorf("verification: identity needs a user, a device and a signing key")
	}
	if random == nil {
		random = rand.Reader
	}
	ephemeral, err := newCurveKey(random)
	if err != nil {
		return Machine{}, fmt.Errorf("verification: %w", err)
	}
	return Machine{identity: identity, ephemeral: ephemeral}, nil
}

// State returns the current state.
func (m Machine) State() State { return m.state }

// Progress counts the events that changed the machine. It lets a
// driver tell a real step from an ignored event.
func (m Machine) Progress() int { return m.progress }

// Pending returns the request awaiting the operator's decision.
func (m Machine) Pending() (Request, bool) {
	if m.state != StateIdle || m.request == nil {
		return Request{}, false
	}
	return *m.request, true
}

// Peer returns the other party once a request has been received.
func (m Machine) Peer() (Request, bool) {
	if m.request == nil {
		return Request{}, false
	}
	return *m.request, true
}

// Emoji returns the short authentication string once keys have been
// exchanged.
func (m Machine) Emoji() []Emoji {
	return slices.Clone(m.emoji)
}

// Err returns the reason for an aborted attempt, nil otherwise.
func (m Machine) Err() error {
	if m.cancel == nil {
		return nil
	}
	return m.cancel
}

// Apply feeds one event to the machine. Events for other transactions
// or other users leave it unchanged, as do local events that make no
// sense in the current state.
func (m Machine) Apply(event Event) (Machine, []Outbound) {
	if m.state.Terminal() {
		return m, nil
	}
	next, outbound, changed := m.apply(event)
	if changed {
		next.progress++
	}
	return next, outbound
}

func (m Machine) apply(event Event) (Machine, []Outbound, bool) {
	switch e := event.(type) {
	case Timeout:
		return m.abort(CodeTimeout, "timed out waiting for the other device")
	case Stop:
		return m.abort(CodeUser, "cancelled by the user")
	case inbound:
		if !m.concerns(e) {
			return m, nil, false
		}
		switch received := e.(type) {
		case CancelReceived:
			m.state = StateAborted
			m.cancel = &CancelError{Code: received.Content.Code, Reason: received.Content.Reason, Remote: true}
			return m, nil, true
		case UnexpectedReceived:
			if received.Malformed {
				return m.abort(CodeInvalidMessage, "could not decode "+received.Type)
			}
			return m.unexpected(received.Type)
		}
		return m.applyInbound(e)
	}
	return m.applyLocal(event)
}

// concerns reports whether an inbound event belongs to this attempt.
// Before a request has been seen, only a request or a bare start can
// begin one.
func (m Machine) concerns(event inbound) bool {
	if m.request == nil {
		switch event.(type) {
		case RequestReceived, StartReceived:
			return event.transaction() != ""
		}
		return false
	}
	return event.transaction() == m.request.TransactionID && event.from() == m.request.UserID
}

func (m Machine) applyInbound(event inbound) (Machine, []Outbound, bool) {
	switch m.state {
	case StateIdle:
		if m.request != nil {
			if _, duplicate := event.(RequestReceived); duplicate {
				return m, nil, false
			}
			return m.unexpected(typeOf(event))
		}
		switch e := event.(type) {
		case RequestReceived:
			return m.receiveRequest(e)
		case StartReceived:
			if e.Content.FromDevice == "" || m.isOwnDevice(e.Sender, e.Content.FromDevice) {
				return m, nil, false
			}
			start := e
			m.start = &start
			m.request = &Request{
				UserID:        e.Sender,
				DeviceID:      e.Content.FromDevice,
				TransactionID: e.Content.TransactionID,
				Legacy:        true,
			}
			return m, nil, true
		}

	case StateRequested:
		if !m.accepted {
			if e, ok := event.(StartReceived); ok {
				return m.receiveStart(e)
			}
			return m.unexpected(typeOf(event))
		}
		if e, ok := event.(KeyReceived); ok {
			return m.receiveKey(e)
		}

	case StateKeysExchanged, StateEmojiPresented:
		if e, ok := event.(MACReceived); ok && m.heldMAC == nil {
			held := e.Content
			m.heldMAC = &held
			return m, nil, true
		}

	case StateConfirmed:
		switch e := event.(type) {
		case MACReceived:
			if !m.macVerified {
				return m.checkMAC(e.Content)
			}
		case DoneReceived:
			if !m.remoteDone {
				m.remoteDone = true
				if m.macVerified {
					m.state = StateDone
				}
				return m, nil, true
			}
		}
	}
	return m.unexpected(typeOf(event))
}

func (m Machine) receiveRequest(e RequestReceived) (Machine, []Outbound, bool) {
	content := e.Content
	if content.FromDevice == "" || !slices.Contains(content.Methods, MethodSAS) {
		return m, nil, false
	}
	if m.isOwnDevice(e.Sender, content.FromDevice) {
		return m, nil, false
	}
	age := e.Now.Sub(time.UnixMilli(content.Timestamp))
	if age > maxRequestAge || age < -maxRequestSkew {
		return m, nil, false
	}
	m.request = &Request{
		UserID:        e.Sender,
		DeviceID:      content.FromDevice,
		TransactionID: content.TransactionID,
	}
	return m, nil, true
}

func (m Machine) receiveStart(e StartReceived) (Machine, []Outbound, bool) {
	content := e.Content
	if content.Method != MethodSAS ||
		!slices.Contains(content.KeyAgreementProtocols, KeyAgreementProtocol) ||
		!slices.Contains(content.Hashes, HashMethod) ||
		!slices.Contains(content.MessageAuthenticationCodes, MACMethod) ||
		!slices.Contains(content.ShortAuthenticationString, SASMethodEmoji) {
		return m.abort(CodeUnknownMethod, "only m.sas.v1 with emoji and hkdf-hmac-sha256.v2 is supported")
	}
	if content.FromDevice != m.request.DeviceID {
		return m.abort(CodeInvalidMessage, "start came from a different device than the request")
	}
	canonical, err := canonicalJSON(e.Raw)
	if err != nil {
		return m.abort(CodeInvalidMessage, "start message is not valid JSON")
	}
	m.accepted = true
	m.state = StateRequested
	return m, []Outbound{{
		Type: TypeAccept,
		Content: AcceptContent{
			TransactionID:             m.request.TransactionID,
			Method:                    MethodSAS,
			KeyAgreementProtocol:      KeyAgreementProtocol,
			Hash:                      HashMethod,
			MessageAuthenticationCode: MACMethod,
			ShortAuthenticationString: []string{SASMethodEmoji},
			Commitment:                commitment(m.ephemeral.public, canonical),
		},
	}}, true
}

func (m Machine) receiveKey(e KeyReceived) (Machine, []Outbound, bool) {
	secret, err := m.ephemeral.sharedSecret(e.Content.Key)
	if err != nil {
		return m.abort(CodeInvalidMessage, "invalid key: "+err.Error())
	}
	data, err := sasBytes(secret,
		sasParty{user: m.request.UserID.String(), device: m.request.DeviceID, key: e.Content.Key},
		sasParty{user: m.identity.UserID.String(), device: m.identity.DeviceID.String(), key: m.ephemeral.public},
		m.request.TransactionID,
	)
	if err != nil {
		return m.abort(CodeInvalidMessage, err.Error())
	}
	m.secret = secret
	m.emoji = emojiFromBytes(data)
	m.state = StateKeysExchanged
	return m, []Outbound{{
		Type:    TypeKey,
		Content: KeyContent{TransactionID: m.request.TransactionID, Key: m.ephemeral.public},
	}}, true
}

// checkMAC verifies the other device's MAC message and sends done.
func (m Machine) checkMAC(content MACContent) (Machine, []Outbound, bool) {
	keyID := "ed25519:" + m.request.DeviceID
	known := map[string]string{keyID: m.request.Ed25519}
	if err := m.theirMAC().verify(content, known, keyID); err != nil {
		return m.abort(CodeKeyMismatch, err.Error())
	}
	m.macVerified = true
	m.heldMAC = nil
	if m.remoteDone {
		m.state = StateDone
	}
	return m, []Outbound{{
		Type:    TypeDone,
		Content: DoneContent{TransactionID: m.request.TransactionID},
	}}, true
}

func (m Machine) applyLocal(event Event) (Machine, []Outbound, bool) {
	switch e := event.(type) {
	case AcceptRequest:
		if m.state != StateIdle || m.request == nil {
			return m, nil, false
		}
		if e.TheirEd25519 == "" {
			return m.abort(CodeKeyMismatch, "the other device has no verified signing key")
		}
		request := *m.request
		request.Ed25519 = e.TheirEd25519
		m.request = &request
		m.state = StateRequested
		if request.Legacy {
			return m.receiveStart(*m.start)
		}
		return m, []Outbound{{
			Type: TypeReady,
			Content: ReadyContent{
				FromDevice:    m.identity.DeviceID.String(),
				Methods:       []string{MethodSAS},
				TransactionID: request.TransactionID,
			},
		}}, true

	case DeclineRequest:
		if m.state == StateIdle && m.request != nil {
			return m.abort(CodeUser, "declined")
		}

	case PresentEmoji:
		if m.state == StateKeysExchanged {
			m.state = StateEmojiPresented
			return m, nil, true
		}

	case ConfirmMatch:
		if m.state != StateEmojiPresented {
			break
		}
		keyID := "ed25519:" + m.identity.DeviceID.String()
		content, err := m.ourMAC().macContent(map[string]string{keyID: m.identity.Ed25519})
		if err != nil {
			return m.abort(CodeInvalidMessage, err.Error())
		}
		m.state = StateConfirmed
		outbound := []Outbound{{Type: TypeMAC, Content: content}}
		if m.heldMAC != nil {
			next, more, _ := m.checkMAC(*m.heldMAC)
			return next, append(outbound, more...), true
		}
		return m, outbound, true

	case RejectMatch:
		if m.state == StateEmojiPresented {
			return m.abort(CodeMismatchedSAS, "the emoji did not match")
		}
	}
	return m, nil, false
}

// abort moves to Aborted and, once the other side knows about this
// attempt, tells it why.
func (m Machine) abort(code, reason string) (Machine, []Outbound, bool) {
	m.state = StateAborted
	m.cancel = &CancelError{Code: code, Reason: reason}
	if m.request == nil {
		return m, nil, true
	}
	return m, []Outbound{{
		Type:    TypeCancel,
		Content: CancelContent{TransactionID: m.request.TransactionID, Code: code, Reason: reason},
	}}, true
}

func (m Machine) unexpected(eventType string) (Machine, []Outbound, bool) {
	return m.abort(CodeUnexpectedMessage, fmt.Sprintf("unexpected %s in state %s", eventType, m.state))
}

func (m Machine) isOwnDevice(user ref.UserID, device string) bool {
	return user == m.identity.UserID && device == m.identity.DeviceID.String()
}

func (m Machine) ourMAC() macCalculator {
	return macCalculator{
		secret:         m.secret,
		senderUser:     m.identity.UserID.String(),
		senderDevice:   m.identity.DeviceID.String(),
		receiverUser:   m.request.UserID.String(),
		receiverDevice: m.request.DeviceID,
		transactionID:  m.request.TransactionID,
	}
}

func (m Machine) theirMAC() macCalculator {
	return macCalculator{
		secret:         m.secret,
		senderUser:     m.request.UserID.String(),
		senderDevice:   m.request.DeviceID,
		receiverUser:   m.identity.UserID.String(),
		receiverDevice: m.identity.DeviceID.String(),
		transactionID:  m.request.TransactionID,
	}
}

func typeOf(event inbound) string {
	switch e := event.(type) {
	case RequestReceived:
		return TypeRequest
	case StartReceived:
		return TypeStart
	case KeyReceived:
		return TypeKey
	case MACReceived:
		return TypeMAC
	case DoneReceived:
		return TypeDone
	case CancelReceived:
		return TypeCancel
	case UnexpectedReceived:
		return e.Type
	default:
		return fmt.Sprintf("%T", event)
	}
}
