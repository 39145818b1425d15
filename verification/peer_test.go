// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

var (
	testUser      = ref.MustParseUserID("@alice:example.org")
	testDevice    = ref.MustParseDeviceID("LAPTOP")
	testPeerUser  = ref.MustParseUserID("@alice:example.org")
	testPeerPhone = "PHONE"
	testNow       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// testPeer plays the device that starts a verification: it sends the
// request and the start, and computes its own view of the emoji and
// MACs from the messages our side produces.
type testPeer struct {
	t             *testing.T
	userID        ref.UserID
	deviceID      string
	transactionID string
	signing       ed25519.PrivateKey
	ephemeral     curveKey

	startRaw   json.RawMessage
	commitment string
	secret     []byte
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ephemeral, err := newCurveKey(rand.Reader)
	if err != nil {
		t.Fatalf("newCurveKey: %v", err)
	}
	return &testPeer{
		t:             t,
		userID:        testPeerUser,
		deviceID:      testPeerPhone,
		transactionID: "txn-1",
		signing:       signing,
		ephemeral:     ephemeral,
	}
}

func (p *testPeer) ed25519() string {
	return encodeKey(p.signing.Public().(ed25519.PublicKey))
}

func (p *testPeer) event(eventType string, content any) messaging.ToDeviceEvent {
	p.t.Helper()
	data, err := json.Marshal(content)
	if err != nil {
		p.t.Fatalf("marshal %s: %v", eventType, err)
	}
	return messaging.ToDeviceEvent{Type: eventType, Sender: p.userID, Content: data}
}

// receive parses a to-device event as our side would on arrival.
func receive(t *testing.T, event messaging.ToDeviceEvent) Event {
	t.Helper()
	parsed, ok := ParseEvent(event, testNow)
	if !ok {
		t.Fatalf("ParseEvent(%s) reported not a verification event", event.Type)
	}
	return parsed
}

func (p *testPeer) request(timestamp time.Time) messaging.ToDeviceEvent {
	return p.event(TypeRequest, RequestContent{
		FromDevice:    p.deviceID,
		Methods:       []string{MethodSAS},
		Timestamp:     timestamp.UnixMilli(),
		TransactionID: p.transactionID,
	})
}

func (p *testPeer) startContent() StartContent {
	return StartContent{
		FromDevice:                 p.deviceID,
		Method:                     MethodSAS,
		KeyAgreementProtocols:      []string{KeyAgreementProtocol},
		Hashes:                     []string{HashMethod},
		MessageAuthenticationCodes: []string{"hkdf-hmac-sha256", MACMethod},
		ShortAuthenticationString:  []string{"decimal", SASMethodEmoji},
		TransactionID:              p.transactionID,
	}
}

func (p *testPeer) start() messaging.ToDeviceEvent {
	event := p.event(TypeStart, p.startContent())
	p.startRaw = event.Content
	return event
}

// accepted records the commitment from our accept message.
func (p *testPeer) accepted(content AcceptContent) {
	p.t.Helper()
	if content.TransactionID != p.transactionID {
		p.t.Fatalf("accept transaction = %q, want %q", content.TransactionID, p.transactionID)
	}
	if content.MessageAuthenticationCode != MACMethod {
		p.t.Fatalf("accept MAC method = %q, want %q", content.MessageAuthenticationCode, MACMethod)
	}
	p.commitment = content.Commitment
}

func (p *testPeer) key() messaging.ToDeviceEvent {
	return p.event(TypeKey, KeyContent{TransactionID: p.transactionID, Key: p.ephemeral.public})
}

// receivedKey checks our key against the commitment and derives the
// peer's view of the emoji.
func (p *testPeer) receivedKey(content KeyContent) []Emoji {
	p.t.Helper()
	canonical, err := canonicalJSON(p.startRaw)
	if err != nil {
		p.t.Fatalf("canonicalJSON: %v", err)
	}
	if got := commitment(content.Key, canonical); got != p.commitment {
		p.t.Fatalf("commitment mismatch: accept carried %q, key hashes to %q", p.commitment, got)
	}
	secret, err := p.ephemeral.sharedSecret(content.Key)
	if err != nil {
		p.t.Fatalf("sharedSecret: %v", err)
	}
	p.secret = secret
	data, err := sasBytes(secret,
		sasParty{user: p.userID.String(), device: p.deviceID, key: p.ephemeral.public},
		sasParty{user: testUser.String(), device: testDevice.String(), key: content.Key},
		p.transactionID,
	)
	if err != nil {
		p.t.Fatalf("sasBytes: %v", err)
	}
	return emojiFromBytes(data)
}

func (p *testPeer) outgoingMAC() macCalculator {
	return macCalculator{
		secret:         p.secret,
		senderUser:     p.userID.String(),
		senderDevice:   p.deviceID,
		receiverUser:   testUser.String(),
		receiverDevice: testDevice.String(),
		transactionID:  p.transactionID,
	}
}

func (p *testPeer) mac(signingKey string) messaging.ToDeviceEvent {
	p.t.Helper()
	content, err := p.outgoingMAC().macContent(map[string]string{"ed25519:" + p.deviceID: signingKey})
	if err != nil {
		p.t.Fatalf("macContent: %v", err)
	}
	return p.event(TypeMAC, content)
}

// checkMAC verifies our MAC message against our published key.
func (p *testPeer) checkMAC(content MACContent, ourKey string) {
	p.t.Helper()
	incoming := macCalculator{
		secret:         p.secret,
		senderUser:     testUser.String(),
		senderDevice:   testDevice.String(),
		receiverUser:   p.userID.String(),
		receiverDevice: p.deviceID,
		transactionID:  p.transactionID,
	}
	keyID := "ed25519:" + testDevice.String()
	if err := incoming.verify(content, map[string]string{keyID: ourKey}, keyID); err != nil {
		p.t.Fatalf("our MAC does not verify: %v", err)
	}
}

func (p *testPeer) done() messaging.ToDeviceEvent {
	return p.event(TypeDone, DoneContent{TransactionID: p.transactionID})
}

func (p *testPeer) cancel(code string) messaging.ToDeviceEvent {
	return p.event(TypeCancel, CancelContent{TransactionID: p.transactionID, Code: code, Reason: "test"})
}

// testIdentity returns our device identity and its signing key.
func testIdentity(t *testing.T) (Identity, ed25519.PrivateKey) {
	t.Helper()
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return Identity{
		UserID:   testUser,
		DeviceID: testDevice,
		Ed25519:  encodeKey(signing.Public().(ed25519.PublicKey)),
	}, signing
}

// single asserts exactly one outbound message of the given type and
// returns its content.
func single[T any](t *testing.T, outbound []Outbound, eventType string) T {
	t.Helper()
	if len(outbound) != 1 {
		t.Fatalf("got %d outbound messages, want 1 %s: %+v", len(outbound), eventType, outbound)
	}
	if outbound[0].Type != eventType {
		t.Fatalf("outbound type = %q, want %q", outbound[0].Type, eventType)
	}
	content, ok := outbound[0].Content.(T)
	if !ok {
		t.Fatalf("outbound content is %T", outbound[0].Content)
	}
	return content
}
