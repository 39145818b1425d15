// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/clock"
	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// DefaultStepTimeout applies when Controller.Timeout is zero.
const DefaultStepTimeout = 60 * time.Second

// Transport is the part of a Matrix session the handshake uses.
// messaging.Session satisfies it.
type Transport interface {
	UserID() ref.UserID
	DeviceID() ref.DeviceID
	SendToDevice(ctx context.Context, eventType string, messages map[ref.UserID]map[string]any) error
	UploadKeys(ctx context.Context, keys messaging.DeviceKeys) (*messaging.KeysUploadResponse, error)
	QueryKeys(ctx context.Context, devices map[ref.UserID][]string) (*messaging.KeysQueryResponse, error)
}

// KeyStore persists device keys and trust records.
// *cryptostore.Store satisfies it.
type KeyStore interface {
	Get(ctx context.Context, key string, out any) error
	Put(ctx context.Context, key string, value any) error
}

// Inbox yields to-device events addressed to this device. Next blocks
// until an event arrives or ctx is done.
type Inbox interface {
	Next(ctx context.Context) (messaging.ToDeviceEvent, error)
}

// Operator is the human in the loop. Both methods must return promptly
// once ctx is done.
type Operator interface {
	// AcceptRequest asks whether to verify with the requesting device.
	AcceptRequest(ctx context.Context, request Request) (bool, error)

	// ConfirmEmoji asks whether the other device shows the same emoji.
	ConfirmEmoji(ctx context.Context, emoji []Emoji) (bool, error)
}

// Controller runs one verification attempt against a live session.
type Controller struct {
	Transport Transport
	Inbox     Inbox
	Store     KeyStore
	Operator  Operator

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Timeout bounds every wait: for the request, for each protocol
	// message, and for each operator answer.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Random defaults to crypto/rand.
	Random io.Reader
}

// step is one bounded wait. Its context is cancelled when the step's
// deadline passes, and expired records that this was the cause.
type step struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *clock.Timer
	expired atomic.Bool
}

func (c *Controller) newStep(parent context.Context) *step {
	s := &step{}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.timer = c.Clock.AfterFunc(c.Timeout, func() {
		s.expired.Store(true)
		s.cancel()
	})
	return s
}

func (s *step) stop() {
	s.timer.Stop()
	s.cancel()
}

// Run waits for a verification request and drives the handshake to
// the end. It returns nil only when the other device is verified and
// recorded as trusted. An aborted attempt returns a *CancelError; the
// session stays usable either way.
func (c *Controller) Run(ctx context.Context) error {
	if c.Transport == nil || c.Inbox == nil || c.Store == nil || c.Operator == nil {
		return fmt.Errorf("verification: Transport, Inbox, Store and Operator are required")
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultStepTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Random == nil {
		c.Random = rand.Reader
	}

	identity, err := EnsureDeviceKeys(ctx, c.Transport, c.Store, c.Random, c.Logger)
	if err != nil {
		return fmt.Errorf("verification: %w", err)
	}
	machine, err := NewMachine(identity, c.Random)
	if err != nil {
		return err
	}
	c.Logger.Info("waiting for a verification request",
		"user_id", identity.UserID,
		"device_id", identity.DeviceID,
		"timeout", c.Timeout,
	)

	var current *step
	defer func() {
		if current != nil {
			current.stop()
		}
	}()
	stepProgress := -1

	for {
		switch machine.State() {
		case StateDone:
			return c.recordTrust(ctx, machine)
		case StateAborted:
			c.Logger.Warn("verification aborted", "error", machine.Err())
			return machine.Err()
		}

		// A new deadline starts only when the machine moved; ignored
		// events do not extend the current one.
		if machine.Progress() != stepProgress {
			if current != nil {
				current.stop()
			}
			current = c.newStep(ctx)
			stepProgress = machine.Progress()
		}

		event, err := c.nextEvent(current.ctx, machine)
		var failure error
		if err != nil {
			switch {
			case current.expired.Load():
				event = Timeout{}
			case ctx.Err() != nil:
				event = Stop{}
				failure = fmt.Errorf("verification interrupted: %w", ctx.Err())
			default:
				event = Stop{}
				failure = err
			}
		}

		before := machine.State()
		var outbound []Outbound
		machine, outbound = machine.Apply(event)
		if machine.State() != before {
			c.Logger.Debug("verification state changed", "from", before, "to", machine.State())
		}
		if err := c.send(ctx, machine, outbound); err != nil {
			return err
		}
		if failure != nil {
			return failure
		}
	}
}

// nextEvent produces the machine's next input: an operator decision
// when one is due, otherwise the next verification event from the
// inbox.
func (c *Controller) nextEvent(ctx context.Context, machine Machine) (Event, error) {
	if request, ok := machine.Pending(); ok {
		theirKey, err := c.lookupDevice(ctx, request.UserID, request.DeviceID)
		if err != nil {
			return nil, err
		}
		if theirKey == "" {
			// Unverifiable keys abort the attempt without asking.
			return AcceptRequest{}, nil
		}
		request.Ed25519 = theirKey
		accepted, err := c.Operator.AcceptRequest(ctx, request)
		if err != nil {
			return nil, err
		}
		if !accepted {
			return DeclineRequest{}, nil
		}
		return AcceptRequest{TheirEd25519: theirKey}, nil
	}

	switch machine.State() {
	case StateKeysExchanged:
		return PresentEmoji{}, nil
	case StateEmojiPresented:
		match, err := c.Operator.ConfirmEmoji(ctx, machine.Emoji())
		if err != nil {
			return nil, err
		}
		if !match {
			return RejectMatch{}, nil
		}
		return ConfirmMatch{}, nil
	}

	for {
		received, err := c.Inbox.Next(ctx)
		if err != nil {
			return nil, err
		}
		if event, ok := ParseEvent(received, c.Clock.Now()); ok {
			return event, nil
		}
	}
}

// lookupDevice fetches and checks the other device's keys. It returns
// "" without error when the keys are missing or fail verification.
func (c *Controller) lookupDevice(ctx context.Context, userID ref.UserID, deviceID string) (string, error) {
	response, err := c.Transport.QueryKeys(ctx, map[ref.UserID][]string{userID: {deviceID}})
	if err != nil {
		return "", fmt.Errorf("verification: querying keys of %s: %w", userID, err)
	}
	keys, ok := response.DeviceKeys[userID][deviceID]
	if !ok {
		c.Logger.Warn("requesting device has no published keys", "user_id", userID, "device_id", deviceID)
		return "", nil
	}
	ed25519Key, err := VerifyDeviceKeys(keys, userID, deviceID)
	if err != nil {
		c.Logger.Warn("requesting device keys rejected", "user_id", userID, "device_id", deviceID, "error", err)
		return "", nil
	}
	return ed25519Key, nil
}

// send delivers outbound messages to the other device. A cancel that
// cannot be delivered is logged; the attempt is over regardless.
func (c *Controller) send(ctx context.Context, machine Machine, outbound []Outbound) error {
	peer, ok := machine.Peer()
	if !ok {
		return nil
	}
	for _, message := range outbound {
		sendCtx := ctx
		if message.Type == TypeCancel {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.Timeout)
			defer cancel()
		}
		err := c.Transport.SendToDevice(sendCtx, message.Type, map[ref.UserID]map[string]any{
			peer.UserID: {peer.DeviceID: message.Content},
		})
		if err == nil {
			continue
		}
		if message.Type == TypeCancel {
			c.Logger.Warn("could not deliver verification cancel", "error", err)
			continue
		}
		return fmt.Errorf("verification: sending %s: %w", message.Type, err)
	}
	return nil
}

func (c *Controller) recordTrust(ctx context.Context, machine Machine) error {
	peer, _ := machine.Peer()
	record := TrustRecord{
		UserID:     peer.UserID.String(),
		DeviceID:   peer.DeviceID,
		Ed25519:    peer.Ed25519,
		VerifiedAt: c.Clock.Now().UnixMilli(),
	}
	if err := c.Store.Put(ctx, TrustKey(peer.UserID, peer.DeviceID), record); err != nil {
		return fmt.Errorf("verification: recording trust: %w", err)
	}
	c.Logger.Info("device verified", "user_id", peer.UserID, "device_id", peer.DeviceID)
	return nil
}
