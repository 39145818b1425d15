// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// Store keys written by sync rounds.
const (
	storeKeyNextBatch   = "sync/next_batch"
	storeKeyJoinedRooms = "rooms/joined"
)

// syncFilter keeps a sync round small: membership and to-device events
// are what this client reads, so timelines are cut to one event and
// presence and account data are dropped.
const syncFilter = `{"room":{"timeline":{"limit":1},"state":{"lazy_load_members":true},"account_data":{"types":[]}},"presence":{"types":[]},"account_data":{"types":[]}}`

// Sync runs the synchronization policy once. SyncOff returns nil
// without touching the network, even for a nil session. SyncFull
// issues exactly one /sync request bounded by timeout; exceeding it is
// ErrSyncTimeout.
func Sync(ctx context.Context, session *Session, timeout time.Duration, mode SyncMode) error {
	switch mode {
	case SyncOff:
		return nil
	case SyncFull:
	default:
		return fmt.Errorf("commander: unknown sync mode %v", mode)
	}
	if err := session.established(); err != nil {
		return err
	}

	_, err := session.syncRound(ctx, timeout, 0)
	return err
}

// Sync runs one round of the given policy with the session's timeout.
func (s *Session) Sync(ctx context.Context, mode SyncMode) error {
	if s == nil {
		return Sync(ctx, nil, 0, mode)
	}
	return Sync(ctx, s, s.config.Timeout, mode)
}

// Poll performs one long-polling sync round, waiting up to wait for
// new events, and returns every buffered to-device event including
// those from earlier rounds.
func (s *Session) Poll(ctx context.Context, wait time.Duration) ([]messaging.ToDeviceEvent, error) {
	if err := s.established(); err != nil {
		return nil, err
	}
	if _, err := s.syncRound(ctx, s.config.Timeout+wait, wait); err != nil {
		return nil, err
	}
	return s.DrainToDevice(), nil
}

// DrainToDevice returns and forgets the to-device events received by
// earlier sync rounds.
func (s *Session) DrainToDevice() []messaging.ToDeviceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.toDevice
	s.toDevice = nil
	return events
}

// syncRound performs one /sync bounded by timeout and applies the
// response. wait is the server-side long-poll duration.
func (s *Session) syncRound(ctx context.Context, timeout, wait time.Duration) (*messaging.SyncResponse, error) {
	since, err := s.nextBatch(ctx)
	if err != nil {
		return nil, err
	}

	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := s.config.Clock.Now()
	response, err := s.matrix.Sync(roundCtx, messaging.SyncOptions{
		Since:      since,
		Timeout:    int(wait / time.Millisecond),
		SetTimeout: true,
		Filter:     syncFilter,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrSyncTimeout, timeout, err)
		}
		return nil, fmt.Errorf("sync: %w", err)
	}

	if err := s.apply(ctx, response); err != nil {
		return nil, err
	}
	s.logger.Debug("sync round complete",
		"since", since,
		"next_batch", response.NextBatch,
		"joined", len(response.Rooms.Join),
		"to_device", len(response.ToDevice.Events),
		"duration", s.config.Clock.Now().Sub(started),
	)
	return response, nil
}

func (s *Session) nextBatch(ctx context.Context) (string, error) {
	var since string
	err := s.store.Get(ctx, storeKeyNextBatch, &since)
	if err != nil && !errors.Is(err, cryptostore.ErrNotFound) {
		return "", fmt.Errorf("reading sync token: %w", err)
	}
	return since, nil
}

// apply records the batch token and joined rooms, and buffers
// to-device events for the verification inbox.
func (s *Session) apply(ctx context.Context, response *messaging.SyncResponse) error {
	joined, err := s.storedJoinedRooms(ctx)
	if err != nil {
		return err
	}
	for roomID := range response.Rooms.Join {
		if !slices.Contains(joined, roomID.String()) {
			joined = append(joined, roomID.String())
		}
	}
	for roomID := range response.Rooms.Leave {
		joined = slices.DeleteFunc(joined, func(id string) bool { return id == roomID.String() })
	}
	slices.Sort(joined)
	if err := s.store.Put(ctx, storeKeyJoinedRooms, joined); err != nil {
		return fmt.Errorf("recording joined rooms: %w", err)
	}
	if response.NextBatch != "" {
		if err := s.store.Put(ctx, storeKeyNextBatch, response.NextBatch); err != nil {
			return fmt.Errorf("recording sync token: %w", err)
		}
	}

	if len(response.ToDevice.Events) > 0 {
		s.mu.Lock()
		s.toDevice = append(s.toDevice, response.ToDevice.Events...)
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) storedJoinedRooms(ctx context.Context) ([]string, error) {
	var joined []string
	err := s.store.Get(ctx, storeKeyJoinedRooms, &joined)
	if err != nil && !errors.Is(err, cryptostore.ErrNotFound) {
		return nil, fmt.Errorf("reading joined rooms: %w", err)
	}
	return joined, nil
}
