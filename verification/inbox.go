// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"time"

	"github.com/bureau-foundation/matrix-commander/messaging"
)

// Poller is a session that buffers to-device events from its sync
// rounds. *commander.Session satisfies it.
type Poller interface {
	// DrainToDevice returns and forgets buffered events.
	DrainToDevice() []messaging.ToDeviceEvent

	// Poll runs one long-polling sync round of at most wait and
	// returns every buffered event.
	Poll(ctx context.Context, wait time.Duration) ([]messaging.ToDeviceEvent, error)
}

// SyncInbox is an Inbox backed by sync rounds. Events received before
// the handshake started are delivered first. It is not safe for
// concurrent use.
type SyncInbox struct {
	poller Poller
	wait   time.Duration
	queue  []messaging.ToDeviceEvent
}

// NewSyncInbox returns an inbox that long-polls for up to wait per
// sync round.
func NewSyncInbox(poller Poller, wait time.Duration) *SyncInbox {
	return &SyncInbox{poller: poller, wait: wait}
}

// Next returns the next to-device event, polling as needed.
func (i *SyncInbox) Next(ctx context.Context) (messaging.ToDeviceEvent, error) {
	for {
		if len(i.queue) > 0 {
			event := i.queue[0]
			i.queue = i.queue[1:]
			return event, nil
		}
		if err := ctx.Err(); err != nil {
			return messaging.ToDeviceEvent{}, err
		}
		if buffered := i.poller.DrainToDevice(); len(buffered) > 0 {
			i.queue = buffered
			continue
		}
		events, err := i.poller.Poll(ctx, i.wait)
		if err != nil {
			return messaging.ToDeviceEvent{}, err
		}
		i.queue = events
	}
}
