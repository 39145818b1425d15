// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"context"
	"time"

	"github.com/bureau-foundation/matrix-commander/verification"
)

// maxVerifyPoll caps the server-side wait of each sync round while a
// verification is waiting for the other device.
const maxVerifyPoll = 30 * time.Second

// Verify waits for a verification request from another device of this
// user and runs the emoji handshake, asking operator to accept the
// request and compare the emoji. Each step must complete within the
// session timeout. The session stays usable whatever the outcome.
func (s *Session) Verify(ctx context.Context, operator verification.Operator) error {
	if err := s.established(); err != nil {
		return err
	}
	wait := min(s.config.Timeout, maxVerifyPoll)
	controller := &verification.Controller{
		Transport: s.matrix,
		Inbox:     verification.NewSyncInbox(s, wait),
		Store:     s.store,
		Operator:  operator,
		Clock:     s.config.Clock,
		Timeout:   s.config.Timeout,
		Logger:    s.logger,
	}
	return controller.Run(ctx)
}
