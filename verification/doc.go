// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package verification runs interactive emoji SAS verification of this
// device against another device (m.sas.v1 over to-device messages).
//
// The handshake is an explicit state machine. [Machine] holds one
// verification attempt and [Machine.Apply] is a pure function from
// (machine, event) to (machine, outbound messages): inbound protocol
// events, operator decisions and step timeouts are all [Event] values,
// so a handshake can be replayed deterministically from a synthetic
// event sequence. The states are
//
//	Idle → Requested → KeysExchanged → EmojiPresented → Confirmed → Done
//
// with Aborted reachable from every non-terminal state. A remote
// request never leaves Idle until the operator accepts it.
//
// [Controller] drives a machine against a live session: it publishes
// this device's keys if needed, feeds to-device events from an [Inbox]
// into the machine, asks an [Operator] to accept requests and compare
// emoji, sends the machine's outbound messages, and bounds every wait
// with a step timeout. On success the other device is recorded as
// trusted in the local store.
//
// An aborted attempt reports a [*CancelError]. It matches exactly one
// of [ErrVerificationRejected] (a human declined or saw a mismatch),
// [ErrVerificationTimeout] or [ErrVerificationFailed] (a protocol
// fault).
package verification
