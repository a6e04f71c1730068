// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signal defines the call-coordination signals carried over the
// messaging transport, and the Bus they travel on. Signals are application
// payloads, distinct from chat content; the transport itself owns delivery
// and persistence.
package signal

import "context"

type Kind string

const (
	KindInvite Kind = "calling_invite"
	KindAccept Kind = "calling_accept"
	KindReject Kind = "calling_reject"
	KindCancel Kind = "calling_cancel"
	KindHangup Kind = "calling_hungup"
	// KindSync keeps the same user's other logged-in devices consistent:
	// it is delivered through Broadcast, never Send.
	KindSync Kind = "calling_sync"
	// KindRecord carries the terminal call summary to the other party.
	KindRecord Kind = "calling_record"
)

const (
	SyncAccept = "accept"
	SyncReject = "reject"
)

// Envelope is the wire form of one signal. Exactly one of the payload
// pointers is set, matching Kind; plain lifecycle signals (accept, reject,
// cancel, hangup) carry no payload beyond the header.
type Envelope struct {
	Kind   Kind   `json:"kind"`
	RoomID string `json:"room_id"`
	From   string `json:"from"`   // sender user ID
	Origin string `json:"origin"` // sender device tag

	Invite *InvitePayload `json:"invite,omitempty"`
	Sync   *SyncPayload   `json:"sync,omitempty"`
	Record *RecordPayload `json:"record,omitempty"`
}

// InvitePayload is the immutable invitation. InviteeIDs supports exactly one
// entry today; it is a list on the wire so group calls do not need a new kind.
type InvitePayload struct {
	InviterID  string   `json:"inviter_id"`
	InviteeIDs []string `json:"invitee_ids"`
	MediaType  string   `json:"media_type"` // audio | video
	Timeout    int      `json:"timeout"`    // seconds
}

type SyncPayload struct {
	Status string `json:"status"` // accept | reject
}

type RecordPayload struct {
	MediaType       string `json:"media_type"`
	TerminalState   string `json:"terminal_state"` // reject | cancel | hangup
	DurationSeconds int    `json:"duration_seconds"`
	InviterID       string `json:"inviter_id"`
}

// Bus is the signal channel bound to one local identity and device.
// Send is fire and forget: an error means the local publish failed, not that
// the remote device saw the signal.
type Bus interface {
	// Send delivers the envelope to every device of the target user.
	Send(ctx context.Context, toUser string, env *Envelope) error
	// Broadcast delivers the envelope to the local user's own devices,
	// including this one. Receivers filter on Origin.
	Broadcast(ctx context.Context, env *Envelope) error
	// Subscribe starts delivery of signals addressed to the local user.
	// Arrival order is per sender only; no cross-sender ordering.
	Subscribe(ctx context.Context) (Subscription, error)
}

type Subscription interface {
	Ch() <-chan *Envelope
	Close() error
}
