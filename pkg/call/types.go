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

package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/talkline/callkit/pkg/signal"
)

type MediaType string

const (
	MediaAudio = MediaType("audio")
	MediaVideo = MediaType("video")
)

type Role int

const (
	Caller Role = iota
	Callee
)

func (r Role) String() string {
	if r == Caller {
		return "caller"
	}
	return "callee"
}

// Phase is the session lifecycle state. Ended is terminal; any phase can
// reach it directly on cancellation, rejection, timeout or remote disconnect.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInviting
	PhaseWaiting // caller, invite sent, ring timer armed
	PhaseRinging // callee, invite received, awaiting user action
	PhaseConnecting
	PhaseConnected
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInviting:
		return "inviting"
	case PhaseWaiting:
		return "waiting"
	case PhaseRinging:
		return "ringing"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

type TerminalState string

const (
	TerminalReject = TerminalState("reject")
	TerminalCancel = TerminalState("cancel")
	TerminalHangup = TerminalState("hangup")
)

// EndReason tells the UI collaborator why a session ended.
type EndReason string

const (
	ReasonRejected     = EndReason("rejected")
	ReasonCanceled     = EndReason("canceled")
	ReasonTimeout      = EndReason("timeout")
	ReasonHungup       = EndReason("hungup")
	ReasonRemoteLeft   = EndReason("remote-left")
	ReasonOtherDevice  = EndReason("answered-elsewhere")
	ReasonMediaFailed  = EndReason("media-failed")
	ReasonShutdown     = EndReason("shutdown")
	ReasonSignalFailed = EndReason("signal-failed")
)

// Invitation describes one requested call. Immutable once created; it lives
// exactly as long as the session for its RoomID.
type Invitation struct {
	RoomID     string
	InviterID  string
	InviteeIDs []string // exactly one entry supported
	MediaType  MediaType
	Timeout    time.Duration
}

func NewInvitation(inviterID, inviteeID string, media MediaType, timeout time.Duration) *Invitation {
	return &Invitation{
		RoomID:     uuid.NewString(),
		InviterID:  inviterID,
		InviteeIDs: []string{inviteeID},
		MediaType:  media,
		Timeout:    timeout,
	}
}

// Invitee returns the single supported invitee.
func (inv *Invitation) Invitee() string {
	if len(inv.InviteeIDs) == 0 {
		return ""
	}
	return inv.InviteeIDs[0]
}

func (inv *Invitation) payload() *signal.InvitePayload {
	return &signal.InvitePayload{
		InviterID:  inv.InviterID,
		InviteeIDs: inv.InviteeIDs,
		MediaType:  string(inv.MediaType),
		Timeout:    int(inv.Timeout / time.Second),
	}
}

func invitationFrom(roomID string, p *signal.InvitePayload) *Invitation {
	timeout := time.Duration(p.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Invitation{
		RoomID:     roomID,
		InviterID:  p.InviterID,
		InviteeIDs: p.InviteeIDs,
		MediaType:  MediaType(p.MediaType),
		Timeout:    timeout,
	}
}

// Record is the terminal summary of a call attempt. It is sent to the other
// party as a signal; the transport is the durable store, local history only
// caches it.
type Record struct {
	RoomID        string
	MediaType     MediaType
	TerminalState TerminalState
	Duration      time.Duration
	InviterID     string
	EndedAt       time.Time
}

func (r *Record) payload() *signal.RecordPayload {
	return &signal.RecordPayload{
		MediaType:       string(r.MediaType),
		TerminalState:   string(r.TerminalState),
		DurationSeconds: int(r.Duration / time.Second),
		InviterID:       r.InviterID,
	}
}

// RecordFrom rebuilds a Record from its wire form.
func RecordFrom(roomID string, p *signal.RecordPayload) *Record {
	return &Record{
		RoomID:        roomID,
		MediaType:     MediaType(p.MediaType),
		TerminalState: TerminalState(p.TerminalState),
		Duration:      time.Duration(p.DurationSeconds) * time.Second,
		InviterID:     p.InviterID,
		EndedAt:       time.Now(),
	}
}
