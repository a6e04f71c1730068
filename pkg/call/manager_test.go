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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkline/callkit/pkg/errors"
	"github.com/talkline/callkit/pkg/signal"
)

func TestSecondOutgoingCallIsBusy(t *testing.T) {
	hub := signal.NewLocalHub()
	alice := newTestPeer(t, hub, "alice", "a1")

	out, err := alice.mgr.StartCall(context.Background(), "bob", MediaAudio)
	require.NoError(t, err)

	_, err = alice.mgr.StartCall(context.Background(), "carol", MediaAudio)
	require.ErrorIs(t, err, errors.ErrCallBusy)

	out.Cancel()
	alice.waitEnded(t)

	// after the first call ended a new one is allowed again
	_, err = alice.mgr.StartCall(context.Background(), "carol", MediaAudio)
	require.NoError(t, err)
}

func TestInviteWhileBusyIgnored(t *testing.T) {
	hub := signal.NewLocalHub()
	alice := newTestPeer(t, hub, "alice", "a1")

	_, err := alice.mgr.StartCall(context.Background(), "bob", MediaAudio)
	require.NoError(t, err)

	carol := hub.For("carol", "c1")
	require.NoError(t, carol.Send(context.Background(), "alice", &signal.Envelope{
		Kind:   signal.KindInvite,
		RoomID: "carol-room",
		Invite: &signal.InvitePayload{
			InviterID:  "carol",
			InviteeIDs: []string{"alice"},
			MediaType:  "audio",
			Timeout:    30,
		},
	}))

	time.Sleep(100 * time.Millisecond)
	select {
	case <-alice.incoming:
		t.Fatal("busy client must not surface a second call")
	default:
	}
	_, ok := alice.mgr.ActiveCall("carol-room")
	require.False(t, ok)
}

func TestDuplicateInviteIgnored(t *testing.T) {
	hub := signal.NewLocalHub()
	bob := newTestPeer(t, hub, "bob", "b1")

	alice := hub.For("alice", "a1")
	env := &signal.Envelope{
		Kind:   signal.KindInvite,
		RoomID: "room-1",
		Invite: &signal.InvitePayload{
			InviterID:  "alice",
			InviteeIDs: []string{"bob"},
			MediaType:  "video",
			Timeout:    30,
		},
	}
	require.NoError(t, alice.Send(context.Background(), "bob", env))
	require.NoError(t, alice.Send(context.Background(), "bob", env))

	in := bob.waitIncoming(t)
	require.Equal(t, "room-1", in.RoomID())
	require.Equal(t, MediaVideo, in.Invitation().MediaType)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-bob.incoming:
		t.Fatal("duplicate invite must not create a second session")
	default:
	}
	in.Reject()
}

func TestStopHangsUpActiveCall(t *testing.T) {
	hub := signal.NewLocalHub()
	alice := newTestPeer(t, hub, "alice", "a1")
	bob := newTestPeer(t, hub, "bob", "b1")

	out, err := alice.mgr.StartCall(context.Background(), "bob", MediaAudio)
	require.NoError(t, err)
	in := bob.waitIncoming(t)
	in.Accept()
	waitPhase(t, out, PhaseConnected)
	waitPhase(t, in, PhaseConnected)

	alice.mgr.Stop()
	require.Equal(t, ReasonShutdown, alice.waitEnded(t))
	require.Equal(t, PhaseEnded, out.Phase())

	// the remote side sees a plain hangup and the caller still emits a record
	require.Equal(t, ReasonHungup, bob.waitEnded(t))
	require.Eventually(t, func() bool { return len(alice.records.list()) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, TerminalHangup, alice.records.list()[0].TerminalState)
}

func TestReceivedRecordStored(t *testing.T) {
	hub := signal.NewLocalHub()
	bob := newTestPeer(t, hub, "bob", "b1")

	alice := hub.For("alice", "a1")
	require.NoError(t, alice.Send(context.Background(), "bob", &signal.Envelope{
		Kind:   signal.KindRecord,
		RoomID: "room-9",
		Record: &signal.RecordPayload{
			MediaType:       "audio",
			TerminalState:   "hangup",
			DurationSeconds: 38,
			InviterID:       "alice",
		},
	}))

	require.Eventually(t, func() bool { return len(bob.records.list()) == 1 }, waitFor, 5*time.Millisecond)
	rec := bob.records.list()[0]
	require.Equal(t, "room-9", rec.RoomID)
	require.Equal(t, TerminalHangup, rec.TerminalState)
	require.Equal(t, 38*time.Second, rec.Duration)
	require.Equal(t, "alice", rec.InviterID)
}
