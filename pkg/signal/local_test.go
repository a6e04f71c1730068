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

package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, sub Subscription) *Envelope {
	t.Helper()
	select {
	case env := <-sub.Ch():
		return env
	case <-time.After(time.Second):
		t.Fatal("no signal delivered")
		return nil
	}
}

func TestLocalHubSendStampsSender(t *testing.T) {
	hub := NewLocalHub()
	ctx := context.Background()

	bob, err := hub.For("bob", "b1").Subscribe(ctx)
	require.NoError(t, err)
	defer bob.Close()

	alice := hub.For("alice", "a1")
	require.NoError(t, alice.Send(ctx, "bob", &Envelope{Kind: KindInvite, RoomID: "r1"}))

	env := recvOne(t, bob)
	require.Equal(t, KindInvite, env.Kind)
	require.Equal(t, "r1", env.RoomID)
	require.Equal(t, "alice", env.From)
	require.Equal(t, "a1", env.Origin)
}

func TestLocalHubBroadcastReachesAllDevices(t *testing.T) {
	hub := NewLocalHub()
	ctx := context.Background()

	phone := hub.For("bob", "b-phone")
	phoneSub, err := phone.Subscribe(ctx)
	require.NoError(t, err)
	defer phoneSub.Close()

	deskSub, err := hub.For("bob", "b-desk").Subscribe(ctx)
	require.NoError(t, err)
	defer deskSub.Close()

	require.NoError(t, phone.Broadcast(ctx, &Envelope{
		Kind:   KindSync,
		RoomID: "r1",
		Sync:   &SyncPayload{Status: SyncAccept},
	}))

	// both devices see it, including the sender; Origin tells them apart
	for _, sub := range []Subscription{phoneSub, deskSub} {
		env := recvOne(t, sub)
		require.Equal(t, KindSync, env.Kind)
		require.Equal(t, "bob", env.From)
		require.Equal(t, "b-phone", env.Origin)
		require.Equal(t, SyncAccept, env.Sync.Status)
	}
}

func TestLocalHubNoCrossUserDelivery(t *testing.T) {
	hub := NewLocalHub()
	ctx := context.Background()

	bobSub, err := hub.For("bob", "b1").Subscribe(ctx)
	require.NoError(t, err)
	defer bobSub.Close()
	carolSub, err := hub.For("carol", "c1").Subscribe(ctx)
	require.NoError(t, err)
	defer carolSub.Close()

	require.NoError(t, hub.For("alice", "a1").Send(ctx, "bob", &Envelope{Kind: KindHangup, RoomID: "r1"}))

	recvOne(t, bobSub)
	select {
	case env := <-carolSub.Ch():
		t.Fatalf("unexpected delivery to carol: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalHubClosedSubscriptionDropsSignals(t *testing.T) {
	hub := NewLocalHub()
	ctx := context.Background()

	sub, err := hub.For("bob", "b1").Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	// delivery after close must not panic or block
	require.NoError(t, hub.For("alice", "a1").Send(ctx, "bob", &Envelope{Kind: KindCancel, RoomID: "r1"}))
}
