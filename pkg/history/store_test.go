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

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkline/callkit/pkg/call"
)

func TestStoreSaveAndList(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	recs := []*call.Record{
		{
			RoomID:        "r1",
			MediaType:     call.MediaAudio,
			TerminalState: call.TerminalCancel,
			Duration:      0,
			InviterID:     "alice",
			EndedAt:       base,
		},
		{
			RoomID:        "r2",
			MediaType:     call.MediaVideo,
			TerminalState: call.TerminalHangup,
			Duration:      38 * time.Second,
			InviterID:     "alice",
			EndedAt:       base.Add(10 * time.Minute),
		},
	}
	require.NoError(t, store.SaveRecord(ctx, recs[0], call.DirectionEmitted))
	require.NoError(t, store.SaveRecord(ctx, recs[1], call.DirectionReceived))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	require.Equal(t, "r2", entries[0].Record.RoomID)
	require.Equal(t, call.DirectionReceived, entries[0].Direction)
	require.Equal(t, call.TerminalHangup, entries[0].Record.TerminalState)
	require.Equal(t, 38*time.Second, entries[0].Record.Duration)

	require.Equal(t, "r1", entries[1].Record.RoomID)
	require.Equal(t, call.DirectionEmitted, entries[1].Direction)
	require.Equal(t, call.MediaAudio, entries[1].Record.MediaType)
}

func TestStoreListLimit(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveRecord(ctx, &call.Record{
			RoomID:        "r",
			MediaType:     call.MediaAudio,
			TerminalState: call.TerminalReject,
			InviterID:     "alice",
			EndedAt:       time.Now(),
		}, call.DirectionEmitted))
	}

	entries, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
