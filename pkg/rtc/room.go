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

// Package rtc adapts the external media room. The RTC library owns transport
// and codecs; callkit only connects, disconnects and observes participant
// lifecycle.
package rtc

import (
	"context"

	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/talkline/callkit/pkg/auth"
)

// Events are the media-session callbacks a call session consumes.
// RemoteLeft for the expected remote identity is treated as a hangup.
type Events struct {
	Connected    func()
	Disconnected func()
	RemoteLeft   func(identity string)
}

type MediaSession interface {
	Connect(ctx context.Context, a *auth.RoomAuth) error
	Disconnect()
}

// Factory builds a fresh media session per call attempt.
type Factory func(log logger.Logger, ev Events) MediaSession

func DefaultFactory(log logger.Logger, ev Events) MediaSession {
	return NewRoom(log, ev)
}

// Room is the LiveKit-backed media session.
type Room struct {
	log    logger.Logger
	ev     Events
	room   *lksdk.Room
	ready  core.Fuse
	closed core.Fuse
}

func NewRoom(log logger.Logger, ev Events) *Room {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Room{log: log, ev: ev}
}

func (r *Room) Connect(ctx context.Context, a *auth.RoomAuth) error {
	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.log.Debugw("participant joined", "participant", rp.Identity(), "pID", rp.SID())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.log.Debugw("participant left", "participant", rp.Identity(), "pID", rp.SID())
			if r.ev.RemoteLeft != nil {
				r.ev.RemoteLeft(rp.Identity())
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.log.Debugw("track subscribed", "participant", rp.Identity(), "trackID", track.ID(), "kind", pub.Kind())
			},
		},
		OnDisconnected: func() {
			r.closed.Once(func() {
				if r.ev.Disconnected != nil {
					r.ev.Disconnected()
				}
			})
		},
	}
	room := lksdk.NewRoom(cb)
	if err := room.JoinWithToken(a.ServerURL, a.Token); err != nil {
		return errors.Wrap(err, "cannot join media room")
	}
	if r.closed.IsBroken() {
		// a termination raced the join round-trip; do not hold the room open
		room.Disconnect()
		return errors.New("media session closed during connect")
	}
	r.room = room
	r.log = r.log.WithValues("room", room.Name(), "pID", room.LocalParticipant.SID())
	r.log.Infow("joined media room")
	r.ready.Once(func() {
		if r.ev.Connected != nil {
			r.ev.Connected()
		}
	})
	return nil
}

func (r *Room) Disconnect() {
	r.closed.Once(func() {
		if r.room != nil {
			r.room.Disconnect()
			r.log.Infow("left media room")
		}
		if r.ev.Disconnected != nil {
			r.ev.Disconnected()
		}
	})
}
