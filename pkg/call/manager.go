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
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	"github.com/talkline/callkit/pkg/auth"
	"github.com/talkline/callkit/pkg/errors"
	"github.com/talkline/callkit/pkg/rtc"
	"github.com/talkline/callkit/pkg/signal"
	"github.com/talkline/callkit/pkg/stats"
)

// RecordStore caches terminal call records locally. Direction tells sent
// records apart from ones received from the remote party.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *Record, direction string) error
}

const (
	DirectionEmitted  = "emitted"
	DirectionReceived = "received"
)

// ManagerCallbacks notify the UI collaborator about call lifecycle.
type ManagerCallbacks struct {
	// Incoming fires for each new ringing session created from a remote
	// invite. The handler decides to Accept or Reject.
	Incoming func(s *Session)
	Session  Callbacks
}

type ManagerParams struct {
	Identity    string
	DeviceID    string
	RingTimeout time.Duration // default for outgoing invites

	Bus        signal.Bus
	Authorizer auth.Authorizer
	Media      rtc.Factory
	Monitor    *stats.Monitor
	History    RecordStore // optional
	Callbacks  ManagerCallbacks
	Log        logger.Logger
}

// Manager owns the active session registry and routes incoming signals to
// it. One session per room ID, and at most one live call per process; an
// invite arriving while a call is active is ignored and backstopped by the
// caller's own timeout.
type Manager struct {
	log     logger.Logger
	params  ManagerParams
	emitter *RecordEmitter

	cmu    sync.Mutex
	active map[string]*Session

	sub      signal.Subscription
	shutdown core.Fuse
}

func NewManager(params ManagerParams) *Manager {
	if params.Log == nil {
		params.Log = logger.GetLogger()
	}
	if params.Media == nil {
		params.Media = rtc.DefaultFactory
	}
	if params.RingTimeout <= 0 {
		params.RingTimeout = 30 * time.Second
	}
	return &Manager{
		log:     params.Log,
		params:  params,
		emitter: NewRecordEmitter(params.Bus, params.Log),
		active:  make(map[string]*Session),
	}
}

// Start subscribes to the local user's signal channel and begins dispatch.
func (m *Manager) Start(ctx context.Context) error {
	sub, err := m.params.Bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	m.sub = sub
	go m.dispatchLoop(ctx)
	return nil
}

// Stop hangs up every active session and stops dispatch.
func (m *Manager) Stop() {
	m.shutdown.Once(func() {
		if m.sub != nil {
			_ = m.sub.Close()
		}
		m.cmu.Lock()
		sessions := make([]*Session, 0, len(m.active))
		for _, s := range m.active {
			sessions = append(sessions, s)
		}
		m.cmu.Unlock()
		for _, s := range sessions {
			s.post(evShutdown{})
			<-s.Closed()
		}
	})
}

// StartCall places an outgoing call to invitee and returns the ringing
// session. Fails when another call is already active.
func (m *Manager) StartCall(ctx context.Context, invitee string, media MediaType) (*Session, error) {
	inv := NewInvitation(m.params.Identity, invitee, media, m.params.RingTimeout)
	s := newSession(m.sessionOpts(), inv, Caller)

	m.cmu.Lock()
	if len(m.active) > 0 {
		m.cmu.Unlock()
		return nil, errors.ErrCallBusy
	}
	m.active[inv.RoomID] = s
	m.cmu.Unlock()

	m.params.Monitor.CallStarted("out", string(media))
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ActiveCall returns the session owning roomID, if any.
func (m *Manager) ActiveCall(roomID string) (*Session, bool) {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	s, ok := m.active[roomID]
	return s, ok
}

func (m *Manager) sessionOpts() sessionOpts {
	return sessionOpts{
		log:      m.log,
		bus:      m.params.Bus,
		auth:     m.params.Authorizer,
		emitter:  m.emitter,
		mediaNew: m.params.Media,
		mon:      m.params.Monitor,
		cb:       m.params.Callbacks.Session,
		localID:  m.params.Identity,
		deviceID: m.params.DeviceID,
		onClosed: m.removeSession,
		onRecord: m.storeRecord(DirectionEmitted),
	}
}

func (m *Manager) removeSession(s *Session) {
	m.cmu.Lock()
	delete(m.active, s.RoomID())
	m.cmu.Unlock()
	m.params.Monitor.CallEnded(s.Role().String())
}

func (m *Manager) storeRecord(direction string) func(rec *Record) {
	if m.params.History == nil {
		return nil
	}
	return func(rec *Record) {
		if err := m.params.History.SaveRecord(context.Background(), rec, direction); err != nil {
			m.log.Warnw("cannot store call record", err, "roomID", rec.RoomID)
		}
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown.Watch():
			return
		case env, ok := <-m.sub.Ch():
			if !ok {
				return
			}
			m.dispatch(ctx, env)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, env *signal.Envelope) {
	switch env.Kind {
	case signal.KindInvite:
		m.handleInvite(ctx, env)
	case signal.KindRecord:
		m.handleRecord(env)
	default:
		m.cmu.Lock()
		s := m.active[env.RoomID]
		m.cmu.Unlock()
		if s == nil {
			// stale signal for a call that already ended here
			m.log.Debugw("dropping signal without session", "kind", env.Kind, "roomID", env.RoomID)
			m.params.Monitor.SignalDropped()
			return
		}
		s.post(evSignal{env: env})
	}
}

func (m *Manager) handleInvite(ctx context.Context, env *signal.Envelope) {
	if env.Invite == nil || env.RoomID == "" {
		m.log.Debugw("dropping malformed invite")
		m.params.Monitor.SignalDropped()
		return
	}
	inv := invitationFrom(env.RoomID, env.Invite)
	s := newSession(m.sessionOpts(), inv, Callee)

	m.cmu.Lock()
	if _, ok := m.active[inv.RoomID]; ok {
		m.cmu.Unlock()
		m.log.Debugw("ignoring duplicate invite", "roomID", inv.RoomID)
		return
	}
	if len(m.active) > 0 {
		m.cmu.Unlock()
		// busy; the caller's timeout is the backstop
		m.log.Infow("ignoring invite while another call is active", "roomID", inv.RoomID)
		m.params.Monitor.InviteIgnored()
		return
	}
	m.active[inv.RoomID] = s
	m.cmu.Unlock()

	m.params.Monitor.CallStarted("in", string(inv.MediaType))
	if err := s.start(ctx); err != nil {
		return
	}
	if m.params.Callbacks.Incoming != nil {
		m.params.Callbacks.Incoming(s)
	}
}

func (m *Manager) handleRecord(env *signal.Envelope) {
	if env.Record == nil {
		return
	}
	rec := RecordFrom(env.RoomID, env.Record)
	m.log.Infow("call record received",
		"roomID", rec.RoomID,
		"terminalState", rec.TerminalState,
		"duration", rec.Duration,
	)
	if store := m.storeRecord(DirectionReceived); store != nil {
		store(rec)
	}
}
