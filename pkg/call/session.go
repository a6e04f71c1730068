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
	"github.com/talkline/callkit/pkg/rtc"
	"github.com/talkline/callkit/pkg/signal"
	"github.com/talkline/callkit/pkg/stats"
)

// Callbacks are the session's UI-facing notifications. All of them fire on
// the session's event loop; handlers must not block.
type Callbacks struct {
	PhaseChanged func(s *Session, phase Phase)
	Ended        func(s *Session, reason EndReason, err error)
}

// event loop inputs
type (
	evSignal   struct{ env *signal.Envelope }
	evTimeout  struct{}
	evAccept   struct{}
	evReject   struct{}
	evCancel   struct{}
	evHangup   struct{}
	evShutdown struct{}

	evAuthResult struct {
		auth *auth.RoomAuth
		err  error
	}
	evMediaConnected    struct{}
	evMediaDisconnected struct{}
	evMediaFailed       struct{ err error }
	evRemoteLeft        struct{ identity string }
)

// Session coordinates one call attempt for one room ID. All mutable state is
// owned by a single event-loop goroutine: signals, timer fires, media events
// and local user actions are posted as events and processed one at a time,
// so handlers never race each other.
type Session struct {
	log      logger.Logger
	bus      signal.Bus
	auth     auth.Authorizer
	emitter  *RecordEmitter
	mediaNew rtc.Factory
	mon      *stats.Monitor
	cb       Callbacks

	// set by the manager
	onClosed func(s *Session)
	onRecord func(rec *Record)

	inv      *Invitation
	role     Role
	localID  string
	deviceID string
	remoteID string

	sched  Scheduler
	events chan event
	ended  core.Fuse

	ctx    context.Context
	cancel context.CancelFunc

	// state below is written only by the event loop; the mutex makes it
	// readable from outside without racing those writes
	st struct {
		mu                   sync.Mutex
		phase                Phase
		mediaAuth            *auth.RoomAuth
		hasSentRecord        bool
		isLocallyTerminating bool
		startedAt            time.Time
		connectedAt          time.Time
		media                rtc.MediaSession
	}
}

type event interface{}

type sessionOpts struct {
	log      logger.Logger
	bus      signal.Bus
	auth     auth.Authorizer
	emitter  *RecordEmitter
	mediaNew rtc.Factory
	mon      *stats.Monitor
	cb       Callbacks
	localID  string
	deviceID string
	onClosed func(s *Session)
	onRecord func(rec *Record)
}

func newSession(opts sessionOpts, inv *Invitation, role Role) *Session {
	remote := inv.Invitee()
	if role == Callee {
		remote = inv.InviterID
	}
	s := &Session{
		log: opts.log.WithValues(
			"roomID", inv.RoomID,
			"role", role.String(),
			"remote", remote,
			"mediaType", inv.MediaType,
		),
		bus:      opts.bus,
		auth:     opts.auth,
		emitter:  opts.emitter,
		mediaNew: opts.mediaNew,
		mon:      opts.mon,
		cb:       opts.cb,
		onClosed: opts.onClosed,
		onRecord: opts.onRecord,
		inv:      inv,
		role:     role,
		localID:  opts.localID,
		deviceID: opts.deviceID,
		remoteID: remote,
		events:   make(chan event, 16),
	}
	s.st.phase = PhaseIdle
	return s
}

// start sends the invite (caller) or begins ringing (callee), arms the ring
// deadline and launches the event loop.
func (s *Session) start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.setState(func() {
		s.st.startedAt = time.Now()
	})

	if s.role == Caller {
		s.setPhase(PhaseInviting)
		env := &signal.Envelope{
			Kind:   signal.KindInvite,
			RoomID: s.inv.RoomID,
			Invite: s.inv.payload(),
		}
		if err := s.bus.Send(s.ctx, s.remoteID, env); err != nil {
			// no retry; fail the session rather than leave a stuck UI
			s.log.Warnw("cannot deliver invite", err)
			s.finish(ReasonSignalFailed, err)
			return err
		}
		s.log.Infow("invite sent", "timeout", s.inv.Timeout)
		s.setPhase(PhaseWaiting)
	} else {
		s.log.Infow("invite received", "timeout", s.inv.Timeout)
		s.setPhase(PhaseRinging)
	}

	// the same deadline backs the caller's auto-cancel and the callee's
	// missed-call ring stop
	s.sched.Arm(s.inv.Timeout, func() { s.post(evTimeout{}) })
	go s.run()
	return nil
}

func (s *Session) run() {
	for {
		select {
		case <-s.ended.Watch():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// post hands an event to the loop; events arriving after the session ended
// are dropped.
func (s *Session) post(ev event) {
	select {
	case <-s.ended.Watch():
	case s.events <- ev:
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case evSignal:
		s.handleSignal(ev.env)
	case evTimeout:
		s.handleTimeout()
	case evAccept:
		s.handleLocalAccept()
	case evReject:
		s.handleLocalReject()
	case evCancel:
		s.handleLocalCancel()
	case evHangup:
		s.handleLocalHangup()
	case evShutdown:
		s.handleShutdown()
	case evAuthResult:
		s.handleAuthResult(ev.auth, ev.err)
	case evMediaConnected:
		s.handleMediaConnected()
	case evMediaDisconnected:
		s.handleRemoteEnd(ReasonRemoteLeft)
	case evMediaFailed:
		s.handleMediaFailed(ev.err)
	case evRemoteLeft:
		if ev.identity == s.remoteID {
			s.handleRemoteEnd(ReasonRemoteLeft)
		}
	}
}

func (s *Session) handleSignal(env *signal.Envelope) {
	// stale or cross-call signals are dropped, not errors
	if env.RoomID != s.inv.RoomID {
		s.log.Debugw("ignoring signal for other room", "signalRoomID", env.RoomID, "kind", env.Kind)
		s.mon.SignalDropped()
		return
	}
	switch env.Kind {
	case signal.KindInvite:
		// duplicate of the invite that created this session
		s.log.Debugw("ignoring duplicate invite")
	case signal.KindAccept:
		s.handleRemoteAccept(env)
	case signal.KindReject:
		s.handleRemoteReject(env)
	case signal.KindCancel:
		s.handleRemoteCancel(env)
	case signal.KindHangup:
		s.handleRemoteHangup(env)
	case signal.KindSync:
		s.handleSync(env)
	}
}

func (s *Session) handleRemoteAccept(env *signal.Envelope) {
	if s.role != Caller || s.phase() != PhaseWaiting || env.From != s.remoteID {
		s.log.Debugw("ignoring accept", "phase", s.phase())
		return
	}
	s.sched.Disarm()
	s.log.Infow("call accepted by remote")
	s.connectMedia()
}

func (s *Session) handleRemoteReject(env *signal.Envelope) {
	if s.role != Caller || s.phase() != PhaseWaiting || env.From != s.remoteID {
		s.log.Debugw("ignoring reject", "phase", s.phase())
		return
	}
	s.sched.Disarm()
	s.emitRecord(TerminalReject, 0)
	s.finish(ReasonRejected, nil)
}

func (s *Session) handleRemoteCancel(env *signal.Envelope) {
	if s.role != Callee || env.From != s.remoteID {
		return
	}
	switch s.phase() {
	case PhaseRinging, PhaseConnecting, PhaseConnected:
		// a cancel landing after our accept means the caller's timeout won
		// the race; abandon any pending connect and go down quietly
		s.sched.Disarm()
		s.finish(ReasonCanceled, nil)
	default:
		s.log.Debugw("ignoring cancel", "phase", s.phase())
	}
}

func (s *Session) handleRemoteHangup(env *signal.Envelope) {
	if env.From != s.remoteID {
		return
	}
	s.handleRemoteEnd(ReasonHungup)
}

// handleRemoteEnd covers the hangup signal, the media room's remote
// participant leaving, and the media connection dropping. Whichever arrives
// first terminates the call; the rest become no-ops.
func (s *Session) handleRemoteEnd(reason EndReason) {
	ph := s.phase()
	if ph != PhaseConnecting && ph != PhaseConnected {
		return
	}
	if s.st.isLocallyTerminating {
		return
	}
	s.emitRecord(TerminalHangup, s.liveDuration())
	s.finish(reason, nil)
}

func (s *Session) handleSync(env *signal.Envelope) {
	if env.From != s.localID || env.Sync == nil {
		return
	}
	if env.Origin == s.deviceID {
		// our own broadcast looped back
		return
	}
	// another of this user's devices already acted on the call: go quiet —
	// no signals, no record, just stop ringing here
	s.sched.Disarm()
	s.log.Infow("call handled on another device", "origin", env.Origin, "status", env.Sync.Status)
	s.finish(ReasonOtherDevice, nil)
}

func (s *Session) handleTimeout() {
	switch {
	case s.role == Caller && s.phase() == PhaseWaiting:
		s.log.Infow("invite timed out")
		env := &signal.Envelope{Kind: signal.KindCancel, RoomID: s.inv.RoomID}
		if err := s.bus.Send(s.ctx, s.remoteID, env); err != nil {
			s.log.Warnw("cannot deliver cancel", err)
		}
		s.emitRecord(TerminalCancel, 0)
		s.finish(ReasonTimeout, nil)
	case s.role == Callee && s.phase() == PhaseRinging:
		// missed call; the caller sends the record
		s.log.Infow("ringing timed out")
		s.finish(ReasonTimeout, nil)
	}
}

func (s *Session) handleLocalAccept() {
	if s.role != Callee || s.phase() != PhaseRinging {
		return
	}
	s.sched.Disarm()
	if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindAccept, RoomID: s.inv.RoomID}); err != nil {
		s.log.Warnw("cannot deliver accept", err)
	}
	s.broadcastSync(signal.SyncAccept)
	s.connectMedia()
}

func (s *Session) handleLocalReject() {
	if s.role != Callee || s.phase() != PhaseRinging {
		return
	}
	s.sched.Disarm()
	if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindReject, RoomID: s.inv.RoomID}); err != nil {
		s.log.Warnw("cannot deliver reject", err)
	}
	s.broadcastSync(signal.SyncReject)
	s.finish(ReasonRejected, nil)
}

func (s *Session) handleLocalCancel() {
	if s.role != Caller || s.phase() != PhaseWaiting {
		return
	}
	s.sched.Disarm()
	if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindCancel, RoomID: s.inv.RoomID}); err != nil {
		s.log.Warnw("cannot deliver cancel", err)
	}
	s.emitRecord(TerminalCancel, 0)
	s.finish(ReasonCanceled, nil)
}

func (s *Session) handleLocalHangup() {
	ph := s.phase()
	if ph != PhaseConnecting && ph != PhaseConnected {
		return
	}
	s.setState(func() { s.st.isLocallyTerminating = true })
	if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindHangup, RoomID: s.inv.RoomID}); err != nil {
		s.log.Warnw("cannot deliver hangup", err)
	}
	s.emitRecord(TerminalHangup, s.liveDuration())
	s.finish(ReasonHungup, nil)
}

// handleShutdown tears the call down on process exit. A waiting caller
// withdraws the invite, a live call hangs up; a ringing callee ends quietly
// so the user's other devices keep ringing.
func (s *Session) handleShutdown() {
	switch s.phase() {
	case PhaseWaiting:
		if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindCancel, RoomID: s.inv.RoomID}); err != nil {
			s.log.Warnw("cannot deliver cancel", err)
		}
		s.emitRecord(TerminalCancel, 0)
	case PhaseConnecting, PhaseConnected:
		s.setState(func() { s.st.isLocallyTerminating = true })
		if err := s.bus.Send(s.ctx, s.remoteID, &signal.Envelope{Kind: signal.KindHangup, RoomID: s.inv.RoomID}); err != nil {
			s.log.Warnw("cannot deliver hangup", err)
		}
		s.emitRecord(TerminalHangup, s.liveDuration())
	}
	s.finish(ReasonShutdown, nil)
}

// connectMedia moves the session to Connecting and kicks off the
// authorization round-trip. The result is posted back to the loop and
// re-validated against the phase there, so a termination that lands while the
// request is in flight wins.
func (s *Session) connectMedia() {
	s.setPhase(PhaseConnecting)
	go func() {
		a, err := s.auth.RequestAuthorization(s.ctx, s.inv.RoomID, s.localID)
		s.post(evAuthResult{auth: a, err: err})
	}()
}

func (s *Session) handleAuthResult(a *auth.RoomAuth, err error) {
	if s.phase() != PhaseConnecting {
		s.log.Debugw("discarding stale authorization result", "phase", s.phase())
		return
	}
	if err != nil {
		s.log.Warnw("media authorization failed", err)
		s.finish(ReasonMediaFailed, err)
		return
	}
	media := s.mediaNew(s.log, rtc.Events{
		Connected:    func() { s.post(evMediaConnected{}) },
		Disconnected: func() { s.post(evMediaDisconnected{}) },
		RemoteLeft:   func(identity string) { s.post(evRemoteLeft{identity: identity}) },
	})
	s.setState(func() {
		s.st.mediaAuth = a
		s.st.media = media
	})
	go func() {
		if err := media.Connect(s.ctx, a); err != nil {
			s.post(evMediaFailed{err: err})
		}
	}()
}

func (s *Session) handleMediaConnected() {
	if s.phase() != PhaseConnecting {
		return
	}
	s.setState(func() { s.st.connectedAt = time.Now() })
	s.setPhase(PhaseConnected)
	s.log.Infow("call connected")
}

func (s *Session) handleMediaFailed(err error) {
	if s.phase() != PhaseConnecting {
		return
	}
	s.log.Warnw("media connect failed", err)
	s.finish(ReasonMediaFailed, err)
}

func (s *Session) broadcastSync(status string) {
	env := &signal.Envelope{
		Kind:   signal.KindSync,
		RoomID: s.inv.RoomID,
		Sync:   &signal.SyncPayload{Status: status},
	}
	if err := s.bus.Broadcast(s.ctx, env); err != nil {
		s.log.Warnw("cannot broadcast device sync", err)
	}
}

// emitRecord fires the record emitter at most once per session, and only for
// the caller role; the callee side never produces a record.
func (s *Session) emitRecord(state TerminalState, dur time.Duration) {
	if s.role != Caller || s.st.hasSentRecord {
		return
	}
	s.setState(func() { s.st.hasSentRecord = true })
	rec := &Record{
		RoomID:        s.inv.RoomID,
		MediaType:     s.inv.MediaType,
		TerminalState: state,
		Duration:      dur,
		InviterID:     s.inv.InviterID,
		EndedAt:       time.Now(),
	}
	rec, _ = s.emitter.Emit(s.ctx, s.remoteID, rec)
	s.mon.RecordEmitted(string(state))
	if s.onRecord != nil {
		s.onRecord(rec)
	}
}

func (s *Session) liveDuration() time.Duration {
	var connectedAt time.Time
	s.st.mu.Lock()
	connectedAt = s.st.connectedAt
	s.st.mu.Unlock()
	if connectedAt.IsZero() {
		return 0
	}
	return time.Since(connectedAt)
}

// finish is the only way out. It runs exactly once: disarms the deadline,
// drops the media session, clears the room grant and reports the end.
func (s *Session) finish(reason EndReason, err error) {
	if s.phase() == PhaseEnded {
		return
	}
	s.sched.Disarm()
	if d := s.liveDuration(); d > 0 {
		s.mon.CallDuration(d)
	}
	var media rtc.MediaSession
	s.setState(func() {
		media = s.st.media
		s.st.media = nil
		s.st.mediaAuth = nil
	})
	if media != nil {
		media.Disconnect()
	}
	s.setPhase(PhaseEnded)
	if err != nil {
		s.log.Warnw("call ended with error", err, "reason", reason)
	} else {
		s.log.Infow("call ended", "reason", reason)
	}
	s.cancel()
	if s.cb.Ended != nil {
		s.cb.Ended(s, reason, err)
	}
	if s.onClosed != nil {
		s.onClosed(s)
	}
	s.ended.Break()
}

func (s *Session) setPhase(ph Phase) {
	s.setState(func() { s.st.phase = ph })
	if s.cb.PhaseChanged != nil {
		s.cb.PhaseChanged(s, ph)
	}
}

func (s *Session) setState(fn func()) {
	s.st.mu.Lock()
	fn()
	s.st.mu.Unlock()
}

// public surface

// RoomID is the opaque per-attempt call identifier shared by both parties.
func (s *Session) RoomID() string { return s.inv.RoomID }

func (s *Session) Role() Role { return s.role }

func (s *Session) Invitation() *Invitation { return s.inv }

// RemoteIdentity is the other party's user ID.
func (s *Session) RemoteIdentity() string { return s.remoteID }

func (s *Session) Phase() Phase {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.phase
}

// phase is the loop-internal read; no other goroutine writes it.
func (s *Session) phase() Phase {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.phase
}

// MediaAuth returns the room grant. It is nil before acceptance, for the
// first stretch of Connecting while the authorization round-trip is still in
// flight, and again once the session ends.
func (s *Session) MediaAuth() *auth.RoomAuth {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.mediaAuth
}

// Closed is broken once the session reached Ended and all cleanup ran.
func (s *Session) Closed() <-chan struct{} { return s.ended.Watch() }

// Accept answers an incoming call. No-op unless ringing as callee.
func (s *Session) Accept() { s.post(evAccept{}) }

// Reject declines an incoming call. No-op unless ringing as callee.
func (s *Session) Reject() { s.post(evReject{}) }

// Cancel withdraws an outgoing invite. No-op unless waiting as caller.
func (s *Session) Cancel() { s.post(evCancel{}) }

// Hangup terminates an in-progress call.
func (s *Session) Hangup() { s.post(evHangup{}) }
