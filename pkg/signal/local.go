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
	"sync"
)

// LocalHub is an in-process transport: every subscriber of a user ID gets a
// copy of each signal addressed to that user. It mirrors the redis bus
// semantics (per-user fan-out, per-sender ordering) and exists for tests and
// single-process demos.
type LocalHub struct {
	mu   sync.RWMutex
	subs map[string][]*localSub // keyed by user ID
}

func NewLocalHub() *LocalHub {
	return &LocalHub{subs: make(map[string][]*localSub)}
}

// For binds a Bus to one identity and device tag on this hub.
func (h *LocalHub) For(identity, device string) Bus {
	return &localBus{hub: h, identity: identity, device: device}
}

func (h *LocalHub) deliver(toUser string, env *Envelope) {
	h.mu.RLock()
	subs := h.subs[toUser]
	h.mu.RUnlock()
	for _, s := range subs {
		s.deliver(env)
	}
}

type localBus struct {
	hub      *LocalHub
	identity string
	device   string
}

func (b *localBus) stamp(env *Envelope) *Envelope {
	e := *env
	e.From = b.identity
	e.Origin = b.device
	return &e
}

func (b *localBus) Send(_ context.Context, toUser string, env *Envelope) error {
	b.hub.deliver(toUser, b.stamp(env))
	return nil
}

func (b *localBus) Broadcast(_ context.Context, env *Envelope) error {
	b.hub.deliver(b.identity, b.stamp(env))
	return nil
}

func (b *localBus) Subscribe(_ context.Context) (Subscription, error) {
	s := &localSub{hub: b.hub, user: b.identity, ch: make(chan *Envelope, 64)}
	b.hub.mu.Lock()
	b.hub.subs[b.identity] = append(b.hub.subs[b.identity], s)
	b.hub.mu.Unlock()
	return s, nil
}

type localSub struct {
	hub    *LocalHub
	user   string
	mu     sync.Mutex
	closed bool
	ch     chan *Envelope
}

func (s *localSub) deliver(env *Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- env:
	default: // subscriber stalled; transport is at-most-once anyway
	}
}

func (s *localSub) Ch() <-chan *Envelope { return s.ch }

func (s *localSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.hub.mu.Lock()
	subs := s.hub.subs[s.user]
	for i, other := range subs {
		if other == s {
			s.hub.subs[s.user] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	s.hub.mu.Unlock()
	return nil
}
