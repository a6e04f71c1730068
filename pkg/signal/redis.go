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
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"
)

const channelPrefix = "callkit.signal."

// RedisBus carries signals over redis pub/sub. Every device of a user
// subscribes to the user's channel, so publishing to your own channel is the
// multi-device self-broadcast and publishing to the remote user's channel
// reaches all of their devices.
type RedisBus struct {
	rc       redis.UniversalClient
	log      logger.Logger
	identity string
	device   string
}

func NewRedisBus(rc redis.UniversalClient, identity, device string, log logger.Logger) *RedisBus {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RedisBus{
		rc:       rc,
		log:      log.WithValues("bus", "redis"),
		identity: identity,
		device:   device,
	}
}

func userChannel(userID string) string {
	return channelPrefix + userID
}

func (b *RedisBus) publish(ctx context.Context, channel string, env *Envelope) error {
	env.From = b.identity
	env.Origin = b.device
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "cannot marshal signal")
	}
	if err := b.rc.Publish(ctx, channel, data).Err(); err != nil {
		return errors.Wrap(err, "cannot publish signal")
	}
	return nil
}

func (b *RedisBus) Send(ctx context.Context, toUser string, env *Envelope) error {
	return b.publish(ctx, userChannel(toUser), env)
}

func (b *RedisBus) Broadcast(ctx context.Context, env *Envelope) error {
	return b.publish(ctx, userChannel(b.identity), env)
}

func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	ps := b.rc.Subscribe(ctx, userChannel(b.identity))
	// wait for the subscription to be confirmed before reporting ready
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "cannot subscribe to signal channel")
	}
	sub := &redisSub{ps: ps, ch: make(chan *Envelope, 16)}
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			env := new(Envelope)
			if err := json.Unmarshal([]byte(msg.Payload), env); err != nil {
				b.log.Warnw("dropping malformed signal", err)
				continue
			}
			sub.ch <- env
		}
	}()
	return sub, nil
}

type redisSub struct {
	ps *redis.PubSub
	ch chan *Envelope
}

func (s *redisSub) Ch() <-chan *Envelope { return s.ch }

func (s *redisSub) Close() error { return s.ps.Close() }
