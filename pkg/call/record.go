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
	"time"

	"github.com/livekit/protocol/logger"

	"github.com/talkline/callkit/pkg/signal"
)

// RecordEmitter sends the terminal call summary to the other party over the
// signal channel. It does not persist anything and does not enforce the
// once-per-session rule; the session's guard owns that.
type RecordEmitter struct {
	bus signal.Bus
	log logger.Logger
}

func NewRecordEmitter(bus signal.Bus, log logger.Logger) *RecordEmitter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RecordEmitter{bus: bus, log: log}
}

// Emit builds the record signal and sends it to toUser. The built record is
// returned for local history even when the send fails.
func (e *RecordEmitter) Emit(ctx context.Context, toUser string, rec *Record) (*Record, error) {
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now()
	}
	env := &signal.Envelope{
		Kind:   signal.KindRecord,
		RoomID: rec.RoomID,
		Record: rec.payload(),
	}
	err := e.bus.Send(ctx, toUser, env)
	if err != nil {
		e.log.Warnw("cannot deliver call record", err, "roomID", rec.RoomID)
	} else {
		e.log.Infow("call record sent",
			"roomID", rec.RoomID,
			"terminalState", rec.TerminalState,
			"duration", rec.Duration,
		)
	}
	return rec, err
}
