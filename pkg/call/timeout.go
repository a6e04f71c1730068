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
	"sync"
	"time"
)

// Scheduler is the single deadline slot of a session. Arming always replaces
// any previously armed deadline; a generation counter invalidates fires that
// were already in flight when the slot was re-armed or disarmed, so a stale
// timeout can never cancel a call that moved on.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func (s *Scheduler) Arm(d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		live := s.gen == gen
		if live {
			s.timer = nil
		}
		s.mu.Unlock()
		if live {
			onFire()
		}
	})
}

func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a deadline is currently pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
