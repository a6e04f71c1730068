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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFires(t *testing.T) {
	var s Scheduler
	var fired atomic.Int32
	s.Arm(20*time.Millisecond, func() { fired.Add(1) })
	require.True(t, s.Armed())
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	require.False(t, s.Armed())
}

func TestSchedulerDisarm(t *testing.T) {
	var s Scheduler
	var fired atomic.Int32
	s.Arm(30*time.Millisecond, func() { fired.Add(1) })
	s.Disarm()
	require.False(t, s.Armed())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestSchedulerRearmReplacesDeadline(t *testing.T) {
	var s Scheduler
	var first, second atomic.Int32
	s.Arm(30*time.Millisecond, func() { first.Add(1) })
	s.Arm(60*time.Millisecond, func() { second.Add(1) })

	// the first deadline is gone; only the replacement fires
	time.Sleep(45 * time.Millisecond)
	require.Equal(t, int32(0), first.Load())
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int32(0), first.Load())
}

func TestSchedulerDisarmRace(t *testing.T) {
	// disarm concurrently with a deadline that is about to fire; the callback
	// must run either zero or one time, never after Disarm returned with the
	// slot re-armed
	for range 50 {
		var s Scheduler
		var fired atomic.Int32
		s.Arm(time.Millisecond, func() { fired.Add(1) })
		time.Sleep(time.Millisecond)
		s.Disarm()
		n := fired.Load()
		time.Sleep(5 * time.Millisecond)
		require.LessOrEqual(t, fired.Load(), n+1)
		require.LessOrEqual(t, fired.Load(), int32(1))
	}
}
