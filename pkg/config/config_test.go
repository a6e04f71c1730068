// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkline/callkit/pkg/errors"
)

const minimalConf = `
redis:
  address: localhost:6379
identity: alice
api_key: key
api_secret: secret
ws_url: wss://media.example.com
`

func TestNewConfig(t *testing.T) {
	conf, err := NewConfig(minimalConf)
	require.NoError(t, err)
	require.Equal(t, "alice", conf.Identity)
	require.Equal(t, "localhost:6379", conf.Redis.Address)
	require.Equal(t, DefaultRingTimeout, conf.RingTimeout)
	require.Equal(t, "callkit", conf.ServiceName)
}

func TestNewConfigRingTimeout(t *testing.T) {
	conf, err := NewConfig(minimalConf + "ring_timeout: 15\n")
	require.NoError(t, err)
	require.Equal(t, 15, conf.RingTimeout)

	// non-positive values fall back to the default
	conf, err = NewConfig(minimalConf + "ring_timeout: -1\n")
	require.NoError(t, err)
	require.Equal(t, DefaultRingTimeout, conf.RingTimeout)
}

func TestNewConfigValidation(t *testing.T) {
	t.Setenv("CALLKIT_API_KEY", "")
	t.Setenv("CALLKIT_API_SECRET", "")
	t.Setenv("CALLKIT_WS_URL", "")

	_, err := NewConfig("identity: alice\n")
	require.ErrorIs(t, err, errors.ErrNoRedis)

	_, err = NewConfig("redis:\n  address: localhost:6379\n")
	require.ErrorIs(t, err, errors.ErrNoIdentity)

	_, err = NewConfig("redis:\n  address: localhost:6379\nidentity: alice\n")
	require.ErrorIs(t, err, errors.ErrNoMediaAuth)

	// an auth endpoint stands in for local key minting
	conf, err := NewConfig("redis:\n  address: localhost:6379\nidentity: alice\nauth_endpoint: https://auth.example.com/room\n")
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/room", conf.AuthEndpoint)
}

func TestNewConfigMalformed(t *testing.T) {
	_, err := NewConfig("redis: [not a map\n")
	require.Error(t, err)
}
