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
	"os"

	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"
	"github.com/livekit/protocol/utils"

	"github.com/talkline/callkit/pkg/errors"
)

const (
	// DefaultRingTimeout is how long an unanswered invite rings before
	// the caller cancels it, in seconds.
	DefaultRingTimeout = 30

	devicePrefix = "DEV_"
)

type Config struct {
	Redis     *redis.RedisConfig `yaml:"redis"`      // required; carries call signals
	Identity  string             `yaml:"identity"`   // required; local user ID on the messaging platform
	ApiKey    string             `yaml:"api_key"`    // media auth, local minting (env CALLKIT_API_KEY)
	ApiSecret string             `yaml:"api_secret"` // media auth, local minting (env CALLKIT_API_SECRET)
	WsUrl     string             `yaml:"ws_url"`     // media server URL (env CALLKIT_WS_URL)

	// AuthEndpoint, when set, delegates media authorization to a REST
	// service instead of minting tokens locally with ApiKey/ApiSecret.
	AuthEndpoint string `yaml:"auth_endpoint"`

	// RingTimeout is the default invite timeout in seconds.
	RingTimeout int `yaml:"ring_timeout"`

	// HistoryDir is where the local call log database lives. Empty disables it.
	HistoryDir string `yaml:"history_dir"`

	PrometheusPort int `yaml:"prometheus_port"`

	Logging logger.Config `yaml:"logging"`

	// internal
	ServiceName string `yaml:"-"`
	DeviceID    string // Do not provide, will be overwritten
}

func NewConfig(confString string) (*Config, error) {
	conf := &Config{
		ApiKey:      os.Getenv("CALLKIT_API_KEY"),
		ApiSecret:   os.Getenv("CALLKIT_API_SECRET"),
		WsUrl:       os.Getenv("CALLKIT_WS_URL"),
		RingTimeout: DefaultRingTimeout,
		ServiceName: "callkit",
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.ErrCouldNotParseConfig(err)
		}
	}

	if conf.Redis == nil {
		return nil, errors.ErrNoRedis
	}
	if conf.Identity == "" {
		return nil, errors.ErrNoIdentity
	}
	if conf.AuthEndpoint == "" && (conf.ApiKey == "" || conf.ApiSecret == "" || conf.WsUrl == "") {
		return nil, errors.ErrNoMediaAuth
	}
	if conf.RingTimeout <= 0 {
		conf.RingTimeout = DefaultRingTimeout
	}

	return conf, nil
}

func (conf *Config) Init() error {
	// Every process gets its own device tag. Other logged-in devices of the
	// same identity see it as the origin on multi-device sync signals.
	conf.DeviceID = utils.NewGuid(devicePrefix)

	return conf.InitLogger()
}

func (c *Config) InitLogger(values ...interface{}) error {
	zl, err := logger.NewZapLogger(&c.Logging)
	if err != nil {
		return err
	}

	values = append(c.GetLoggerValues(), values...)
	l := zl.WithValues(values...)
	logger.SetLogger(l, c.ServiceName)

	return nil
}

func (c *Config) GetLoggerValues() []interface{} {
	return []interface{}{"identity", c.Identity, "deviceID", c.DeviceID}
}
