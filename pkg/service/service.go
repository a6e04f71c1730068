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

package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/redis"

	"github.com/talkline/callkit/pkg/auth"
	"github.com/talkline/callkit/pkg/call"
	"github.com/talkline/callkit/pkg/config"
	"github.com/talkline/callkit/pkg/history"
	"github.com/talkline/callkit/pkg/signal"
	"github.com/talkline/callkit/pkg/stats"
	"github.com/talkline/callkit/version"
)

// Service assembles one call-capable client: the signal bus bound to the
// configured identity, the media authorizer, the session manager, the local
// call log and the metrics listener.
type Service struct {
	conf *config.Config
	log  logger.Logger

	bus   signal.Bus
	mgr   *call.Manager
	mon   *stats.Monitor
	store *history.Store

	promServer *http.Server
	shutdown   core.Fuse
}

func NewService(conf *config.Config, log logger.Logger, cb call.ManagerCallbacks) (*Service, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	rc, err := redis.GetRedisClient(conf.Redis)
	if err != nil {
		return nil, err
	}
	bus := signal.NewRedisBus(rc, conf.Identity, conf.DeviceID, log)

	var authorizer auth.Authorizer
	if conf.AuthEndpoint != "" {
		authorizer = auth.NewHTTPAuthorizer(conf.AuthEndpoint)
	} else {
		authorizer = auth.NewKeyAuthorizer(conf.WsUrl, conf.ApiKey, conf.ApiSecret)
	}

	var store *history.Store
	if conf.HistoryDir != "" {
		store, err = history.Open(conf.HistoryDir)
		if err != nil {
			return nil, err
		}
	}

	mon := stats.NewMonitor(conf.Identity)

	s := &Service{
		conf:  conf,
		log:   log,
		bus:   bus,
		mon:   mon,
		store: store,
	}
	params := call.ManagerParams{
		Identity:    conf.Identity,
		DeviceID:    conf.DeviceID,
		RingTimeout: time.Duration(conf.RingTimeout) * time.Second,
		Bus:         bus,
		Authorizer:  authorizer,
		Monitor:     mon,
		Callbacks:   cb,
		Log:         log,
	}
	if store != nil {
		params.History = store
	}
	s.mgr = call.NewManager(params)

	if conf.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: mux,
		}
	}
	return s, nil
}

// Manager exposes the session manager for placing and answering calls.
func (s *Service) Manager() *call.Manager { return s.mgr }

// History returns the local call log, or nil when disabled.
func (s *Service) History() *history.Store { return s.store }

// Run starts signal dispatch and blocks until Stop.
func (s *Service) Run(ctx context.Context) error {
	s.log.Infow("starting callkit", "version", version.Version)
	if err := s.mgr.Start(ctx); err != nil {
		return err
	}
	if s.promServer != nil {
		go func() {
			if err := s.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorw("metrics listener failed", err)
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-s.shutdown.Watch():
	}
	return nil
}

func (s *Service) Stop() {
	s.shutdown.Once(func() {
		s.mgr.Stop()
		if s.promServer != nil {
			_ = s.promServer.Close()
		}
		if s.store != nil {
			_ = s.store.Close()
		}
		s.mon.Stop()
		s.log.Infow("callkit stopped")
	})
}
