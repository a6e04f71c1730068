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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/livekit/protocol/logger"

	"github.com/talkline/callkit/pkg/call"
	"github.com/talkline/callkit/pkg/config"
	"github.com/talkline/callkit/pkg/errors"
	"github.com/talkline/callkit/pkg/service"
	"github.com/talkline/callkit/version"
)

func main() {
	cmd := &cli.Command{
		Name:        "callkit",
		Usage:       "call signaling agent",
		Version:     version.Version,
		Description: "one-to-one call coordination over a messaging transport",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "callkit yaml config file",
				Sources: cli.EnvVars("CALLKIT_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "callkit yaml config body",
				Sources: cli.EnvVars("CALLKIT_CONFIG_BODY"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "answer incoming calls",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "auto-accept",
						Usage: "accept every incoming call without prompting",
					},
				},
				Action: runAgent,
			},
			{
				Name:      "call",
				Usage:     "place an outgoing call",
				ArgsUsage: "<user-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "video",
						Usage: "request a video call",
					},
				},
				Action: runCall,
			},
			{
				Name:  "history",
				Usage: "print the local call log",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
					},
				},
				Action: runHistory,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	autoAccept := c.Bool("auto-accept")
	cb := call.ManagerCallbacks{
		Incoming: func(s *call.Session) {
			log.Infow("incoming call",
				"roomID", s.RoomID(),
				"from", s.RemoteIdentity(),
				"mediaType", s.Invitation().MediaType,
			)
			if autoAccept {
				s.Accept()
			}
		},
		Session: call.Callbacks{
			PhaseChanged: func(s *call.Session, ph call.Phase) {
				log.Infow("call phase changed", "roomID", s.RoomID(), "phase", ph)
			},
			Ended: func(s *call.Session, reason call.EndReason, err error) {
				if err != nil {
					log.Warnw("call failed", err, "roomID", s.RoomID(), "reason", reason)
				}
			},
		},
	}

	svc, err := service.NewService(conf, log, cb)
	if err != nil {
		return err
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-stopChan
		log.Infow("exit requested, hanging up and shutting down", "signal", sig)
		svc.Stop()
	}()

	return svc.Run(ctx)
}

func runCall(ctx context.Context, c *cli.Command) error {
	target := c.Args().First()
	if target == "" {
		return fmt.Errorf("usage: callkit call <user-id>")
	}
	conf, err := getConfig(c, true)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	done := make(chan struct{})
	cb := call.ManagerCallbacks{
		Session: call.Callbacks{
			PhaseChanged: func(s *call.Session, ph call.Phase) {
				log.Infow("call phase changed", "roomID", s.RoomID(), "phase", ph)
			},
			Ended: func(s *call.Session, reason call.EndReason, err error) {
				if err != nil {
					log.Warnw("call failed", err, "roomID", s.RoomID(), "reason", reason)
				} else {
					log.Infow("call over", "roomID", s.RoomID(), "reason", reason)
				}
				close(done)
			},
		},
	}
	svc, err := service.NewService(conf, log, cb)
	if err != nil {
		return err
	}
	go func() {
		_ = svc.Run(ctx)
	}()
	defer svc.Stop()

	media := call.MediaAudio
	if c.Bool("video") {
		media = call.MediaVideo
	}
	sess, err := svc.Manager().StartCall(ctx, target, media)
	if err != nil {
		return err
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stopChan:
		sess.Hangup()
		sess.Cancel()
		<-sess.Closed()
	case <-done:
	}
	return nil
}

func runHistory(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c, false)
	if err != nil {
		return err
	}
	if conf.HistoryDir == "" {
		return fmt.Errorf("history_dir is not configured")
	}
	svc, err := service.NewService(conf, logger.GetLogger(), call.ManagerCallbacks{})
	if err != nil {
		return err
	}
	defer svc.Stop()

	entries, err := svc.History().List(ctx, int(c.Int("limit")))
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s %-6s %-7s %6s  %s\n",
			e.Record.EndedAt.Local().Format("2006-01-02 15:04:05"),
			e.Direction,
			e.Record.MediaType,
			e.Record.TerminalState,
			e.Record.Duration,
			e.Record.InviterID,
		)
	}
	return nil
}

func getConfig(c *cli.Command, initialize bool) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile == "" {
			return nil, errors.ErrNoConfig
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}

	if initialize {
		if err = conf.Init(); err != nil {
			return nil, err
		}
	}

	return conf, nil
}
