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

// Package auth obtains media-room authorization for a call. One attempt, no
// retry: a failed authorization aborts the call and the user re-invites.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lkauth "github.com/livekit/protocol/auth"
	"github.com/pkg/errors"
)

// RoomAuth is what the media server needs to let the local participant join
// the call's room.
type RoomAuth struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
}

type Authorizer interface {
	RequestAuthorization(ctx context.Context, roomID, identity string) (*RoomAuth, error)
}

const tokenTTL = 10 * time.Minute

// KeyAuthorizer mints room tokens locally from an API key pair. This is the
// self-hosted path; deployments with an auth service use HTTPAuthorizer.
type KeyAuthorizer struct {
	wsURL     string
	apiKey    string
	apiSecret string
}

func NewKeyAuthorizer(wsURL, apiKey, apiSecret string) *KeyAuthorizer {
	return &KeyAuthorizer{wsURL: wsURL, apiKey: apiKey, apiSecret: apiSecret}
}

func (a *KeyAuthorizer) RequestAuthorization(_ context.Context, roomID, identity string) (*RoomAuth, error) {
	at := lkauth.NewAccessToken(a.apiKey, a.apiSecret)
	at.SetVideoGrant(&lkauth.VideoGrant{
		RoomJoin: true,
		Room:     roomID,
	}).
		SetIdentity(identity).
		SetValidFor(tokenTTL)
	token, err := at.ToJWT()
	if err != nil {
		return nil, errors.Wrap(err, "cannot mint room token")
	}
	return &RoomAuth{ServerURL: a.wsURL, Token: token}, nil
}

// HTTPAuthorizer asks a REST endpoint for the room credentials. Single
// attempt; the caller owns the deadline through ctx.
type HTTPAuthorizer struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAuthorizer(endpoint string) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAuthorizer) RequestAuthorization(ctx context.Context, roomID, identity string) (*RoomAuth, error) {
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("identity", identity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "authorization request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorization request failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, errors.Wrap(err, "cannot read authorization response")
	}
	out := new(RoomAuth)
	if err := json.Unmarshal(body, out); err != nil {
		return nil, errors.Wrap(err, "cannot parse authorization response")
	}
	if out.ServerURL == "" || out.Token == "" {
		return nil, errors.New("authorization response is missing server url or token")
	}
	return out, nil
}
