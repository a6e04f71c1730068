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

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyAuthorizerMintsToken(t *testing.T) {
	a := NewKeyAuthorizer("wss://media.example.com", "key", "secret-at-least-32-characters-long")
	got, err := a.RequestAuthorization(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	require.Equal(t, "wss://media.example.com", got.ServerURL)
	require.NotEmpty(t, got.Token)

	// a second call for another identity mints a distinct token
	other, err := a.RequestAuthorization(context.Background(), "room-1", "bob")
	require.NoError(t, err)
	require.NotEqual(t, got.Token, other.Token)
}

func TestHTTPAuthorizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "room-1", r.URL.Query().Get("room"))
		require.Equal(t, "alice", r.URL.Query().Get("identity"))
		_ = json.NewEncoder(w).Encode(RoomAuth{ServerURL: "wss://media.example.com", Token: "tok"})
	}))
	defer srv.Close()

	a := NewHTTPAuthorizer(srv.URL)
	got, err := a.RequestAuthorization(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	require.Equal(t, "wss://media.example.com", got.ServerURL)
	require.Equal(t, "tok", got.Token)
}

func TestHTTPAuthorizerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "empty grant",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(RoomAuth{})
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := NewHTTPAuthorizer(srv.URL).RequestAuthorization(context.Background(), "r", "alice")
			require.Error(t, err)
		})
	}
}
