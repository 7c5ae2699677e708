// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveUpstream(service, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, service+":"+outcome)
}

func TestClient_CallSuccess(t *testing.T) {
	var gotHeaders http.Header
	var gotBody string
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	client := NewClient(ClientOptions{Observer: obs})
	resp, err := client.Call(context.Background(), Descriptor{
		Service: "test",
		URL:     server.URL + "/v1?key=abc",
		Method:  http.MethodPost,
		Headers: []string{"Content-Type: application/json", "Authorization: Client-ID xyz"},
		Body:    []byte(`{"q":1}`),
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"q":1}`, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "Client-ID xyz", gotHeaders.Get("Authorization"))
	assert.Equal(t, []string{"test:success"}, obs.outcomes)
}

func TestClient_HTTPErrorKeepsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	_, err := NewClient(ClientOptions{Observer: obs}).Call(context.Background(), Descriptor{
		Service: "gemini",
		URL:     server.URL,
		Timeout: time.Second,
	})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "HTTP 404", f.Reason)
	assert.Equal(t, http.StatusNotFound, f.StatusCode)
	assert.Contains(t, string(f.Body), "model not found")
	assert.Equal(t, []string{"gemini:failure"}, obs.outcomes)
}

func TestClient_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := NewClient(ClientOptions{}).Call(context.Background(), Descriptor{URL: server.URL + "/old", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "moved", string(resp.Body))
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewClient(ClientOptions{}).Call(context.Background(), Descriptor{
		URL:     server.URL + "?key=SECRETKEY",
		Timeout: 50 * time.Millisecond,
	})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.True(t, strings.HasPrefix(f.Reason, "timeout: "), f.Reason)
	assert.NotContains(t, f.Reason, "SECRETKEY")
	assert.True(t, IsRetryable(err))
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := NewClient(ClientOptions{}).Call(context.Background(), Descriptor{
		URL:     addr + "/?key=SECRETKEY",
		Timeout: time.Second,
	})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.True(t, strings.HasPrefix(f.Reason, "connection error: "), f.Reason)
	assert.NotContains(t, f.Reason, "SECRETKEY")
	assert.Zero(t, f.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestClient_TLSVerification(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer server.Close()
	client := NewClient(ClientOptions{})

	_, err := client.Call(context.Background(), Descriptor{URL: server.URL, Timeout: time.Second, VerifyTLS: true})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.True(t, strings.HasPrefix(f.Reason, "tls error: "), f.Reason)
	assert.False(t, IsRetryable(err))

	resp, err := client.Call(context.Background(), Descriptor{URL: server.URL, Timeout: time.Second, VerifyTLS: false})
	require.NoError(t, err)
	assert.Equal(t, "secure", string(resp.Body))
}

func TestClient_ProtocolErrorsAreTerminal(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain"))
	}))
	defer plain.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"https against plain http", strings.Replace(plain.URL, "http://", "https://", 1)},
		{"unsupported scheme", "ftp://example.com/file?key=SECRETKEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, result, err := WithRetry(context.Background(), NewClient(ClientOptions{}), func(int) (Descriptor, error) {
				calls++
				return Descriptor{URL: tt.url, Timeout: time.Second, VerifyTLS: true}, nil
			}, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.False(t, strings.HasPrefix(f.Reason, "connection error: "), f.Reason)
			assert.NotContains(t, f.Reason, "SECRETKEY")
			assert.False(t, IsRetryable(err))
			assert.Equal(t, 1, calls)
			assert.Equal(t, 1, result.Attempts)
		})
	}
}

func TestClient_MalformedHeader(t *testing.T) {
	_, err := NewClient(ClientOptions{}).Call(context.Background(), Descriptor{
		Service: "svc",
		URL:     "http://127.0.0.1:1",
		Headers: []string{"no-colon-here"},
	})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Contains(t, f.Reason, "malformed header")
	assert.False(t, IsRetryable(err))
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/v1/models/m:generateContent?key=AIza123", "https://api.example.com/v1/models/m:generateContent?key=REDACTED"},
		{"https://api.example.com/search?query=cats&per_page=5", "https://api.example.com/search?query=cats&per_page=5"},
		{"https://u:p@host/x?Token=t&a=1", "https://host/x?Token=REDACTED&a=1"},
		{"://bad", "<unparseable url>"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactURL(tt.in))
		})
	}
}
