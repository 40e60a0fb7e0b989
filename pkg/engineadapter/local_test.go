package engineadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalNativeGenerateStreamsDeltasThenUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"hel"},"done":false}` + "\n"))
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"lo"},"done":false}` + "\n"))
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":5,"eval_count":2}` + "\n"))
	}))
	defer srv.Close()

	a := NewLocalNative(nil, srv.URL, srv.Client())
	stream, err := a.Generate(t.Context(), "m", GenerateParams{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)

	var text string
	var usage *Usage
	for item := range stream {
		require.Nil(t, item.Err)
		if item.Delta != nil {
			text += item.Delta.Content
		}
		if item.Usage != nil {
			usage = item.Usage
		}
	}

	require.Equal(t, "hello", text)
	require.NotNil(t, usage)
	require.Equal(t, 5, usage.InputTokens)
	require.Equal(t, 2, usage.OutputTokens)
}

func TestLocalNativeUnloadSetsZeroKeepAlive(t *testing.T) {
	var gotKeepAlive string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body localChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotKeepAlive = body.KeepAlive
		w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	a := NewLocalNative(nil, srv.URL, srv.Client())
	require.NoError(t, a.Unload(t.Context(), "m"))
	require.Equal(t, "0s", gotKeepAlive)
}

func TestLocalNativeLoadForwardsAdditionalArgsAsOptions(t *testing.T) {
	var gotOptions map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body localChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotOptions = body.Options
		w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	a := NewLocalNative(nil, srv.URL, srv.Client())
	require.NoError(t, a.Load(t.Context(), "m", LoadParams{AdditionalArgs: []string{"--num_ctx=8192", "bare-flag"}}))
	require.Equal(t, "8192", gotOptions["num_ctx"])
	require.Len(t, gotOptions, 1)
}

func TestLocalNativeListLoadedParsesPSResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ps", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"a"},{"name":"b"}]}`))
	}))
	defer srv.Close()

	a := NewLocalNative(nil, srv.URL, srv.Client())
	loaded, err := a.ListLoaded(t.Context())
	require.NoError(t, err)
	require.Contains(t, loaded, "a")
	require.Contains(t, loaded, "b")
	require.Len(t, loaded, 2)
}
