package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func newAgent(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("127.0.0.1:7762")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7762", c.baseURL)

	c, err = NewClient("https://agent.example/")
	require.NoError(t, err)
	assert.Equal(t, "https://agent.example", c.baseURL)

	_, err = NewClient("")
	assert.Error(t, err)
}

func TestListTargets(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/btrfs/targets", r.URL.Path)
		_ = json.NewEncoder(w).Encode(types.ListTargetsResponse{
			AgentResponse: types.AgentResponse{Success: true},
			Targets:       []types.TargetInfo{{Name: "iqn.2026-10.org.zstack:v1", VolumeUUID: "v1"}},
		})
	})

	targets, err := c.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "v1", targets[0].VolumeUUID)
}

func TestListJournal(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(types.ListJournalResponse{
			AgentResponse: types.AgentResponse{Success: true},
			Entries:       []types.JournalEntry{{ID: "1"}, {ID: "2"}},
		})
	})

	entries, err := c.ListJournal(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAgentErrorIsCoded(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.ListJournalResponse{
			AgentResponse: types.AgentResponse{Error: "database not open", ErrorCode: types.ErrIOFailure},
		})
	})

	_, err := c.ListJournal(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrIOFailure))
	assert.Equal(t, "database not open", err.Error())
}

func TestUnexpectedStatus(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListTargets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestReadiness_NotReadyIsNotError(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready","message":"waiting for tools"}`))
	})

	status, err := c.Readiness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "waiting for tools", status.Message)
}

func TestCheckBitsExistence(t *testing.T) {
	c := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.CheckBitsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(types.CheckBitsResponse{
			AgentResponse: types.AgentResponse{Success: true},
			IsExisting:    req.Path == "/pool/a/a.img",
		})
	})

	ok, err := c.CheckBitsExistence(context.Background(), "/pool/a/a.img")
	require.NoError(t, err)
	assert.True(t, ok)
}
