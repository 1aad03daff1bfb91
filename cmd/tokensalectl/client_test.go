package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokensale/config"
	"tokensale/core/types"
	"tokensale/native/crowdsale"
	"tokensale/observability/eventlog"
)

func TestPushAllowlistChunksGroups(t *testing.T) {
	var (
		mu     sync.Mutex
		keys   []string
		counts []int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/caps", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body struct {
			Participants []string `json:"participants"`
			Cap          string   `json:"cap"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		counts = append(counts, len(body.Participants))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updated":1}`))
	}))
	defer server.Close()

	participants := make([]common.Address, allowlistChunk+5)
	for i := range participants {
		participants[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	groups := []config.CapGroup{
		{Name: "seed", Cap: big.NewInt(100), Participants: participants},
		{Name: "public", Cap: big.NewInt(10), Participants: participants[:1]},
	}
	updated, err := newClient(server.URL+"/", "tok").pushAllowlist(context.Background(), groups, "run-1")
	require.NoError(t, err)
	require.Equal(t, allowlistChunk+6, updated)
	require.Equal(t, []int{allowlistChunk, 5, 1}, counts)
	require.Equal(t, []string{
		"allowlist-run-1-seed-0",
		fmt.Sprintf("allowlist-run-1-seed-%d", allowlistChunk),
		"allowlist-run-1-public-0",
	}, keys)
}

func TestClientDecodesGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_settled","message":"crowdsale: already settled"}}`))
	}))
	defer server.Close()

	_, err := newClient(server.URL, "tok").settle(context.Background())
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.Status)
	require.Equal(t, "already_settled", apiErr.Code)
}

func TestMintTokenUsesConfiguredSecret(t *testing.T) {
	path := t.TempDir() + "/tokensale.toml"
	t.Setenv("TOKENSALE_JWT_SECRET", "shared")
	token, err := mintToken(path, "0x00000000000000000000000000000000000000c1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = mintToken(path, "not-an-address")
	require.Error(t, err)
}

func TestStatusCommandPrintsGatewayView(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stage":"presale","raised":"10"}`))
	}))
	defer server.Close()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "--endpoint", server.URL, "--token", ""})
	require.NoError(t, cmd.Execute())

	var view map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	require.Equal(t, "presale", view["stage"])
}

func TestTokenCommandRequiresAddress(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--token", ""})
	require.ErrorContains(t, cmd.Execute(), "--as is required")
}

func TestExportCommandWritesReport(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.db")
	store, err := eventlog.Open(eventsPath)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), &types.Event{
		Type:       crowdsale.EventTypeContribution,
		Attributes: map[string]string{"id": "r-1", "beneficiary": "0xA", "accepted": "10"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"export", "--events", eventsPath, "--out", filepath.Join(dir, "out"), "--name", "run"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "wrote 1 rows")
	require.FileExists(t, filepath.Join(dir, "out", "run.csv"))
	require.FileExists(t, filepath.Join(dir, "out", "run.parquet"))
}
