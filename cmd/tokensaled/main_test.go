package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokensale/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EventLogPath = filepath.Join(cfg.DataDir, "events.db")
	cfg.IdempotencyPath = filepath.Join(cfg.DataDir, "idempotency.db")
	cfg.Campaign = config.Campaign{
		OpeningTime:    "4102444800",
		ClosingTime:    "4105123200",
		PreSaleRate:    "1666",
		SoftCapRate:    "1250",
		HardCapRate:    "1000",
		PreSaleCap:     "100",
		SoftCap:        "500",
		HardCap:        "1000",
		Wallet:         "0x0000000000000000000000000000000000000b01",
		CompanyReserve: "0x0000000000000000000000000000000000000b02",
		MiningPool:     "0x0000000000000000000000000000000000000b03",
		ICOBounty:      "0x0000000000000000000000000000000000000b04",
		GitHubBounty:   "0x0000000000000000000000000000000000000b05",
		Owner:          "0x0000000000000000000000000000000000000a01",
		Authority:      "0x0000000000000000000000000000000000000a02",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewAppServesStatus(t *testing.T) {
	cfg := testConfig(t)
	app, err := newApp(cfg, []byte("secret"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer app.Close()

	res := httptest.NewRecorder()
	app.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &status))
	require.Equal(t, "not_started", status["stage"])

	res = httptest.NewRecorder()
	app.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/token", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var token map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &token))
	require.Equal(t, "QUANT", token["symbol"])
	require.Equal(t, common.HexToAddress(cfg.Campaign.Authority).Hex(), token["owner"])
}

func TestNewAppReopensDataDir(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	first, err := newApp(cfg, []byte("secret"), logger)
	require.NoError(t, err)
	first.Close()

	second, err := newApp(cfg, []byte("secret"), logger)
	require.NoError(t, err)
	second.Close()

	cfg.Campaign.HardCap = "2000"
	_, err = newApp(cfg, []byte("secret"), logger)
	require.Error(t, err)
}
