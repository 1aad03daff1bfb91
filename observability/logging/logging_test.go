package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRewritesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, " tokensaled ", "test")
	logger.Info("contribution accepted",
		slog.String("Authorization", "Bearer abc"),
		slog.String("idempotency_key", "k-1"),
		slog.Int("jwt", 7),
		slog.String("phase", "presale"),
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "contribution accepted", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "tokensaled", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["Authorization"])
	require.Equal(t, RedactedValue, line["idempotency_key"])
	require.Equal(t, RedactedValue, line["jwt"])
	require.Equal(t, "presale", line["phase"])
	require.Contains(t, line, "timestamp")
	slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func TestSensitiveKeys(t *testing.T) {
	require.NotNil(t, Options{}.Writer())
	require.True(t, IsSensitive("Idempotency-Key"))
	require.True(t, IsSensitive(" JWT.Secret "))
	require.False(t, IsSensitive("participant"))
	require.Contains(t, SensitiveKeys(), "authorization")
	require.Equal(t, "", MaskValue(" "))
	require.Equal(t, RedactedValue, MaskValue("secret"))
}
