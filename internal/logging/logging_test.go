package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/logging"
)

func TestRedactMasksBearerTokens(t *testing.T) {
	out := logging.Redact("Authorization: Bearer abc123.def-456")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "abc123")
}

func TestRedactMasksKeyValueSecrets(t *testing.T) {
	out := logging.Redact(`exchanging code client_secret=s3cret-value&grant_type=authorization_code`)
	assert.NotContains(t, out, "s3cret-value")
	assert.Contains(t, out, "grant_type=authorization_code")
}

func TestRedactMasksAPIKeyShapedTokens(t *testing.T) {
	out := logging.Redact("using key sk-abcdefghijklmnop for this request")
	assert.NotContains(t, out, "sk-abcdefghijklmnop")
}

func TestRedactLeavesOrdinaryTextAlone(t *testing.T) {
	msg := "server srv-1 transitioned to running"
	assert.Equal(t, msg, logging.Redact(msg))
}

func TestNewRedactsMessageAndAttrsInOutput(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(slog.NewJSONHandler(&buf, nil))
	log.Info("issued Bearer sekret-token-value", "verifier", "code=abc123topsecret")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, buf.String(), "sekret-token-value")
	assert.NotContains(t, buf.String(), "abc123topsecret")
	assert.Contains(t, rec["msg"], "[REDACTED]")
}

func TestWithAttrsPropagatesRedaction(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(slog.NewJSONHandler(&buf, nil)).With("meta", "client_secret=leak123value")
	log.Info("request completed")

	assert.NotContains(t, buf.String(), "leak123value")
}
