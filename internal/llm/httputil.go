package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fluidmcp/gateway/internal/errs"
)

func jsonReader(payload json.RawMessage) io.Reader {
	if len(payload) == 0 {
		return bytes.NewReader([]byte("{}"))
	}
	return bytes.NewReader(payload)
}

func readJSONBody(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.MCPProtocol, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(body)))
	}
	return json.RawMessage(body), nil
}

// resolveEnvRef resolves a "${NAME}" style reference against the process
// environment, per spec.md §4.8: "unresolved -> kind=missing-credential
// at startup".
func resolveEnvRef(ref string) (string, error) {
	name := ref
	if strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}") {
		name = ref[2 : len(ref)-1]
	}
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("env var %s is unset", name)
	}
	return val, nil
}
