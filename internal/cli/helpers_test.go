package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// testEnv points the configuration at temp dirs through the environment.
func testEnv(t *testing.T) (stagingPath, durableRoot string) {
	t.Helper()
	stagingPath = filepath.Join(t.TempDir(), "staging")
	durableRoot = filepath.Join(t.TempDir(), "durable")
	t.Setenv("DUOFUSION_STAGING_PATH", stagingPath)
	t.Setenv("DUOFUSION_DURABLE_ROOT", durableRoot)
	t.Setenv("DUOFUSION_STARTUP_MARGIN", "0s")
	return stagingPath, durableRoot
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return out, cmd.Execute()
}

// jsonResponse decodes a CLIResponse whose Data is decoded into data.
func jsonResponse(t *testing.T, out *bytes.Buffer, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &raw), "output: %s", out.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
