package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idshield/internal/shield/cipher"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestEncodeDecode(t *testing.T) {
	out, _, err := runCmd(t, "", "encode", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "01001000 01101001\n", out)

	out, errOut, err := runCmd(t, "", "decode", "01001000 0110 01101001")
	require.NoError(t, err)
	assert.Equal(t, "Hi\n", out)
	assert.Contains(t, errOut, "dropped 1")
}

func TestTokenAndParse(t *testing.T) {
	out, _, err := runCmd(t, "", "token", "--field", "name=John Smith", "-f", "age=28")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(token, "eman:"))

	out, _, err = runCmd(t, token, "parse", "-")
	require.NoError(t, err)
	assert.Equal(t, "age=28\nname=John Smith\n", out)

	_, _, err = runCmd(t, "", "token", "--field", "novalue")
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealed, _, err := runCmd(t, "", "seal", "--passphrase", "pw", "--iterations", "64", "eman:01001000")
	require.NoError(t, err)

	var env cipher.Envelope
	require.NoError(t, json.Unmarshal([]byte(sealed), &env))
	assert.Equal(t, cipher.AlgoChaCha20, env.Algo)

	out, _, err := runCmd(t, sealed, "open", "--passphrase", "pw", "--iterations", "64")
	require.NoError(t, err)
	assert.Equal(t, "eman:01001000\n", out)

	_, _, err = runCmd(t, sealed, "open", "--passphrase", "wrong", "--iterations", "64")
	assert.ErrorIs(t, err, cipher.ErrIntegrity)
}

func TestLegacySealNeedsLegacyOpen(t *testing.T) {
	sealed, _, err := runCmd(t, "", "seal", "-p", "pw", "--iterations", "64", "--legacy", "token")
	require.NoError(t, err)

	_, _, err = runCmd(t, sealed, "open", "-p", "pw", "--iterations", "64")
	assert.ErrorIs(t, err, cipher.ErrLegacyDisabled)

	out, _, err := runCmd(t, sealed, "open", "-p", "pw", "--iterations", "64", "--legacy")
	require.NoError(t, err)
	assert.Equal(t, "token\n", out)
}

func TestSealRequiresPassphrase(t *testing.T) {
	t.Setenv(passphraseEnv, "")
	_, _, err := runCmd(t, "", "seal", "token")
	assert.ErrorContains(t, err, "passphrase is required")
}

func TestSubmit(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shield/submit", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"duplicate":false}`))
	}))
	defer srv.Close()

	out, _, err := runCmd(t, `{"salt":"x"}`, "submit", "--url", srv.URL+"/", "--fingerprint", "fp", "-")
	require.NoError(t, err)
	assert.Equal(t, "{\"duplicate\":false}\n", out)
	assert.JSONEq(t, `"fp"`, string(got["fingerprint"]))
	assert.JSONEq(t, `{"salt":"x"}`, string(got["envelope"]))

	_, _, err = runCmd(t, "not json", "submit", "--url", srv.URL, "--fingerprint", "fp", "-")
	assert.Error(t, err)
}
