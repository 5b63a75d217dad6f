package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-nfc-bridge/config"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	out, err := run(t, "decode", "02656e4869")
	require.NoError(t, err)
	assert.Equal(t, "language: en\nencoding: UTF-8\ntext: Hi\n", out)

	out, err = run(t, "decode", "--format=base64", "AmVuSGk=")
	require.NoError(t, err)
	assert.Contains(t, out, "text: Hi")

	out, err = run(t, "decode", "--message", "d1:01:05:54:02:65:6e:48:69")
	require.NoError(t, err)
	assert.Contains(t, out, "text: Hi")

	out, err = run(t, "decode", "--tlv", "0309d101055402656e4869fe")
	require.NoError(t, err)
	assert.Contains(t, out, "text: Hi")
}

func TestDecodeCommand_Errors(t *testing.T) {
	_, err := run(t, "decode", "0265")
	assert.ErrorIs(t, err, nfc.ErrTruncatedLanguageCode)

	_, err = run(t, "decode", "zz")
	assert.ErrorContains(t, err, "invalid hex")

	_, err = run(t, "decode", "--message", "--tlv", "00")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, "decode", "--fallback=hex", "00")
	assert.ErrorContains(t, err, "unknown fallback")
}

func TestDecodeCommand_FallbackJSON(t *testing.T) {
	out, err := run(t, "decode", "--fallback=base64", "--json", "0265")
	require.NoError(t, err)

	var resp protocol.DecodeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Recovered)
	assert.Equal(t, "AmU=", resp.Text)
	assert.Equal(t, "truncated_language_code", resp.ErrorCode)
}

func TestEncodeCommand(t *testing.T) {
	out, err := run(t, "encode", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "02656e4869\n", out)

	out, err = run(t, "encode", "--encoding=utf-16", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "82656efeff00480069\n", out)

	out, err = run(t, "encode", "--wrap=message", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "d101055402656e4869\n", out)

	out, err = run(t, "encode", "--wrap=tlv", "--format=base64", "Hi")
	require.NoError(t, err)
	assert.Equal(t, "AwnRAQVUAmVuSGn+\n", out)

	_, err = run(t, "encode", "--lang", strings.Repeat("x", 64), "Hi")
	assert.ErrorIs(t, err, nfc.ErrLanguageCodeTooLong)

	_, err = run(t, "encode", "--wrap=ndef", "Hi")
	assert.ErrorContains(t, err, "unknown wrap")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoded, err := run(t, "encode", "--lang=ja", "--encoding=utf-16", "--wrap=tlv", "こんにちは")
	require.NoError(t, err)

	out, err := run(t, "decode", "--tlv", strings.TrimSpace(encoded))
	require.NoError(t, err)
	assert.Equal(t, "language: ja\nencoding: UTF-16\ntext: こんにちは\n", out)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")

	out, err := run(t, "config", "init", "--config", path, "--generate-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "API secret: ")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Server.APISecret, 32)

	_, err = run(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	out, err = run(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 18080")
	assert.Contains(t, out, "no_message_text: no NDEF message found")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--port=9100", "--fallback=none", "--no-mdns", "--log-level=debug"}))

	cfg := config.DefaultConfig()
	require.NoError(t, applyServeFlags(cmd, cfg))
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Decoder.Fallback)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0", cfg.Server.Bind, "unset flags keep config values")

	bad := newServeCommand()
	require.NoError(t, bad.ParseFlags([]string{"--cert-file=cert.pem"}))
	assert.ErrorContains(t, applyServeFlags(bad, config.DefaultConfig()), "key_file")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "davi-nfc-bridge")
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "decode", "encode", "config", "version"} {
		assert.Contains(t, names, want)
	}

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("api-secret"))
}
