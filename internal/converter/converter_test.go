package converter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/corpusd/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConverter writes an executable shell script standing in for the converter.
func fakeConverter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converters need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "cml")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greeting.cml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var convErr *Error
	require.True(t, errors.As(err, &convErr), "expected *converter.Error, got %v", err)
	require.Equal(t, kind, convErr.Kind)
	return convErr
}

func TestParseFile_ReturnsConverterJSON(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
echo '{"conversation_name":"greeting","messages":[]}'`)
	c := New(bin, testLogger())

	raw, err := c.ParseFile(context.Background(), writeSource(t, "app: hello"))

	require.NoError(t, err)
	assert.JSONEq(t, `{"conversation_name":"greeting","messages":[]}`, string(raw))
}

func TestParseFile_StreamsFileToStdin(t *testing.T) {
	bin := fakeConverter(t, `cat`)
	c := New(bin, testLogger())

	raw, err := c.ParseFile(context.Background(), writeSource(t, `{"echo":"from stdin"}`))

	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"from stdin"}`, string(raw))
}

func TestParseFile_NoModeFlagWhenParsing(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
echo "{\"argc\":$#}"`)
	c := New(bin, testLogger())

	raw, err := c.ParseFile(context.Background(), writeSource(t, "x"))

	require.NoError(t, err)
	assert.JSONEq(t, `{"argc":0}`, string(raw))
}

func TestParseFile_MissingFile(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	bin := fakeConverter(t, "touch "+marker)
	c := New(bin, testLogger())
	missing := filepath.Join(t.TempDir(), "nope.cml")

	_, err := c.ParseFile(context.Background(), missing)

	convErr := requireKind(t, err, KindFileNotFound)
	assert.Equal(t, missing, convErr.Detail)
	assert.Equal(t, 404, convErr.Status())
	assert.NoFileExists(t, marker, "converter must not run for an unreadable file")
}

func TestParseFile_UnreadableSourceIsFileNotFound(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
echo '{}'`)
	c := New(bin, testLogger())
	dir := t.TempDir()

	// Opening a directory succeeds but reading it fails.
	_, err := c.ParseFile(context.Background(), dir)

	convErr := requireKind(t, err, KindFileNotFound)
	assert.Equal(t, dir, convErr.Detail)
}

func TestParseFile_NonZeroExitIsParserError(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
echo "line 3: unexpected token" >&2
exit 2`)
	c := New(bin, testLogger())

	_, err := c.ParseFile(context.Background(), writeSource(t, "broken"))

	convErr := requireKind(t, err, KindParser)
	assert.Equal(t, "line 3: unexpected token\n", convErr.Detail)
	assert.Equal(t, 400, convErr.Status())
}

func TestParseFile_NonJSONOutput(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
printf 'not json at all'`)
	c := New(bin, testLogger())

	_, err := c.ParseFile(context.Background(), writeSource(t, "x"))

	convErr := requireKind(t, err, KindParserResponseInvalid)
	assert.Equal(t, "not json at all", convErr.Detail)
	assert.Equal(t, 500, convErr.Status())
}

func TestParseFile_EmptyOutputIsInvalid(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null`)
	c := New(bin, testLogger())

	_, err := c.ParseFile(context.Background(), writeSource(t, "x"))

	requireKind(t, err, KindParserResponseInvalid)
}

func TestParseFile_MissingBinaryIsParserError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent-cml"), testLogger())

	_, err := c.ParseFile(context.Background(), writeSource(t, "x"))

	convErr := requireKind(t, err, KindParser)
	assert.NotEmpty(t, convErr.Detail)
}

func TestParseFile_Timeout(t *testing.T) {
	bin := fakeConverter(t, `exec sleep 5`)
	c := New(bin, testLogger(), WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := c.ParseFile(context.Background(), writeSource(t, "x"))

	convErr := requireKind(t, err, KindParser)
	assert.Contains(t, convErr.Detail, context.DeadlineExceeded.Error())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestParse_FromReader(t *testing.T) {
	bin := fakeConverter(t, `cat`)
	c := New(bin, testLogger())

	raw, err := c.Parse(context.Background(), strings.NewReader(`[1,2,3]`))

	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(raw))
}

func TestGenerate_PassesFlagAndPayload(t *testing.T) {
	bin := fakeConverter(t, `if [ "$1" != "--json-to-cml" ]; then
  echo "missing flag" >&2
  exit 1
fi
printf 'generated: '
cat`)
	c := New(bin, testLogger())

	out, err := c.Generate(context.Background(), map[string]string{"conversation_name": "greeting"})

	require.NoError(t, err)
	assert.Equal(t, `generated: {"conversation_name":"greeting"}`, out)
}

func TestGenerate_RawPayloadIsSentVerbatim(t *testing.T) {
	bin := fakeConverter(t, `cat`)
	c := New(bin, testLogger())

	out, err := c.Generate(context.Background(), json.RawMessage(`{"b":1,"a":2}`))

	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":2}`, out)
}

func TestGenerate_NonZeroExitIsGeneratorError(t *testing.T) {
	bin := fakeConverter(t, `cat >/dev/null
echo "bad payload" >&2
exit 1`)
	c := New(bin, testLogger())

	_, err := c.Generate(context.Background(), map[string]any{})

	convErr := requireKind(t, err, KindGenerator)
	assert.Equal(t, "bad payload\n", convErr.Detail)
}

func TestGenerate_UnencodablePayload(t *testing.T) {
	c := New("unused", testLogger())

	_, err := c.Generate(context.Background(), make(chan int))

	require.Error(t, err)
	var convErr *Error
	assert.False(t, errors.As(err, &convErr))
}

func TestConverter_RecordsMetrics(t *testing.T) {
	bin := fakeConverter(t, `cat`)
	m := metrics.New(prometheus.NewRegistry())
	c := New(bin, testLogger(), WithMetrics(m))

	_, err := c.Parse(context.Background(), strings.NewReader(`{}`))
	require.NoError(t, err)
	_, err = c.Parse(context.Background(), strings.NewReader(`nope`))
	require.Error(t, err)
	_, err = c.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("parse", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("parse", "ParserResponseInvalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("parse", "FileNotFound")))
}

func TestBinaryName(t *testing.T) {
	assert.Equal(t, "cml-windows.exe", BinaryName("windows"))
	assert.Equal(t, "cml-linux", BinaryName("linux"))
	assert.Equal(t, "cml", BinaryName("darwin"))
}
