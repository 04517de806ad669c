package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// isolateEnv clears the variables config.Load reads so tests see defaults.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CORPUSD_PORT", "CORPUSD_ROOT", "CORPUSD_CONVERTER", "CORPUSD_CONVERTER_TIMEOUT",
		"CORPUSD_WATCH_DEBOUNCE", "CORPUSD_TLS_CERT", "CORPUSD_TLS_KEY", "CORPUSD_ALLOWED_ORIGINS",
		"DATABASE_URL", "NATS_URL", "NATS_TOKEN", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func fakeConverter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converters need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "cml")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write converter: %v", err)
	}
	return path
}

func corpusRoot(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("app: hello"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if cmd.Use != "corpusd" {
		t.Errorf("Use = %q, want %q", cmd.Use, "corpusd")
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("descriptions should not be empty")
	}

	for _, name := range []string{"serve", "scan", "convert", "version"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"log-level", "root", "converter"} {
		t.Run(name, func(t *testing.T) {
			flag := cmd.PersistentFlags().Lookup(name)
			if flag == nil {
				t.Fatalf("--%s flag not found", name)
			}
			if flag.DefValue != "" {
				t.Errorf("--%s default = %q, want empty", name, flag.DefValue)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"log", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	isolateEnv(t)

	_, _, err := execute(t, "", "--log-level", "loud", "version")

	if err == nil || !strings.Contains(err.Error(), "a valid log level must be provided") {
		t.Fatalf("error = %v, want invalid log level", err)
	}
}

func TestVersionCmd_Output(t *testing.T) {
	isolateEnv(t)
	original := version
	version = "1.2.3"
	defer func() { version = original }()

	stdout, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(stdout, "corpusd 1.2.3") {
		t.Errorf("output = %q, want version string", stdout)
	}
}

func TestScanCmd_PrintsCorpus(t *testing.T) {
	isolateEnv(t)
	bin := fakeConverter(t, `cat >/dev/null
echo '{"conversation_name":"greeting","messages":[]}'`)
	root := corpusRoot(t, "b.cml", "a/c.cml")

	stdout, _, err := execute(t, "", "scan", "--root", root, "--converter", bin)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got struct {
		Conversations []struct {
			Filename string `json:"filename"`
			Name     string `json:"conversation_name"`
		} `json:"conversations"`
		Slots []json.RawMessage `json:"slots"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("stdout is not a corpus: %v\n%s", err, stdout)
	}
	if len(got.Conversations) != 2 {
		t.Fatalf("conversations = %d, want 2", len(got.Conversations))
	}
	if got.Conversations[0].Filename != "a/c.cml" || got.Conversations[1].Filename != "b.cml" {
		t.Errorf("filenames = %q, %q; want lexical walk order", got.Conversations[0].Filename, got.Conversations[1].Filename)
	}
	if got.Slots == nil {
		t.Error("slots should be an empty array, not null")
	}
}

func TestScanCmd_WritesOutFile(t *testing.T) {
	isolateEnv(t)
	bin := fakeConverter(t, `cat >/dev/null
echo '{"conversation_name":"greeting","messages":[]}'`)
	root := corpusRoot(t, "a.cml")
	out := filepath.Join(t.TempDir(), "corpus.json")

	stdout, _, err := execute(t, "", "scan", "--root", root, "--converter", bin, "--out", out)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read out file: %v", err)
	}
	if !strings.Contains(string(data), `"a.cml"`) {
		t.Errorf("out file = %s, want conversation a.cml", data)
	}
}

func TestScanCmd_OutputWriteFailureExitsNonZero(t *testing.T) {
	isolateEnv(t)
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	bin := fakeConverter(t, `cat >/dev/null
echo '{"conversation_name":"greeting","messages":[]}'`)
	root := corpusRoot(t, "a.cml")

	_, _, err := execute(t, "", "scan", "--root", root, "--converter", bin, "--out", "/dev/full")

	if err == nil || errors.Is(err, errReported) {
		t.Fatalf("error = %v, want output failure", err)
	}
}

func TestScanCmd_ReportsConverterFailure(t *testing.T) {
	isolateEnv(t)
	bin := fakeConverter(t, `cat >/dev/null
echo 'unexpected token' >&2
exit 1`)
	root := corpusRoot(t, "a.cml")

	stdout, stderr, err := execute(t, "", "scan", "--root", root, "--converter", bin, "--log-level", "error")
	if !errors.Is(err, errReported) {
		t.Fatalf("error = %v, want errReported", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}

	// stderr interleaves log lines with the error object; only the latter has a status.
	type response struct {
		Status int    `json:"status"`
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	var resp response
	dec := json.NewDecoder(strings.NewReader(stderr))
	for dec.More() {
		var v response
		if err := dec.Decode(&v); err != nil {
			t.Fatalf("decode stderr: %v\n%s", err, stderr)
		}
		if v.Status != 0 {
			resp = v
		}
	}
	if resp.Status != 400 || resp.Error != "ParserError" {
		t.Errorf("response = %+v, want 400 ParserError", resp)
	}
	if !strings.Contains(resp.Detail, "unexpected token") {
		t.Errorf("detail = %q, want converter stderr", resp.Detail)
	}
}

func TestConvertCmd(t *testing.T) {
	isolateEnv(t)
	bin := fakeConverter(t, `[ "$1" = "--json-to-cml" ] || exit 3
printf 'app: '
cat`)

	stdout, _, err := execute(t, `{"conversation_name":"greeting"}`, "convert", "--converter", bin)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if stdout != `app: {"conversation_name":"greeting"}` {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestConvertCmd_RejectsInvalidJSON(t *testing.T) {
	isolateEnv(t)

	_, _, err := execute(t, "{not json", "convert", "--converter", "/nonexistent")

	if err == nil || errors.Is(err, errReported) {
		t.Fatalf("error = %v, want input validation error", err)
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	isolateEnv(t)

	_, _, err := execute(t, "", "sacn")

	if err == nil || !strings.Contains(err.Error(), "scan") {
		t.Fatalf("error = %v, want suggestion for scan", err)
	}
}
