package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/MikeSquared-Agency/corpusd/internal/metrics"
)

// GenerateFlag switches the converter from parsing to generating.
const GenerateFlag = "--json-to-cml"

// Mode selects the converter's direction.
type Mode int

const (
	// ModeParse reads source text on stdin and writes JSON on stdout.
	ModeParse Mode = iota
	// ModeGenerate reads a JSON payload on stdin and writes source text on stdout.
	ModeGenerate
)

func (m Mode) String() string {
	if m == ModeGenerate {
		return "generate"
	}
	return "parse"
}

func (m Mode) args() []string {
	if m == ModeGenerate {
		return []string{GenerateFlag}
	}
	return nil
}

func (m Mode) failureKind() Kind {
	if m == ModeGenerate {
		return KindGenerator
	}
	return KindParser
}

// BinaryName returns the platform-specific converter executable name.
func BinaryName(goos string) string {
	switch goos {
	case "windows":
		return "cml-windows.exe"
	case "linux":
		return "cml-linux"
	default:
		return "cml"
	}
}

// Converter runs the external converter, one process per call.
type Converter struct {
	binary  string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithTimeout bounds each invocation. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Converter) { c.timeout = d }
}

// WithMetrics records every invocation in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Converter) { c.metrics = m }
}

// New creates a converter for the executable at binary.
func New(binary string, logger *slog.Logger, opts ...Option) *Converter {
	c := &Converter{binary: binary, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Binary returns the executable path this converter invokes.
func (c *Converter) Binary() string {
	return c.binary
}

// sourceReader remembers the first read failure of the input stream so it
// can be reported regardless of how the process exits.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// ParseFile converts the file at path into its JSON document. A file that
// cannot be opened or read yields a FileNotFound error carrying path.
func (c *Converter) ParseFile(ctx context.Context, path string) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Debug("converter source unreadable", "path", path, "error", err)
		c.metrics.ObserveConversion(ModeParse.String(), string(KindFileNotFound), 0)
		return nil, &Error{Kind: KindFileNotFound, Detail: path}
	}
	defer f.Close()

	src := &sourceReader{r: f}
	raw, err := c.Parse(ctx, src)
	if src.err != nil {
		c.logger.Debug("converter source read failed", "path", path, "error", src.err)
		return nil, &Error{Kind: KindFileNotFound, Detail: path}
	}
	return raw, err
}

// Parse converts source text read from r into its JSON document.
func (c *Converter) Parse(ctx context.Context, r io.Reader) (json.RawMessage, error) {
	start := time.Now()
	stdout, err := c.invoke(ctx, ModeParse, r)
	if err == nil && !json.Valid(stdout) {
		err = &Error{Kind: KindParserResponseInvalid, Detail: string(stdout)}
	}
	c.observe(ModeParse, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(stdout), nil
}

// Generate serializes payload as JSON and converts it into source text.
func (c *Converter) Generate(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	start := time.Now()
	stdout, err := c.invoke(ctx, ModeGenerate, bytes.NewReader(data))
	c.observe(ModeGenerate, err, time.Since(start))
	if err != nil {
		return "", err
	}
	return string(stdout), nil
}

// invoke performs exactly one request/response cycle: stdin is streamed in
// and closed, stdout and stderr are buffered until the process exits.
func (c *Converter) invoke(ctx context.Context, mode Mode, input io.Reader) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, mode.args()...)
	cmd.Stdin = input
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	c.logger.Debug("converter exited",
		"mode", mode.String(),
		"exit_code", cmd.ProcessState.ExitCode(),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	if runErr == nil {
		return stdout.Bytes(), nil
	}

	detail := stderr.String()
	var exitErr *exec.ExitError
	if detail == "" || !errors.As(runErr, &exitErr) {
		// The process did not start, was killed, or stdin could not be copied.
		if detail != "" {
			detail += "\n"
		}
		detail += runErr.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			detail += " (" + ctxErr.Error() + ")"
		}
	}
	return nil, &Error{Kind: mode.failureKind(), Detail: detail}
}

func (c *Converter) observe(mode Mode, err error, d time.Duration) {
	outcome := "success"
	var convErr *Error
	if errors.As(err, &convErr) {
		outcome = string(convErr.Kind)
	} else if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveConversion(mode.String(), outcome, d)
}
