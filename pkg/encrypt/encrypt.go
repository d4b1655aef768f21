// Package encrypt drives the external lcpencrypt executable: it validates the
// tool and license server settings, builds the argument list, runs the tool and
// turns its exit status and standard output into a Response or an *Error.
package encrypt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	DefaultProfile = "basic"
	maskedPassword = "********"
)

type Config struct {
	ToolPath              string
	LicenseServerEndpoint string
	LicenseServerUsername string
	LicenseServerPassword string
	Profile               string
	// TempDir receives protected files when a Request has no Output.
	// Defaults to os.TempDir().
	TempDir string
}

type Request struct {
	Input               string
	ContentID           string
	Output              string
	SendToLicenseServer bool
}

// Response is the JSON object lcpencrypt prints on success.
type Response struct {
	ContentID   string `json:"content-id" yaml:"content-id" toml:"content-id"`
	ContentKey  string `json:"content-encryption-key" yaml:"content-encryption-key" toml:"content-encryption-key"`
	Location    string `json:"protected-content-location" yaml:"protected-content-location" toml:"protected-content-location"`
	Length      int64  `json:"protected-content-length" yaml:"protected-content-length" toml:"protected-content-length"`
	SHA256      string `json:"protected-content-sha256" yaml:"protected-content-sha256" toml:"protected-content-sha256"`
	Disposition string `json:"protected-content-disposition" yaml:"protected-content-disposition" toml:"protected-content-disposition"`
	ContentType string `json:"protected-content-type" yaml:"protected-content-type" toml:"protected-content-type"`
}

type Encrypter struct {
	cfg    Config
	logger *slog.Logger
}

type Option func(*Encrypter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Encrypter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New checks that the tool can be executed and that the license server
// settings are complete before returning an Encrypter.
func New(cfg Config, opts ...Option) (*Encrypter, error) {
	if err := checkTool(cfg.ToolPath); err != nil {
		return nil, err
	}
	if cfg.LicenseServerEndpoint != "" {
		u, err := url.Parse(cfg.LicenseServerEndpoint)
		if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, invalidArgument(CodeInvalidLicenseServer, "the license server endpoint %q is not a valid URL", cfg.LicenseServerEndpoint)
		}
		if cfg.LicenseServerUsername == "" {
			return nil, invalidArgument(CodeMissingCredentials, "the license server username is required")
		}
		if cfg.LicenseServerPassword == "" {
			return nil, invalidArgument(CodeMissingCredentials, "the license server password is required")
		}
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	e := &Encrypter{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func checkTool(path string) error {
	if path == "" {
		return invalidArgument(CodeInvalidTool, "the encrypt tool is not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return invalidArgument(CodeInvalidTool, "the encrypt tool %s does not exist", path)
	}
	if !info.Mode().IsRegular() {
		return invalidArgument(CodeInvalidTool, "the encrypt tool %s is not a file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return invalidArgument(CodeInvalidTool, "the encrypt tool %s is not readable", path)
	}
	_ = f.Close()
	if info.Mode().Perm()&0o111 == 0 {
		return invalidArgument(CodeInvalidTool, "the encrypt tool %s is not executable", path)
	}
	return nil
}

// Config returns the settings the Encrypter was built with.
func (e *Encrypter) Config() Config {
	return e.cfg
}

// DefaultOutput derives where the tool writes the protected file when the
// caller does not choose: the input base name with an extension depending on
// the input format, inside dir.
func DefaultOutput(dir, input string) string {
	ext := filepath.Ext(input)
	name := strings.TrimSuffix(filepath.Base(input), ext)
	var suffix string
	switch strings.ToLower(ext) {
	case ".pdf":
		suffix = ".lcpdf"
	case ".epub":
		suffix = ".lcp"
	default:
		suffix = ".encrypted"
	}
	out := filepath.Join(dir, name+suffix)
	if out == filepath.Clean(input) {
		// never let the tool overwrite its own input
		out = filepath.Join(dir, name+suffix+suffix)
	}
	return out
}

// Args builds the tool arguments for req. Output must already be resolved.
func (e *Encrypter) Args(req Request) []string {
	args := []string{"-input", req.Input, "-profile", e.cfg.Profile}
	if req.SendToLicenseServer {
		args = append(args,
			"-lcpsv", e.cfg.LicenseServerEndpoint,
			"-login", e.cfg.LicenseServerUsername,
			"-password", e.cfg.LicenseServerPassword,
		)
	}
	if req.ContentID != "" {
		args = append(args, "-contentid", req.ContentID)
	}
	if req.Output != "" {
		args = append(args, "-output", req.Output)
	}
	return args
}

func maskArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked)-1; i++ {
		if masked[i] == "-password" {
			masked[i+1] = maskedPassword
		}
	}
	return masked
}

// Run protects req.Input with the external tool.
func (e *Encrypter) Run(ctx context.Context, req Request) (*Response, error) {
	f, err := os.Open(req.Input)
	if err != nil {
		return nil, &Error{
			Kind:    ErrFilesystem,
			Code:    CodeInputNotReadable,
			Message: fmt.Sprintf("the input path %s is not readable", req.Input),
			Err:     err,
		}
	}
	_ = f.Close()

	if req.SendToLicenseServer && e.cfg.LicenseServerEndpoint == "" {
		return nil, invalidArgument(CodeLicenseServerParams, "no license server is configured")
	}
	if req.Output == "" {
		req.Output = DefaultOutput(e.cfg.TempDir, req.Input)
	}

	args := e.Args(req)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.cfg.ToolPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, &Error{Kind: ErrEncrypt, Code: -1, Message: "could not run the encrypt tool", Err: runErr}
	}

	lines := splitLines(stdout.Bytes())
	e.logger.Info("run encrypt command",
		slog.String("tool", e.cfg.ToolPath),
		slog.Any("args", maskArgs(args)),
		slog.Int("exitCode", exitCode),
		slog.Any("output", lines),
	)

	if exitCode != 0 {
		last := lastLine(lines)
		if last == "" {
			last = lastLine(splitLines(stderr.Bytes()))
		}
		return nil, toolFailure(exitCode, last, runErr)
	}
	return ParseOutput(lines)
}

// ParseOutput decodes the JSON object in the tool's output lines. Lines before
// the object, such as the license server notification notice, are ignored.
func ParseOutput(lines []string) (*Response, error) {
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, &Error{Kind: ErrEncrypt, Message: "no JSON in tool output"}
	}
	var res Response
	if err := json.Unmarshal([]byte(strings.Join(lines[start:], "")), &res); err != nil {
		return nil, &Error{Kind: ErrEncrypt, Message: "could not decode tool output", Err: err}
	}
	return &res, nil
}

func splitLines(b []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func lastLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
