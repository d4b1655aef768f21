package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/xebook/readium-encrypt/internal/conf"
	"github.com/xebook/readium-encrypt/internal/db"
	"github.com/xebook/readium-encrypt/internal/tui"
	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/message"
	"github.com/xebook/readium-encrypt/pkg/pipeline"
	"github.com/xebook/readium-encrypt/pkg/source"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"tool", fmt.Errorf("run: %w", &encrypt.Error{Kind: encrypt.ErrEncrypt, Code: 50}), 50},
		{"validation", &encrypt.Error{Kind: encrypt.ErrInvalidArgument, Code: encrypt.CodeInvalidTool}, 10},
		{"scheme", fmt.Errorf("%w: ftp", source.ErrUnsupportedScheme), exitInvalidLocator},
		{"not found", fmt.Errorf("%w: s3://a/b", source.ErrNotFound), exitSourceNotFound},
		{"other", fmt.Errorf("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func testResponse() *encrypt.Response {
	return &encrypt.Response{
		ContentID:   "ce9bf6d3",
		ContentKey:  "a2V5",
		Location:    "/tmp/book.lcp",
		Length:      1024,
		SHA256:      "abc",
		Disposition: "book.lcp",
		ContentType: "application/epub+zip",
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"content-id": "ce9bf6d3"`},
		{"yaml", "content-id: ce9bf6d3"},
		{"toml", "content-id = "},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := render(&buf, tt.format, testResponse()); err != nil {
			t.Fatalf("%s: %v", tt.format, err)
		}
		if !strings.Contains(buf.String(), tt.want) || !strings.Contains(buf.String(), "ce9bf6d3") {
			t.Fatalf("%s: got %s", tt.format, buf.String())
		}
	}
	if err := render(&bytes.Buffer{}, "xml", testResponse()); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRenderRecords(t *testing.T) {
	records := []db.Record{{
		Resource:  message.New("s3://1/a.pdf", "id-1", "k", "/l", 1, "h", "a.lcpdf", "application/pdf+lcp", true),
		UpdatedAt: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := renderRecords(&buf, "table", records); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "id-1") || !strings.Contains(buf.String(), "2024-01-15T09:30:00Z") {
		t.Fatalf("got %s", buf.String())
	}

	buf.Reset()
	if err := renderRecords(&buf, "json", records); err != nil {
		t.Fatal(err)
	}
	var decoded []db.Record
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].Resource.ID() != "id-1" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestWriteConfig(t *testing.T) {
	c := &conf.Config{}
	applyForm(c, tui.InitialModel("/usr/bin/lcpencrypt", "https://lcp.example.com", "user", "secret", "", "books", ""))
	if c.LicenseServer.Profile != "" {
		t.Fatalf("empty profile must not override, got %q", c.LicenseServer.Profile)
	}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := writeConfig(path, c); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("got mode %v", info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back conf.Config
	if err := yaml.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Tool.Path != "/usr/bin/lcpencrypt" || back.S3.Bucket != "books" || back.LicenseServer.Password != "secret" {
		t.Fatalf("got %+v", back)
	}
}

func TestRouter(t *testing.T) {
	c := &conf.Config{Server: conf.ServerConfig{AllowedOrigins: []string{"*"}}}
	comp := &components{pipeline: &pipeline.Pipeline{}}
	r, err := newRouter(context.Background(), c, comp)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(r)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz: got status %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/api/resources")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resources: got status %d", res.StatusCode)
	}
}

func TestBuildPipelineRequiresTool(t *testing.T) {
	if _, err := buildPipeline(context.Background(), &conf.Config{}, false); err == nil {
		t.Fatal("expected error without tool path")
	}
}

const toolJSON = `{"content-id":"ce9bf6d3","content-encryption-key":"a2V5","protected-content-location":"/tmp/book.lcp","protected-content-length":1024,"protected-content-sha256":"abc","protected-content-disposition":"book.lcp","protected-content-type":"application/epub+zip"}`

type cliEnv struct {
	dir      string
	config   string
	lock     string
	argsFile string
}

// newCLIEnv writes a fake encrypt tool and a config file pointing at it.
func newCLIEnv(t *testing.T, stdout string, code int) cliEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}
	dir := t.TempDir()
	env := cliEnv{
		dir:      dir,
		config:   filepath.Join(dir, "config.yaml"),
		lock:     filepath.Join(dir, "run.lock"),
		argsFile: filepath.Join(dir, "args"),
	}
	tool := filepath.Join(dir, "lcpencrypt")
	script := fmt.Sprintf("#!/bin/sh\nfor a in \"$@\"; do echo \"$a\" >> %q; done\ncat <<'EOF'\n%s\nEOF\nexit %d\n", env.argsFile, stdout, code)
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	config := fmt.Sprintf("tool:\n  path: %s\nlockfile: %s\ntempdir: %s\nlog:\n  level: warn\n  format: json\n", tool, env.lock, dir)
	if err := os.WriteFile(env.config, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e cliEnv) input(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	if err := os.WriteFile(p, []byte("epub"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	encryptOutput, encryptContentID, encryptFormat = "", "", "json"
	encryptSend, encryptPublish = false, false
	logLevel, logFormat = "", ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestEncryptCommand(t *testing.T) {
	env := newCLIEnv(t, toolJSON, 0)
	in := env.input(t, "book.epub")

	stdout, _, err := execute(t, "encrypt", "--config", env.config, "--format", "yaml", "--content-id", "ce9bf6d3", in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "content-id: ce9bf6d3") || !strings.Contains(stdout, "protected-content-length: 1024") {
		t.Fatalf("got %s", stdout)
	}
	raw, err := os.ReadFile(env.argsFile)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	want := []string{"-input", in, "-profile", "basic", "-contentid", "ce9bf6d3", "-output", filepath.Join(env.dir, "book.lcp")}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Fatalf("got args %v, want %v", args, want)
	}
	if usage := encryptCmd.Flags().Lookup("output").Usage; !strings.Contains(usage, "tempdir") {
		t.Fatalf("output help does not name the default location: %q", usage)
	}
}

func TestEncryptCommandLocked(t *testing.T) {
	env := newCLIEnv(t, toolJSON, 0)
	in := env.input(t, "book.epub")

	held := flock.New(env.lock)
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not hold lock: %v", err)
	}
	defer held.Unlock()

	stdout, stderr, err := execute(t, "encrypt", "--config", env.config, in)
	if err != nil {
		t.Fatalf("a concurrent run must exit cleanly, got %v", err)
	}
	if stdout != "" {
		t.Fatalf("got output %q", stdout)
	}
	if !strings.Contains(stderr, "already running") {
		t.Fatalf("missing warning, stderr: %q", stderr)
	}
	if _, err := os.Stat(env.argsFile); !os.IsNotExist(err) {
		t.Fatal("tool must not run while the lock is held")
	}
}

func TestEncryptCommandExitStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		source func(env cliEnv, t *testing.T) string
		want   int
	}{
		{"tool error", 50, func(env cliEnv, t *testing.T) string { return env.input(t, "book.pdf") }, 50},
		{"missing source", 0, func(env cliEnv, t *testing.T) string { return filepath.Join(env.dir, "absent.epub") }, exitSourceNotFound},
		{"bad locator", 0, func(env cliEnv, t *testing.T) string { return "ftp://host/book.epub" }, exitInvalidLocator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t, "", tt.code)
			_, _, err := execute(t, "encrypt", "--config", env.config, tt.source(env, t))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCode(err); got != tt.want {
				t.Fatalf("got exit status %d, want %d (%v)", got, tt.want, err)
			}
		})
	}
}
