package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw    string
		scheme string
		path   string
	}{
		{"file:///210/210_1567702120.pdf", SchemeFile, "/210/210_1567702120.pdf"},
		{"file://localhost/data/book.epub", SchemeFile, "/data/book.epub"},
		{"s3://210/210_1567702120_5d713c68c4fbc.pdf", SchemeS3, "210/210_1567702120_5d713c68c4fbc.pdf"},
		{"S3://100/nested/book.epub", SchemeS3, "100/nested/book.epub"},
		{"https://cdn.example.com/books/book.epub", SchemeHTTPS, "/books/book.epub"},
		{"./book.epub", SchemeFile, "book.epub"},
		{"/tmp/books/../book.pdf", SchemeFile, "/tmp/book.pdf"},
	}
	for _, tt := range tests {
		loc, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		if loc.Scheme != tt.scheme || loc.Path != tt.path {
			t.Errorf("Parse(%q) = %s %s, want %s %s", tt.raw, loc.Scheme, loc.Path, tt.scheme, tt.path)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/book.pdf", "s3://", "mailto://"} {
		if _, err := Parse(raw); !errors.Is(err, ErrUnsupportedScheme) {
			t.Errorf("Parse(%q) = %v, want ErrUnsupportedScheme", raw, err)
		}
	}
}

func TestFetchFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "book.pdf")
	if err := os.WriteFile(p, []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &Resolver{}
	loc, err := Parse("file://" + p)
	if err != nil {
		t.Fatal(err)
	}
	f, err := r.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	if f.Path != p || f.Remote {
		t.Fatalf("got %+v", f)
	}
	if err := f.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatal("local source must not be removed")
	}

	loc, _ = Parse("file:///does/not/exist.pdf")
	if _, err := r.Fetch(context.Background(), loc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

type fakeS3 struct {
	objects map[string]string
	bucket  string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = *in.Bucket
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestFetchS3(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{
		"100/100_1393948651.pdf": "%PDF-1.4",
		"100/empty.pdf":          "",
	}}
	r := &Resolver{Bucket: "books", S3: s3c, TempDir: t.TempDir()}

	loc, _ := Parse("s3://100/100_1393948651.pdf")
	f, err := r.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	if s3c.bucket != "books" {
		t.Fatalf("got bucket %q", s3c.bucket)
	}
	if filepath.Base(f.Path) != "100_1393948651.pdf" || !f.Remote {
		t.Fatalf("got %+v", f)
	}
	b, err := os.ReadFile(f.Path)
	if err != nil || string(b) != "%PDF-1.4" {
		t.Fatalf("got %q %v", b, err)
	}
	if err := f.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("downloaded source not removed")
	}

	for _, raw := range []string{"s3://100/missing.pdf", "s3://100/empty.pdf"} {
		loc, _ := Parse(raw)
		if _, err := r.Fetch(context.Background(), loc); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch(%s) = %v, want ErrNotFound", raw, err)
		}
	}
}

func TestFetchS3KeepsExistingFiles(t *testing.T) {
	tmp := t.TempDir()
	existing := filepath.Join(tmp, "book.pdf")
	if err := os.WriteFile(existing, []byte("user data"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &Resolver{Bucket: "books", S3: &fakeS3{objects: map[string]string{"210/book.pdf": "%PDF"}}, TempDir: tmp}
	loc, _ := Parse("s3://210/book.pdf")

	first, err := r.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	if first.Path == second.Path || first.Path == existing {
		t.Fatalf("downloads share a path: %s %s", first.Path, second.Path)
	}
	if filepath.Base(first.Path) != "book.pdf" {
		t.Fatalf("got %s", first.Path)
	}
	for _, f := range []*Fetched{first, second} {
		if err := f.Cleanup(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Dir(f.Path)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("download dir %s not removed", filepath.Dir(f.Path))
		}
	}
	b, err := os.ReadFile(existing)
	if err != nil || string(b) != "user data" {
		t.Fatalf("existing file changed: %q %v", b, err)
	}
}

func TestFetchS3WithoutBucket(t *testing.T) {
	r := &Resolver{S3: &fakeS3{}}
	loc, _ := Parse("s3://100/book.pdf")
	if _, err := r.Fetch(context.Background(), loc); !errors.Is(err, ErrNoBucket) {
		t.Fatalf("got %v", err)
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/books/book.epub":
			_, _ = w.Write([]byte("epub"))
		case "/broken.epub":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := &Resolver{HTTP: srv.Client(), TempDir: t.TempDir()}
	loc, err := Parse(srv.URL + "/books/book.epub")
	if err != nil {
		t.Fatal(err)
	}
	f, err := r.Fetch(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Cleanup()
	if filepath.Base(f.Path) != "book.epub" {
		t.Fatalf("got %s", f.Path)
	}

	loc, _ = Parse(srv.URL + "/missing.epub")
	if _, err := r.Fetch(context.Background(), loc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	loc, _ = Parse(srv.URL + "/broken.epub")
	if _, err := r.Fetch(context.Background(), loc); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want status error", err)
	}
}
