package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the part of the S3 client the resolver needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Resolver struct {
	Bucket string
	S3     ObjectGetter
	HTTP   *http.Client
	// TempDir receives downloaded sources. Defaults to os.TempDir().
	TempDir string
	Logger  *slog.Logger
}

// Fetched is a source available on local disk.
type Fetched struct {
	Path   string
	Remote bool
	// dir is the per-run download directory holding Path.
	dir string
}

// Cleanup removes the download directory of a remote source. Local sources
// are left alone.
func (f *Fetched) Cleanup() error {
	if f == nil || !f.Remote || f.dir == "" {
		return nil
	}
	return os.RemoveAll(f.dir)
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Resolver) tempDir() string {
	if r.TempDir != "" {
		return r.TempDir
	}
	return os.TempDir()
}

// Fetch makes loc available as a local file.
func (r *Resolver) Fetch(ctx context.Context, loc Locator) (*Fetched, error) {
	switch loc.Scheme {
	case SchemeFile:
		info, err := os.Stat(loc.Path)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: the file %s not found", ErrNotFound, loc.Path)
		}
		return &Fetched{Path: loc.Path}, nil
	case SchemeS3:
		return r.fetchS3(ctx, loc)
	case SchemeHTTP, SchemeHTTPS:
		return r.fetchHTTP(ctx, loc)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, loc.Raw)
}

func (r *Resolver) fetchS3(ctx context.Context, loc Locator) (*Fetched, error) {
	if r.Bucket == "" || r.S3 == nil {
		return nil, ErrNoBucket
	}
	r.logger().Debug("getObject", slog.String("bucket", r.Bucket), slog.String("path", loc.Path))
	out, err := r.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(loc.Path),
	})
	if err != nil {
		r.logger().Error("could not get object", slog.String("path", loc.Path), slog.String("error", err.Error()))
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, r.Bucket, loc.Path)
		}
		return nil, fmt.Errorf("could not get object %s: %w", loc.Path, err)
	}
	defer out.Body.Close()
	return r.download(out.Body, path.Base(loc.Path), loc)
}

func (r *Resolver) fetchHTTP(ctx context.Context, loc Locator) (*Fetched, error) {
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.Raw, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not download %s: %w", loc.Raw, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.Raw)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("could not download %s: status code %d %s", loc.Raw, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return r.download(resp.Body, path.Base(loc.Path), loc)
}

// download copies body to a fresh directory under TempDir, keeping name so
// the tool reports the right disposition. An empty body counts as a missing
// source.
func (r *Resolver) download(body io.Reader, name string, loc Locator) (*Fetched, error) {
	dir, err := os.MkdirTemp(r.tempDir(), "readium-encrypt-*")
	if err != nil {
		return nil, err
	}
	if name == "" || name == "/" || name == "." {
		name = "source"
	}
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("could not write %s: %w", dst, err)
	}
	if n == 0 {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %s is empty", ErrNotFound, loc.Raw)
	}
	r.logger().Debug("source downloaded", slog.String("source", loc.Raw), slog.String("path", dst), slog.Int64("bytes", n))
	return &Fetched{Path: dst, Remote: true, dir: dir}, nil
}
