package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, raw string) (*oidc.IDToken, error) {
	if raw != "good" {
		return nil, errors.New("signature invalid")
	}
	return &oidc.IDToken{Subject: "pipeline-bot"}, nil
}

func TestOidcAuth(t *testing.T) {
	h := OidcAuth(fakeVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, Subject(r.Context()))
	}))
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"Bearer bad", http.StatusUnauthorized},
		{"Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != tt.status {
			t.Fatalf("%q: got status %d, want %d", tt.header, res.StatusCode, tt.status)
		}
		if tt.status == http.StatusOK && string(body) != "pipeline-bot" {
			t.Fatalf("got subject %q", body)
		}
	}
}
