package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xebook/readium-encrypt/internal/db"
	"github.com/xebook/readium-encrypt/internal/version"
	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/pipeline"
	"github.com/xebook/readium-encrypt/pkg/source"
)

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type ResourceLister interface {
	ListResources(ctx context.Context, limit int) ([]db.Record, error)
}

var (
	errLocalDisabled    = errors.New("local sources are disabled, configure server.sourcedir")
	errOutsideSourceDir = errors.New("source is outside the configured source directory")
)

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

type encryptHandler struct {
	runner    Runner
	resources ResourceLister
	// sourceDir confines file sources; empty rejects them.
	sourceDir string
	logger    *slog.Logger
	// the tool writes to shared temp paths and the CLI takes a process
	// lock, so jobs run one at a time here too
	mu sync.Mutex
}

// LoadEncryptRoutes mounts the encryption endpoints. resources may be nil when
// no database is configured. File sources must live under sourceDir; an empty
// sourceDir only allows remote sources.
func LoadEncryptRoutes(runner Runner, resources ResourceLister, sourceDir string, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &encryptHandler{runner: runner, resources: resources, sourceDir: sourceDir, logger: logger}
	r := chi.NewRouter()
	r.Route("/", func(r chi.Router) {
		r.Post("/encrypt", h.encrypt)
		r.Get("/resources", h.listResources)
		r.Get("/version", h.version)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *encryptHandler) encrypt(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("could not decode encrypt request", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not decode encrypt request"})
		return
	}
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "source not provided"})
		return
	}
	if req.Output != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "output cannot be chosen over http"})
		return
	}
	loc, err := source.Parse(req.Source)
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	if loc.Scheme == source.SchemeFile {
		p, err := confine(h.sourceDir, loc.Path)
		if err != nil {
			h.logger.Warn("rejected local source", slog.String("source", req.Source), slog.String("error", err.Error()))
			writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
			return
		}
		req.Source = p
	}

	jobID := uuid.NewString()
	logger := h.logger.With(slog.String("job", jobID), slog.String("source", req.Source))

	h.mu.Lock()
	res, err := h.runner.Run(r.Context(), req)
	h.mu.Unlock()
	if err != nil {
		status, body := errorStatus(err)
		logger.Error("encryption failed", slog.Int("status", status), slog.String("error", err.Error()))
		writeJSON(w, status, body)
		return
	}
	logger.Info("encryption done", slog.String("contentId", res.Resource.ID()))
	w.Header().Set("X-Job-Id", jobID)
	writeJSON(w, http.StatusOK, res)
}

// confine resolves p against dir and fails when the result, after following
// symlinks, leaves dir.
func confine(dir, p string) (string, error) {
	if dir == "" {
		return "", errLocalDisabled
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideSourceDir
	}
	return p, nil
}

func errorStatus(err error) (int, errorResponse) {
	var encErr *encrypt.Error
	if errors.As(err, &encErr) {
		switch {
		case errors.Is(err, encrypt.ErrFilesystem):
			return http.StatusNotFound, errorResponse{Error: encErr.Message, Code: encErr.Code}
		case errors.Is(err, encrypt.ErrInvalidArgument):
			return http.StatusBadRequest, errorResponse{Error: encErr.Message, Code: encErr.Code}
		default:
			return http.StatusUnprocessableEntity, errorResponse{Error: encErr.Message, Code: encErr.Code}
		}
	}
	switch {
	case errors.Is(err, source.ErrUnsupportedScheme), errors.Is(err, pipeline.ErrNoPublisher), errors.Is(err, source.ErrNoBucket):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}

func (h *encryptHandler) listResources(w http.ResponseWriter, r *http.Request) {
	if h.resources == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no database configured"})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := h.resources.ListResources(r.Context(), limit)
	if err != nil {
		h.logger.Error("could not retrieve resources", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not retrieve resources"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *encryptHandler) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetVersion())
}
