// Package httpstream is a minimal net/http Range-request adapter over the
// Reader interface. It intentionally does not pull in a web framework: the
// HTTP surface is a peripheral collaborator, not core scope.
package httpstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/relaystream/core/internal/registry"
	"github.com/relaystream/core/internal/vreader"
)

// Handler serves GET requests for /{mediaID} with Range support, backed by
// a Reader Registry.
type Handler struct {
	Registry *registry.Registry
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	mediaID, err := parseMediaID(r.URL.Path)
	if err != nil {
		http.Error(w, "invalid media id", http.StatusBadRequest)
		return
	}

	reader, err := h.Registry.GetOrCreate(r.Context(), mediaID, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	start, end, status := parseRange(r.Header.Get("Range"), reader.TotalSize)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(end-start, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, reader.TotalSize))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	h.stream(r.Context(), w, reader, start, end)
}

func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, reader *vreader.Reader, start, end int64) {
	rs, err := reader.ReadRange(ctx, start, end)
	if err != nil {
		return
	}
	for {
		blob, err := rs.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if _, writeErr := w.Write(blob); writeErr != nil {
			return
		}
	}
}

func parseMediaID(path string) (int64, error) {
	path = strings.TrimPrefix(path, "/")
	return strconv.ParseInt(path, 10, 64)
}

// parseRange parses a single-range "bytes=start-end" header, defaulting to
// the full body when absent or malformed.
func parseRange(header string, totalSize int64) (start, end int64, status int) {
	if header == "" {
		return 0, totalSize, http.StatusOK
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, totalSize, http.StatusOK
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, totalSize, http.StatusOK
	}

	s, sErr := strconv.ParseInt(parts[0], 10, 64)
	e, eErr := strconv.ParseInt(parts[1], 10, 64)

	switch {
	case sErr == nil && eErr == nil:
		return s, e + 1, http.StatusPartialContent
	case sErr == nil:
		return s, totalSize, http.StatusPartialContent
	case eErr == nil:
		if e >= totalSize {
			e = totalSize - 1
		}
		return totalSize - e - 1, totalSize, http.StatusPartialContent
	default:
		return 0, totalSize, http.StatusOK
	}
}
