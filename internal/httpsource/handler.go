package httpsource

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/torosent/mechafeed/internal/source"
	"github.com/torosent/mechafeed/internal/tracing"
)

type handler struct {
	src    source.Source
	logger zerolog.Logger
}

// NewHandler serves src with the default paths: GET /count and
// GET /records/{position}.
func NewHandler(src source.Source, logger zerolog.Logger) http.Handler {
	h := &handler{src: src, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /count", h.count)
	mux.HandleFunc("GET /records/{position}", h.recordAt)
	return mux
}

func (h *handler) count(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
	total, err := h.src.TotalCount(ctx)
	if err != nil {
		h.fail(w, err, "total count failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Total uint64 `json:"total"`
	}{total})
}

func (h *handler) recordAt(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.ParseUint(r.PathValue("position"), 10, 64)
	if err != nil {
		http.Error(w, "position must be a non-negative integer", http.StatusBadRequest)
		return
	}

	ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
	raw, err := h.src.RawDataAt(ctx, position)
	if err != nil {
		h.fail(w, err, "fetch failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw.Payload)
}

func (h *handler) fail(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	var herr *source.HTTPError
	switch {
	case errors.Is(err, source.ErrPositionOutOfRange):
		status = http.StatusNotFound
	case errors.As(err, &herr) && herr.StatusCode >= 400:
		status = herr.StatusCode
	}
	if status >= 500 {
		h.logger.Error().Err(err).Int("status", status).Msg(msg)
	}
	http.Error(w, err.Error(), status)
}
