package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stratafin/stratafin/internal/shared"
)

// PathInt64 parses a chi URL parameter as int64.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

// QueryInt64 parses an optional query parameter as int64, returning def when
// absent.
func QueryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return v, nil
}
