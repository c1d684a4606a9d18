package search

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/findx/internal/marketplace/domain"
)

// NearbyHandler serves GET ?lat=&lon=&radiusKm= straight from an engine, for
// processes that only answer searches.
func NearbyHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lng := q.Get("lon")
		if lng == "" {
			lng = q.Get("lng")
		}
		query, err := ParseQuery(q.Get("lat"), lng, q.Get("radiusKm"))
		if err == nil {
			var offers []domain.OfferWithDistance
			offers, err = engine.Search(r.Context(), query)
			if err == nil {
				if offers == nil {
					offers = []domain.OfferWithDistance{}
				}
				writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
				return
			}
		}
		status := http.StatusInternalServerError
		msg := http.StatusText(status)
		if errors.Is(err, domain.ErrInvalidQuery) {
			status, msg = http.StatusBadRequest, err.Error()
		}
		writeJSON(w, status, map[string]string{"error": msg})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
