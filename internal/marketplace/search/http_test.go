package search_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
)

func TestNearbyHandler(t *testing.T) {
	here := offerAt(40.0, -73.0, 10)
	handler := search.NearbyHandler(search.NewEngine(staticSource{here}, search.EngineConfig{}))

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{name: "lon", query: "lat=40&lon=-73", status: http.StatusOK, count: 1},
		{name: "lng alias", query: "lat=40.05&lng=-73&radiusKm=30", status: http.StatusOK, count: 1},
		{name: "out of reach", query: "lat=41&lon=-73", status: http.StatusOK, count: 0},
		{name: "zero radius", query: "lat=40.05&lon=-73&radiusKm=0", status: http.StatusOK, count: 0},
		{name: "missing lat", query: "lon=-73", status: http.StatusBadRequest},
		{name: "negative radius", query: "lat=40&lon=-73&radiusKm=-1", status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/offers/nearby?"+tc.query, nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body struct {
				Offers []domain.OfferWithDistance `json:"offers"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotNil(t, body.Offers)
			require.Len(t, body.Offers, tc.count)
		})
	}
}
