// Package gateway fronts the marketplace API: it forwards /v1 traffic to the
// marketplace process and can answer nearby searches from the search service.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
)

// hop-by-hop headers are not forwarded.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Proxy forwards requests to target, keeping path and query string.
func Proxy(target string, client *http.Client, logger *zap.Logger) http.HandlerFunc {
	target = strings.TrimRight(target, "/")
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		url := target + r.URL.Path
		if r.URL.RawQuery != "" {
			url += "?" + r.URL.RawQuery
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header.Clone()
		for _, h := range hopHeaders {
			req.Header.Del(h)
		}
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("upstream request failed", zap.String("url", url), zap.Error(err))
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		vv := make([]string, len(v))
		copy(vv, v)
		dst[k] = vv
	}
}

// NearbySearcher is satisfied by *search.Client.
type NearbySearcher interface {
	Nearby(ctx context.Context, req *search.NearbyRequest) (*search.NearbyResponse, error)
}

// SearchClient adapts a gRPC client to NearbySearcher.
type SearchClient struct{ *search.Client }

func (c SearchClient) Nearby(ctx context.Context, req *search.NearbyRequest) (*search.NearbyResponse, error) {
	return c.Client.Nearby(ctx, req)
}

// NearbyHandler answers GET /v1/offers/nearby through the search service.
func NearbyHandler(searcher NearbySearcher, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lng := q.Get("lon")
		if lng == "" {
			lng = q.Get("lng")
		}
		query, err := search.ParseQuery(q.Get("lat"), lng, q.Get("radiusKm"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		resp, err := searcher.Nearby(r.Context(), &search.NearbyRequest{Lat: query.Lat, Lng: query.Lng, RadiusKM: query.RadiusKM})
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": st.Message()})
				return
			}
			logger.Error("search rpc failed", zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "search unavailable"})
			return
		}
		offers := resp.Offers
		if offers == nil {
			offers = []domain.OfferWithDistance{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
