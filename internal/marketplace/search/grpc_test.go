package search_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
)

func dialSearch(t *testing.T, offers ...domain.Offer) *search.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	search.RegisterSearchServer(srv, search.NewServer(search.NewEngine(staticSource(offers), search.EngineConfig{})))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return search.NewClient(conn)
}

func TestSearchRPC(t *testing.T) {
	here := offerAt(40.0, -73.0, 10)
	client := dialSearch(t, offerAt(41.0, -73.0, 10), here)

	resp, err := client.Nearby(context.Background(), &search.NearbyRequest{Lat: 40, Lng: -73, RadiusKM: km(30)})
	require.NoError(t, err)
	require.Len(t, resp.Offers, 1)
	require.Equal(t, here.ID, resp.Offers[0].ID)
	require.Equal(t, "Lawn mowing", resp.Offers[0].Title)
}

func km(v float64) *float64 { return &v }

func TestSearchRPCDistinguishesZeroFromUnsetRadius(t *testing.T) {
	here := offerAt(40.0, -73.0, 10)
	client := dialSearch(t, offerAt(40.05, -73.0, 10), here)

	resp, err := client.Nearby(context.Background(), &search.NearbyRequest{Lat: 40, Lng: -73, RadiusKM: km(0)})
	require.NoError(t, err)
	require.Len(t, resp.Offers, 1)
	require.Equal(t, here.ID, resp.Offers[0].ID)

	resp, err = client.Nearby(context.Background(), &search.NearbyRequest{Lat: 40, Lng: -73})
	require.NoError(t, err)
	require.Len(t, resp.Offers, 2)
}

func TestSearchRPCRejectsInvalidQuery(t *testing.T) {
	client := dialSearch(t)

	_, err := client.Nearby(context.Background(), &search.NearbyRequest{Lat: 120, Lng: 0})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Nearby(context.Background(), &search.NearbyRequest{Lat: 0, Lng: 0, RadiusKM: km(-1)})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
