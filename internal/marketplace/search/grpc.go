package search

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/example/findx/internal/marketplace/domain"
)

// CodecName is the gRPC content-subtype the search service speaks.
const CodecName = "json"

const nearbyMethod = "/findx.search.Search/Nearby"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// NearbyRequest is the RPC form of Query. RadiusKM is omitted on the wire
// when unset so the server applies its default.
type NearbyRequest struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	RadiusKM *float64 `json:"radius_km,omitempty"`
}

// NearbyResponse carries ranked offers.
type NearbyResponse struct {
	Offers []domain.OfferWithDistance `json:"offers"`
}

// SearchServer defines the gRPC contract.
type SearchServer interface {
	Nearby(ctx context.Context, req *NearbyRequest) (*NearbyResponse, error)
}

// RegisterSearchServer registers the service implementation.
func RegisterSearchServer(s *grpc.Server, srv SearchServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "findx.search.Search",
		HandlerType: (*SearchServer)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Nearby",
			Handler:    _Search_Nearby_Handler,
		}},
	}, srv)
}

func _Search_Nearby_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(NearbyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SearchServer).Nearby(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: nearbyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SearchServer).Nearby(ctx, req.(*NearbyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements SearchServer on top of an Engine.
type Server struct {
	engine *Engine
}

// NewServer constructs a server.
func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

// Nearby answers a search RPC.
func (s *Server) Nearby(ctx context.Context, req *NearbyRequest) (*NearbyResponse, error) {
	offers, err := s.engine.Search(ctx, Query{Lat: req.Lat, Lng: req.Lng, RadiusKM: req.RadiusKM})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &NearbyResponse{Offers: offers}, nil
}

// Client calls the search service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Nearby invokes the Nearby RPC.
func (c *Client) Nearby(ctx context.Context, req *NearbyRequest, opts ...grpc.CallOption) (*NearbyResponse, error) {
	out := new(NearbyResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, nearbyMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
