// Package grpc exposes the dashboard snapshot over gRPC using
// google.protobuf.Struct messages.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/dashboard"
	dberrors "github.com/deportes-escolares/inscripciones/internal/errors"
	"github.com/deportes-escolares/inscripciones/internal/logging"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inscripciones.v1.Dashboard"

// Snapshots provides the current dashboard snapshot.
type Snapshots interface {
	GetOrBuild(ctx context.Context) (*cache.Snapshot, error)
}

// DashboardServer serves snapshot summaries and dashboard views.
type DashboardServer struct {
	snapshots  Snapshots
	sportTypes []string
	palette    dashboard.Palette
	logger     *logging.Logger
}

// NewDashboardServer creates a dashboard server.
func NewDashboardServer(snapshots Snapshots, sportTypes []string, palette dashboard.Palette, logger *logging.Logger) *DashboardServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DashboardServer{
		snapshots:  snapshots,
		sportTypes: sportTypes,
		palette:    palette,
		logger:     logger.With("component", "grpc"),
	}
}

// GetSummary returns the aggregates of the current snapshot. The request is ignored.
func (s *DashboardServer) GetSummary(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(snap.Summary())
}

// GetDashboard returns the card data for the filter in the request. Fields
// departamento, municipio and tipo take a string or a list of strings; an
// absent or empty tipo selects every sport type.
func (s *DashboardServer) GetDashboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := dashboard.Filter{
		Departments:    stringList(req, "departamento"),
		Municipalities: stringList(req, "municipio"),
	}
	selected := s.sportTypes
	if _, ok := req.GetFields()["tipo"]; ok {
		selected = stringList(req, "tipo")
	}
	if len(selected) == 0 {
		selected = dashboard.ToggleSportType(nil, "", s.sportTypes)
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(dashboard.Build(snap.Table, filter, selected, s.sportTypes, s.palette))
}

func (s *DashboardServer) snapshot(ctx context.Context) (*cache.Snapshot, error) {
	snap, err := s.snapshots.GetOrBuild(ctx)
	if err != nil {
		s.logger.Error("snapshot unavailable", "request_id", extractRequestID(ctx), "error", err)
		return nil, toStatus(err)
	}
	return snap, nil
}

// Register installs the dashboard and health services on srv and returns the
// health server so callers can flip serving status on shutdown.
func Register(srv *grpc.Server, ds *DashboardServer) *health.Server {
	srv.RegisterService(&dashboardServiceDesc, ds)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return hs
}

type dashboardService interface {
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var dashboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*dashboardService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSummary", Handler: unaryHandler("GetSummary", dashboardService.GetSummary)},
		{MethodName: "GetDashboard", Handler: unaryHandler("GetDashboard", dashboardService.GetDashboard)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inscripciones/v1/dashboard.proto",
}

func unaryHandler(method string, call func(dashboardService, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(dashboardService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(dashboardService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DashboardClient calls the dashboard service.
type DashboardClient struct {
	cc grpc.ClientConnInterface
}

// NewDashboardClient creates a client on cc.
func NewDashboardClient(cc grpc.ClientConnInterface) *DashboardClient {
	return &DashboardClient{cc: cc}
}

// GetSummary calls Dashboard/GetSummary.
func (c *DashboardClient) GetSummary(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetSummary", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDashboard calls Dashboard/GetDashboard.
func (c *DashboardClient) GetDashboard(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetDashboard", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct converts a JSON-tagged value into a Struct through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to convert response: %v", err)
	}
	return out, nil
}

func stringList(req *structpb.Struct, field string) []string {
	v, ok := req.GetFields()[field]
	if !ok {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		if kind.StringValue == "" {
			return []string{}
		}
		return []string{kind.StringValue}
	case *structpb.Value_ListValue:
		out := make([]string, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			if s := item.GetStringValue(); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func toStatus(err error) error {
	msg := fmt.Sprintf("%v", err)
	switch dberrors.GetCategory(err) {
	case dberrors.ErrCategoryValidation:
		return status.Error(codes.InvalidArgument, msg)
	case dberrors.ErrCategorySource:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

// extractRequestID returns the x-request-id metadata value, or a new id.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-request-id"); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
