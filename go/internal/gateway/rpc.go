package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

const (
	// LeadSyncServiceName is the fully-qualified name of the lead sync service.
	LeadSyncServiceName = "leadengine.sync.v1.LeadSyncService"

	LeadSyncServiceListLeadsProcedure = "/" + LeadSyncServiceName + "/ListLeads"
	LeadSyncServiceGetLeadProcedure   = "/" + LeadSyncServiceName + "/GetLead"
)

// ListLeadsRequest narrows the projection to a vertical; empty means all.
type ListLeadsRequest struct {
	Vertical string `json:"vertical,omitempty"`
}

type GetLeadRequest struct {
	LeadID string `json:"leadId"`
}

type GetLeadResponse struct {
	Lead LeadView `json:"lead"`
}

// jsonCodec replaces connect's protobuf JSON codec so plain structs can be
// served without generated code.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// LeadSyncService exposes the synchronized projection over Connect
type LeadSyncService struct {
	sync *auction.Synchronizer
}

func NewLeadSyncService(synchronizer *auction.Synchronizer) *LeadSyncService {
	return &LeadSyncService{sync: synchronizer}
}

func (s *LeadSyncService) ListLeads(ctx context.Context, req *connect.Request[ListLeadsRequest]) (*connect.Response[LeadsResponse], error) {
	resp := buildLeadsResponse(s.sync, req.Msg.Vertical, s.sync.Now())
	return connect.NewResponse(&resp), nil
}

func (s *LeadSyncService) GetLead(ctx context.Context, req *connect.Request[GetLeadRequest]) (*connect.Response[GetLeadResponse], error) {
	if req.Msg.LeadID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("leadId is required"))
	}
	st, ok := s.sync.Lead(req.Msg.LeadID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("lead not found"))
	}
	return connect.NewResponse(&GetLeadResponse{Lead: NewLeadView(st, s.sync.Now())}), nil
}

// NewLeadSyncServiceHandler builds the HTTP handler for the service and the
// path prefix it should be mounted on.
func NewLeadSyncServiceHandler(svc *LeadSyncService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	listLeads := connect.NewUnaryHandler(LeadSyncServiceListLeadsProcedure, svc.ListLeads, opts...)
	getLead := connect.NewUnaryHandler(LeadSyncServiceGetLeadProcedure, svc.GetLead, opts...)

	return "/" + LeadSyncServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case LeadSyncServiceListLeadsProcedure:
			listLeads.ServeHTTP(w, r)
		case LeadSyncServiceGetLeadProcedure:
			getLead.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
