// Package server exposes the dispatcher over gRPC and serves health and
// metrics over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
)

// Forwarder receives every record the server produces.
type Forwarder interface {
	Forward(ctx context.Context, rec proofrec.Record) error
}

// GRPCServer implements LedgerServiceServer on top of a dispatcher.
type GRPCServer struct {
	d   *dispatch.Dispatcher
	fwd Forwarder
	log *slog.Logger
}

// NewGRPCServer builds the service. fwd may be nil.
func NewGRPCServer(d *dispatch.Dispatcher, fwd Forwarder, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	return &GRPCServer{d: d, fwd: fwd, log: log.With("component", "grpc")}
}

func (s *GRPCServer) ComputeAndStoreScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, proofrec.OpComputeAndStoreScore, in)
}

func (s *GRPCServer) VerifyScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, proofrec.OpVerifyScore, in)
}

func (s *GRPCServer) UpdateModelHash(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.invoke(ctx, proofrec.OpUpdateModelHash, in)
}

// invoke runs op and answers {record, record_hash, error}. Rejected calls are
// ordinary responses; only internal failures become gRPC errors.
func (s *GRPCServer) invoke(ctx context.Context, op string, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := argsJSON(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode args: %v", err)
	}
	rec, callErr := s.d.Invoke(op, raw)
	if callErr != nil && dispatch.KindOf(callErr) == dispatch.KindInternal {
		s.log.Error("dispatch failed", "op", op, "error", callErr)
		return nil, status.Error(codes.Internal, callErr.Error())
	}
	if s.fwd != nil {
		// forward errors are logged by the forwarder and never undo the write
		_ = s.fwd.Forward(ctx, rec)
	}
	return Response(rec, callErr)
}

// argsJSON renders in as compact JSON. protojson output is not byte-stable,
// and rejected arguments end up in the record.
func argsJSON(in *structpb.Struct) ([]byte, error) {
	b, err := protojson.Marshal(in)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Response builds the wire answer for rec.
func Response(rec proofrec.Record, callErr error) (*structpb.Struct, error) {
	recStruct, err := proofrec.ToStruct(rec)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode record: %v", err)
	}
	hash, err := proofrec.Hash(rec)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "hash record: %v", err)
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"record":      structpb.NewStructValue(recStruct),
		"record_hash": structpb.NewStringValue(hash),
	}}
	if callErr != nil {
		out.Fields["error"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"kind":    structpb.NewStringValue(string(dispatch.KindOf(callErr))),
			"message": structpb.NewStringValue(callErr.Error()),
		}})
	}
	return out, nil
}

// ParseResponse is the client-side inverse of Response. The returned error is
// non-nil when the call was rejected.
func ParseResponse(out *structpb.Struct) (proofrec.Record, string, error) {
	f := out.GetFields()
	rec, err := proofrec.FromStruct(f["record"].GetStructValue())
	if err != nil {
		return proofrec.Record{}, "", err
	}
	hash := f["record_hash"].GetStringValue()
	if e := f["error"].GetStructValue(); e != nil {
		return rec, hash, errors.New(e.GetFields()["message"].GetStringValue())
	}
	return rec, hash, nil
}
