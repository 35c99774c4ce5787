// Package prover is the client of the external proving backend. The backend
// receives the canonical proof record and returns an opaque proof.
package prover

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
)

var (
	ErrEmptyProof  = errors.New("prover returned no proof")
	ErrNotProvable = errors.New("record is not a committed score")
)

// #region types
// Proof is the backend's answer for one record.
type Proof struct {
	Proof           string `json:"proof"`
	VerificationKey string `json:"verification_key"`
}

// #endregion types

// #region client-struct
// Client wraps the gRPC connection to the proving backend.
type Client struct {
	conn    *grpc.ClientConn
	client  ProverServiceClient
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewClient connects to the proving backend. timeout bounds each call; zero
// leaves the caller's context in charge.
func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		client:  NewProverServiceClient(conn),
		timeout: timeout,
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc ProverServiceClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region generate-proof
// GenerateProof sends {record, record_hash} and returns the backend's proof.
func (c *Client) GenerateProof(ctx context.Context, rec proofrec.Record) (Proof, error) {
	req, err := NewRequest(rec)
	if err != nil {
		return Proof{}, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.GenerateProof(ctx, req)
	if err != nil {
		return Proof{}, fmt.Errorf("generate proof rpc: %w", err)
	}
	p := Proof{
		Proof:           resp.GetFields()["proof"].GetStringValue(),
		VerificationKey: resp.GetFields()["verification_key"].GetStringValue(),
	}
	if p.Proof == "" {
		return Proof{}, ErrEmptyProof
	}
	return p, nil
}

// NewRequest builds the wire request for rec.
func NewRequest(rec proofrec.Record) (*structpb.Struct, error) {
	rs, err := proofrec.ToStruct(rec)
	if err != nil {
		return nil, err
	}
	h, err := proofrec.Hash(rec)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"record":      structpb.NewStructValue(rs),
		"record_hash": structpb.NewStringValue(h),
	}}, nil
}

// ParseRequest is the server-side inverse of NewRequest.
func ParseRequest(req *structpb.Struct) (proofrec.Record, string, error) {
	rs := req.GetFields()["record"].GetStructValue()
	if rs == nil {
		return proofrec.Record{}, "", errors.New("request has no record")
	}
	rec, err := proofrec.FromStruct(rs)
	if err != nil {
		return proofrec.Record{}, "", err
	}
	return rec, req.GetFields()["record_hash"].GetStringValue(), nil
}

// #endregion generate-proof

// #region verify-proof
// VerifyProof asks the backend whether p proves rec. Only committed score
// records have public inputs; anything else is ErrNotProvable. A response
// without is_valid counts as invalid.
func (c *Client) VerifyProof(ctx context.Context, rec proofrec.Record, p Proof) (bool, error) {
	if p.Proof == "" {
		return false, ErrEmptyProof
	}
	req, err := NewVerifyRequest(rec, p)
	if err != nil {
		return false, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.VerifyProof(ctx, req)
	if err != nil {
		return false, fmt.Errorf("verify proof rpc: %w", err)
	}
	return resp.GetFields()["is_valid"].GetBoolValue(), nil
}

// PublicInputs are the score circuit's public values for rec, in circuit
// order: the commitment as hex, then the score in decimal.
func PublicInputs(rec proofrec.Record) ([]string, error) {
	if rec.Operation != proofrec.OpComputeAndStoreScore || rec.Failed() ||
		rec.Input.Commitment == nil || rec.Output.Score == nil {
		return nil, ErrNotProvable
	}
	return []string{rec.Input.Commitment.Hex(), strconv.Itoa(int(*rec.Output.Score))}, nil
}

// NewVerifyRequest builds {record, record_hash, proof, verification_key,
// public_inputs} for rec.
func NewVerifyRequest(rec proofrec.Record, p Proof) (*structpb.Struct, error) {
	inputs, err := PublicInputs(rec)
	if err != nil {
		return nil, err
	}
	req, err := NewRequest(rec)
	if err != nil {
		return nil, err
	}
	list := make([]*structpb.Value, len(inputs))
	for i, in := range inputs {
		list[i] = structpb.NewStringValue(in)
	}
	req.Fields["proof"] = structpb.NewStringValue(p.Proof)
	req.Fields["verification_key"] = structpb.NewStringValue(p.VerificationKey)
	req.Fields["public_inputs"] = structpb.NewListValue(&structpb.ListValue{Values: list})
	return req, nil
}

// ParseVerifyRequest is the server-side inverse of NewVerifyRequest.
func ParseVerifyRequest(req *structpb.Struct) (proofrec.Record, string, Proof, []string, error) {
	rec, hash, err := ParseRequest(req)
	if err != nil {
		return proofrec.Record{}, "", Proof{}, nil, err
	}
	f := req.GetFields()
	p := Proof{Proof: f["proof"].GetStringValue(), VerificationKey: f["verification_key"].GetStringValue()}
	var inputs []string
	for _, v := range f["public_inputs"].GetListValue().GetValues() {
		inputs = append(inputs, v.GetStringValue())
	}
	return rec, hash, p, inputs, nil
}

// #endregion verify-proof
