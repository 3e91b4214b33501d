package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/bizcast/pkg/forecast"
)

// Client calls bizcast.v1.Forecaster. Errors are gRPC status errors.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to target over plaintext gRPC. Extra options are appended, so
// a grpc.WithTransportCredentials option replaces plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewClient(conn), conn, nil
}

// Forecast requests a forecast.
func (c *Client) Forecast(ctx context.Context, req forecast.Request) (*forecast.Result, error) {
	var out forecast.Result
	if err := c.call(ctx, MethodForecast, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Train retrains one model.
func (c *Client) Train(ctx context.Context, req TrainRequest) (*TrainResponse, error) {
	var out TrainResponse
	if err := c.call(ctx, MethodTrain, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels lists stored models.
func (c *Client) ListModels(ctx context.Context) ([]forecast.ModelInfo, error) {
	var out ModelsResponse
	if err := c.call(ctx, MethodListModels, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// DeleteModel removes the model named key ("tree_42_revenue") and reports
// whether it existed.
func (c *Client) DeleteModel(ctx context.Context, key string) (bool, error) {
	var out DeleteResponse
	if err := c.call(ctx, MethodDeleteModel, DeleteRequest{Key: key}, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(data, in); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}

	data, err = protojson.Marshal(out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
