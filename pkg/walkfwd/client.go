// Package walkfwd is the Go client for the walkfwd backtest service.
package walkfwd

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the walkfwd.v1.Backtest service.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient creates a client for the server at addr (host:port). The
// connection is established lazily on the first call.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run backtests one strategy.
func (c *Client) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	var out RunResponse
	if err := c.invoke(ctx, RunMethod, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sweep evaluates a parameter grid.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) (*SweepResponse, error) {
	var out SweepResponse
	if err := c.invoke(ctx, SweepMethod, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	in, err := ToStruct(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
		return err
	}
	return FromStruct(resp, out)
}
