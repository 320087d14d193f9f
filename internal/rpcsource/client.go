// Package rpcsource reads and serves record collections over JSON-RPC 2.0
// using the "records" namespace.
package rpcsource

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
)

// Namespace is the JSON-RPC namespace of the record methods.
const Namespace = "records"

// API lists the remote methods. The client fills Internal with stubs.
type API struct {
	Internal struct {
		TotalCount func(context.Context) (uint64, error)
		RawDataAt  func(context.Context, uint64) ([]byte, error)
	}
}

// Client is a source.Source talking to a records JSON-RPC server.
type Client struct {
	API    API
	closer jsonrpc.ClientCloser
}

var _ source.Source = (*Client)(nil)

// NewClient connects to addr, an http(s) or ws(s) URL. A non-empty token is
// sent as a bearer Authorization header.
func NewClient(ctx context.Context, addr, token string) (*Client, error) {
	authHeader := http.Header{}
	if token != "" {
		authHeader.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	var client Client
	closer, err := jsonrpc.NewMergeClient(ctx, addr, Namespace, []interface{}{&client.API.Internal}, authHeader)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	client.closer = closer
	return &client, nil
}

func (c *Client) TotalCount(ctx context.Context) (uint64, error) {
	return c.API.Internal.TotalCount(ctx)
}

func (c *Client) RawDataAt(ctx context.Context, position uint64) (record.RawData, error) {
	payload, err := c.API.Internal.RawDataAt(ctx, position)
	if err != nil {
		// Errors cross the wire as text only.
		if strings.Contains(err.Error(), source.ErrPositionOutOfRange.Error()) {
			return record.RawData{}, fmt.Errorf("position %d: %w", position, source.ErrPositionOutOfRange)
		}
		return record.RawData{}, err
	}
	return record.RawData{Position: position, Payload: payload}, nil
}

// Close releases the connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}
