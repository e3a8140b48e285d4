// Package api - API-Methoden des Clients.
// Dieses Modul enthaelt Submit, Poll, Abort, List und Health.

package api

import (
	"context"
	"net/http"
)

// Submit queues a new generation request and returns its id.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/requests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll returns the tokens generated since the previous poll of the request.
func (c *Client) Poll(ctx context.Context, id string) (*PollResponse, error) {
	var resp PollResponse
	if err := c.do(ctx, http.MethodGet, "/api/requests/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort cancels a request. Aborting a finished request has no effect.
func (c *Client) Abort(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/requests/"+id, nil, nil)
}

// List lists all requests known to the server.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var lr ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/ps", nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Health checks if the server is running and responding.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var hr HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &hr); err != nil {
		return nil, err
	}
	return &hr, nil
}
