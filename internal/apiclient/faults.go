package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"voltguard/internal/faults"
)

// Scope selects which list endpoint backs a query.
type Scope int

const (
	// ScopeOwn lists the consumer's own requests.
	ScopeOwn Scope = iota
	// ScopeAll lists every request visible to field workers.
	ScopeAll
	// ScopeAssigned lists the field worker's own assignments.
	ScopeAssigned
)

func statusQuery(status faults.Status) url.Values {
	if status == "" {
		return nil
	}
	return url.Values{"status_filter": []string{string(status)}}
}

func (c *Client) ListFaultRequests(ctx context.Context, scope Scope, status faults.Status) (FaultRequestList, error) {
	path := "/api/consumer/fault-requests"
	switch scope {
	case ScopeAll:
		path = "/api/electrician/fault-requests"
	case ScopeAssigned:
		path = "/api/electrician/my-assignments"
	}
	var out FaultRequestList
	if err := c.do(ctx, http.MethodGet, path, statusQuery(status), true, nil, &out); err != nil {
		return FaultRequestList{}, err
	}
	return out, nil
}

// GetFaultRequest reads one request through the endpoint that matches the caller's role.
func (c *Client) GetFaultRequest(ctx context.Context, role faults.Role, id string) (faults.FaultRequest, error) {
	path := "/api/consumer/fault-request/" + url.PathEscape(id)
	if role.FieldWorker() {
		path = "/api/electrician/fault-request/" + url.PathEscape(id)
	}
	var out faults.FaultRequest
	if err := c.do(ctx, http.MethodGet, path, nil, true, nil, &out); err != nil {
		return faults.FaultRequest{}, err
	}
	return out, nil
}

func (c *Client) CreateFaultRequest(ctx context.Context, in faults.NewRequest) (faults.FaultRequest, error) {
	var out faults.FaultRequest
	if err := c.do(ctx, http.MethodPost, "/api/consumer/fault-request/create", nil, true, in, &out); err != nil {
		return faults.FaultRequest{}, err
	}
	return out, nil
}

// UpdateFaultRequestStatus moves a request to status; assignedTo is only sent when non-empty.
func (c *Client) UpdateFaultRequestStatus(ctx context.Context, id string, status faults.Status, assignedTo string) error {
	req := UpdateStatusRequest{Status: status, AssignedTo: assignedTo}
	var out ackResponse
	return c.do(ctx, http.MethodPut, "/api/electrician/fault-request/"+url.PathEscape(id)+"/assign", nil, true, req, &out)
}

func (c *Client) CancelFaultRequest(ctx context.Context, id string) error {
	var out ackResponse
	return c.do(ctx, http.MethodPut, "/api/consumer/fault-request/"+url.PathEscape(id)+"/cancel", nil, true, nil, &out)
}
