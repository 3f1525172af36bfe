package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"voltguard/internal/faults"
)

func (c *Client) SendMessage(ctx context.Context, requestID, content string) (faults.ChatMessage, error) {
	var out faults.ChatMessage
	req := SendMessageRequest{RequestID: requestID, Content: content}
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", nil, true, req, &out); err != nil {
		return faults.ChatMessage{}, err
	}
	return out, nil
}

// ListMessages returns the full conversation of a request in creation order.
func (c *Client) ListMessages(ctx context.Context, requestID string) ([]faults.ChatMessage, error) {
	var out MessageList
	if err := c.do(ctx, http.MethodGet, "/api/chat/request/"+url.PathEscape(requestID), nil, true, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []faults.ChatMessage{}
	}
	return out.Messages, nil
}
