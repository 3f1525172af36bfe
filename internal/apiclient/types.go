package apiclient

import (
	"voltguard/internal/faults"
	"voltguard/internal/session"
)

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	FullName string      `json:"full_name"`
	Role     faults.Role `json:"role"`
	Phone    string      `json:"phone,omitempty"`
	Company  string      `json:"company,omitempty"`
}

type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        session.User `json:"user"`
}

type FaultRequestList struct {
	Requests []faults.FaultRequest `json:"requests"`
	Total    int                   `json:"total"`
}

type UpdateStatusRequest struct {
	Status     faults.Status `json:"status"`
	AssignedTo string        `json:"assigned_to,omitempty"`
}

type SendMessageRequest struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
}

type MessageList struct {
	Messages []faults.ChatMessage `json:"messages"`
	Total    int                  `json:"total"`
}

type ackResponse struct {
	Message string `json:"message"`
}
