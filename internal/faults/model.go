package faults

import (
	"strings"
	"time"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// Active reports whether the request is being worked on. Chat is only polled for active requests.
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Terminal reports whether no more work happens on the request.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleConsumer    Role = "consumer"
	RoleElectrician Role = "electrician"
	RoleLineman     Role = "lineman"
	RoleAdmin       Role = "admin"
	RoleBoard       Role = "tneb_board"
)

func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleElectrician, RoleLineman, RoleAdmin, RoleBoard:
		return true
	default:
		return false
	}
}

// FieldWorker reports whether the role may pick up and work fault requests.
func (r Role) FieldWorker() bool {
	return r == RoleElectrician || r == RoleLineman
}

type FaultRequest struct {
	ID             string    `json:"id"`
	ConsumerID     string    `json:"consumer_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	PhotoURL       string    `json:"photo_url,omitempty"`
	Status         Status    `json:"status"`
	Priority       Priority  `json:"priority"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	AssignedToName string    `json:"assigned_to_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewRequest is what a consumer submits when raising a fault.
type NewRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	PhotoURL    string   `json:"photo_url,omitempty"`
}

// Validate checks the fields that must be present before the request leaves the client.
// An empty priority is replaced with medium.
func (n *NewRequest) Validate() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.Location = strings.TrimSpace(n.Location)

	switch {
	case n.Title == "":
		return Validationf("title is required")
	case n.Description == "":
		return Validationf("description is required")
	case n.Location == "":
		return Validationf("location is required")
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if !n.Priority.Valid() {
		return Validationf("invalid priority %q (low/medium/high/critical)", n.Priority)
	}
	if (n.Latitude == nil) != (n.Longitude == nil) {
		return Validationf("latitude and longitude must be given together")
	}
	if n.Latitude != nil && (*n.Latitude < -90 || *n.Latitude > 90) {
		return Validationf("latitude out of range")
	}
	if n.Longitude != nil && (*n.Longitude < -180 || *n.Longitude > 180) {
		return Validationf("longitude out of range")
	}
	return nil
}

type ChatMessage struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole Role      `json:"sender_type"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fingerprint is the ordered id list of a message sequence.
func Fingerprint(msgs []ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
