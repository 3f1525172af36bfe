package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"voltguard/internal/faults"
)

func printRequests(w io.Writer, items []faults.FaultRequest) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No fault requests.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tTITLE\tLOCATION\tASSIGNEE\tCREATED")
	for _, r := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Priority, truncate(r.Title, 32), truncate(r.Location, 24),
			assignee(r), r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func printRequest(w io.Writer, r faults.FaultRequest) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", r.ID)
	fmt.Fprintf(tw, "Title\t%s\n", r.Title)
	fmt.Fprintf(tw, "Status\t%s\n", r.Status)
	fmt.Fprintf(tw, "Priority\t%s\n", r.Priority)
	fmt.Fprintf(tw, "Location\t%s\n", r.Location)
	if r.Latitude != nil && r.Longitude != nil {
		fmt.Fprintf(tw, "Coordinates\t%.5f, %.5f\n", *r.Latitude, *r.Longitude)
	}
	if r.PhotoURL != "" {
		fmt.Fprintf(tw, "Photo\t%s\n", r.PhotoURL)
	}
	fmt.Fprintf(tw, "Assignee\t%s\n", assignee(r))
	fmt.Fprintf(tw, "Created\t%s\n", r.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(tw, "Updated\t%s\n", r.UpdatedAt.Local().Format(time.RFC1123))
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%s\n", r.Description)
}

func printMessage(w io.Writer, m faults.ChatMessage, selfID string) {
	who := string(m.SenderRole)
	if m.SenderID == selfID {
		who = "you"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
}

func assignee(r faults.FaultRequest) string {
	switch {
	case r.AssignedToName != "":
		return r.AssignedToName
	case r.AssignedTo != "":
		return r.AssignedTo
	default:
		return "-"
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// syncWriter serializes output from the polling goroutine and the stdin reader.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSyncWriter(w io.Writer) *syncWriter { return &syncWriter{w: w} }

func (s *syncWriter) do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
