package devbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"voltguard/internal/faults"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate")
	// errStale means the row changed between read and conditional write.
	errStale = errors.New("stale")
)

type userRecord struct {
	ID        string
	Email     string
	FullName  string
	Role      faults.Role
	Phone     string
	PassHash  string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite file at path and applies the schema.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  role TEXT NOT NULL,
  phone TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fault_requests (
  id TEXT PRIMARY KEY,
  consumer_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL,
  location TEXT NOT NULL,
  latitude REAL NULL,
  longitude REAL NULL,
  photo_url TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  priority TEXT NOT NULL,
  assigned_to TEXT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fault_requests_consumer ON fault_requests(consumer_id);
CREATE INDEX IF NOT EXISTS idx_fault_requests_assigned ON fault_requests(assigned_to);
CREATE INDEX IF NOT EXISTS idx_fault_requests_status ON fault_requests(status);
CREATE TABLE IF NOT EXISTS chat_messages (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  sender_type TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_request_id ON chat_messages(request_id);
`)
	return err
}

func newID() string { return ulid.Make().String() }

// timeLayout is fixed width so that text ordering in sqlite matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// --------------------
// Users
// --------------------

func (s *Store) CreateUser(ctx context.Context, u userRecord) (userRecord, error) {
	u.ID = newID()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, full_name, role, phone, password_hash, created_at) VALUES(?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.FullName, string(u.Role), u.Phone, u.PassHash, formatTime(u.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return userRecord{}, errDuplicate
		}
		return userRecord{}, err
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (userRecord, error) {
	return s.user(ctx, `WHERE email=?`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) UserByID(ctx context.Context, id string) (userRecord, error) {
	return s.user(ctx, `WHERE id=?`, id)
}

func (s *Store) user(ctx context.Context, where string, arg any) (userRecord, error) {
	var u userRecord
	var role, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, role, phone, password_hash, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.FullName, &role, &u.Phone, &u.PassHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return userRecord{}, errNotFound
	}
	if err != nil {
		return userRecord{}, err
	}
	u.Role = faults.Role(role)
	u.CreatedAt = parseTime(created)
	return u, nil
}

// --------------------
// Fault requests
// --------------------

const requestColumns = `r.id, r.consumer_id, r.title, r.description, r.location, r.latitude, r.longitude,
  r.photo_url, r.status, r.priority, COALESCE(r.assigned_to, ''), COALESCE(u.full_name, ''),
  r.created_at, r.updated_at`

const requestFrom = ` FROM fault_requests r LEFT JOIN users u ON u.id = r.assigned_to `

func (s *Store) CreateRequest(ctx context.Context, consumerID string, in faults.NewRequest) (faults.FaultRequest, error) {
	now := time.Now().UTC()
	r := faults.FaultRequest{
		ID:          newID(),
		ConsumerID:  consumerID,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		PhotoURL:    in.PhotoURL,
		Status:      faults.StatusOpen,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fault_requests(id, consumer_id, title, description, location, latitude, longitude,
		  photo_url, status, priority, assigned_to, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,NULL,?,?)`,
		r.ID, r.ConsumerID, r.Title, r.Description, r.Location, nullFloat(r.Latitude), nullFloat(r.Longitude),
		r.PhotoURL, string(r.Status), string(r.Priority), formatTime(now), formatTime(now),
	)
	if err != nil {
		return faults.FaultRequest{}, err
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (faults.FaultRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+requestFrom+`WHERE r.id=?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return faults.FaultRequest{}, errNotFound
	}
	return r, err
}

type requestFilter struct {
	ConsumerID string
	AssignedTo string
	Status     faults.Status
}

// ListRequests returns matching requests newest first.
func (s *Store) ListRequests(ctx context.Context, f requestFilter) ([]faults.FaultRequest, error) {
	var where []string
	var args []any
	if f.ConsumerID != "" {
		where = append(where, "r.consumer_id=?")
		args = append(args, f.ConsumerID)
	}
	if f.AssignedTo != "" {
		where = append(where, "r.assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		where = append(where, "r.status=?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + requestColumns + requestFrom
	if len(where) > 0 {
		q += "WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY r.created_at DESC, r.id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []faults.FaultRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateStatus moves the request from `from` to `to` only if it is still in `from`. assignedTo
// replaces the assignee when non-empty.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to faults.Status, assignedTo string) error {
	q := `UPDATE fault_requests SET status=?, updated_at=?`
	args := []any{string(to), formatTime(time.Now())}
	if assignedTo != "" {
		q += `, assigned_to=?`
		args = append(args, assignedTo)
	}
	q += ` WHERE id=? AND status=?`
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc scanner) (faults.FaultRequest, error) {
	var r faults.FaultRequest
	var lat, lon sql.NullFloat64
	var status, priority, created, updated string
	if err := sc.Scan(&r.ID, &r.ConsumerID, &r.Title, &r.Description, &r.Location, &lat, &lon,
		&r.PhotoURL, &status, &priority, &r.AssignedTo, &r.AssignedToName, &created, &updated); err != nil {
		return faults.FaultRequest{}, err
	}
	if lat.Valid {
		v := lat.Float64
		r.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		r.Longitude = &v
	}
	r.Status = faults.Status(status)
	r.Priority = faults.Priority(priority)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// --------------------
// Chat
// --------------------

func (s *Store) InsertMessage(ctx context.Context, m faults.ChatMessage) (faults.ChatMessage, error) {
	m.ID = newID()
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages(id, request_id, sender_id, sender_type, content, created_at)
		VALUES(?,?,?,?,?,?)`,
		m.ID, m.RequestID, m.SenderID, string(m.SenderRole), m.Content, formatTime(m.CreatedAt),
	)
	if err != nil {
		return faults.ChatMessage{}, err
	}
	return m, nil
}

// ListMessages returns the conversation oldest first.
func (s *Store) ListMessages(ctx context.Context, requestID string) ([]faults.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, sender_id, sender_type, content, created_at
		FROM chat_messages
		WHERE request_id=?
		ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []faults.ChatMessage{}
	for rows.Next() {
		var m faults.ChatMessage
		var role, created string
		if err := rows.Scan(&m.ID, &m.RequestID, &m.SenderID, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.SenderRole = faults.Role(role)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
