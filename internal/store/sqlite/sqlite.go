package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

// Schema creates all tables. Applied on startup; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS help_requests (
	id                    TEXT PRIMARY KEY,
	category              TEXT NOT NULL,
	lat                   REAL NOT NULL,
	lng                   REAL NOT NULL,
	location_text         TEXT NOT NULL DEFAULT '',
	content               TEXT NOT NULL,
	source                TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'new',
	assigned_volunteer_id TEXT NOT NULL DEFAULT '',
	assignment_id         TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS volunteers (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	phone        TEXT NOT NULL,
	skills       TEXT NOT NULL,
	verified     BOOLEAN NOT NULL DEFAULT 0,
	availability TEXT NOT NULL DEFAULT 'offline',
	lat          REAL,
	lng          REAL,
	code_digest  TEXT NOT NULL UNIQUE,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assignments (
	id              TEXT PRIMARY KEY,
	request_id      TEXT NOT NULL UNIQUE,
	volunteer_id    TEXT NOT NULL,
	requester_token TEXT NOT NULL,
	volunteer_token TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (request_id) REFERENCES help_requests(id),
	FOREIGN KEY (volunteer_id) REFERENCES volunteers(id)
);

CREATE TABLE IF NOT EXISTS operators (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON help_requests(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_volunteers_dispatch ON volunteers(verified, availability);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single connection serializes writers; the guarded UPDATEs below rely
	// on that for their compare-and-swap semantics.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== RequestStore implementation ====

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *store.HelpRequest) error {
	query := `
		INSERT INTO help_requests (id, category, lat, lng, location_text, content, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.ID, string(req.Category), req.Location.Lat, req.Location.Lng,
		req.LocationText, req.Content, string(req.Source), string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert help request: %w", err)
	}
	return nil
}

const requestColumns = `id, category, lat, lng, location_text, content, source, status, assigned_volunteer_id, assignment_id, created_at`

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*store.HelpRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM help_requests WHERE id = ?`
	return scanRequest(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) MarkRequestAssigned(ctx context.Context, id, volunteerID, assignmentID string) (bool, error) {
	// Guarded transition: only one concurrent caller observes rows=1.
	query := `
		UPDATE help_requests
		SET status = 'assigned', assigned_volunteer_id = ?, assignment_id = ?
		WHERE id = ? AND status IN ('new', 'pending_review')
	`
	result, err := s.db.ExecContext(ctx, query, volunteerID, assignmentID, id)
	if err != nil {
		return false, fmt.Errorf("mark request assigned: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) ReopenRequest(ctx context.Context, id string) error {
	query := `
		UPDATE help_requests
		SET status = 'new', assigned_volunteer_id = '', assignment_id = ''
		WHERE id = ? AND status = 'assigned'
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("reopen request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkRequestPendingReview(ctx context.Context, id string) error {
	query := `UPDATE help_requests SET status = 'pending_review' WHERE id = ? AND status = 'new'`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark request pending review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkRequestClosed(ctx context.Context, id string) error {
	query := `UPDATE help_requests SET status = 'closed' WHERE id = ? AND status != 'closed'`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark request closed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveRequests(ctx context.Context, limit int) ([]*store.HelpRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM help_requests
		WHERE status IN ('new', 'pending_review', 'assigned')
		ORDER BY created_at DESC
		LIMIT ?
	`
	return s.queryRequests(ctx, query, limit)
}

func (s *SQLiteStore) ListPendingReview(ctx context.Context) ([]*store.HelpRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM help_requests
		WHERE status = 'pending_review'
		ORDER BY created_at ASC
	`
	return s.queryRequests(ctx, query)
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...any) ([]*store.HelpRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query help requests: %w", err)
	}
	defer rows.Close()

	var out []*store.HelpRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*store.HelpRequest, error) {
	var (
		req      store.HelpRequest
		category string
		source   string
		status   string
	)
	err := row.Scan(&req.ID, &category, &req.Location.Lat, &req.Location.Lng,
		&req.LocationText, &req.Content, &source, &status,
		&req.AssignedVolunteerID, &req.AssignmentID, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan help request: %w", err)
	}
	req.Category = store.Category(category)
	req.Source = store.RequestSource(source)
	req.Status = store.RequestStatus(status)
	return &req, nil
}

// ==== VolunteerStore implementation ====

func (s *SQLiteStore) CreateVolunteer(ctx context.Context, v *store.Volunteer, codeDigest string) error {
	query := `
		INSERT INTO volunteers (id, name, phone, skills, verified, availability, lat, lng, code_digest, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var lat, lng any
	if v.Location != nil {
		lat, lng = v.Location.Lat, v.Location.Lng
	}
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.Name, v.Phone, joinSkills(v.Skills), v.Verified, string(v.Available),
		lat, lng, codeDigest, v.CreatedAt, v.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("insert volunteer: %w", err)
	}
	return nil
}

const volunteerColumns = `id, name, phone, skills, verified, availability, lat, lng, created_at, last_seen`

func (s *SQLiteStore) GetVolunteer(ctx context.Context, id string) (*store.Volunteer, error) {
	query := `SELECT ` + volunteerColumns + ` FROM volunteers WHERE id = ?`
	return scanVolunteer(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) GetVolunteerByCodeDigest(ctx context.Context, digest string) (*store.Volunteer, error) {
	query := `SELECT ` + volunteerColumns + ` FROM volunteers WHERE code_digest = ?`
	return scanVolunteer(s.db.QueryRowContext(ctx, query, digest))
}

func (s *SQLiteStore) MarkVolunteerVerified(ctx context.Context, id string) error {
	query := `
		UPDATE volunteers
		SET verified = 1, availability = 'available', last_seen = ?
		WHERE id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark volunteer verified: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimVolunteer(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE volunteers
		SET availability = 'busy', last_seen = ?
		WHERE id = ? AND availability = 'available' AND verified = 1
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("claim volunteer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) ReleaseVolunteer(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE volunteers
		SET availability = 'available', last_seen = ?
		WHERE id = ? AND availability = 'busy'
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("release volunteer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) SetVolunteerAvailability(ctx context.Context, id string, a store.Availability) error {
	query := `UPDATE volunteers SET availability = ?, last_seen = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(a), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set volunteer availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListMatchable(ctx context.Context, c store.Category) ([]*store.Volunteer, error) {
	// Skill filtering happens here on the comma-joined column; distance
	// filtering and ordering happen in the registry, which knows haversine.
	query := `
		SELECT ` + volunteerColumns + `
		FROM volunteers
		WHERE verified = 1 AND availability = 'available'
		  AND (',' || skills || ',') LIKE ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, "%,"+string(c)+",%")
	if err != nil {
		return nil, fmt.Errorf("query matchable volunteers: %w", err)
	}
	defer rows.Close()

	var out []*store.Volunteer
	for rows.Next() {
		v, err := scanVolunteer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVolunteer(row rowScanner) (*store.Volunteer, error) {
	var (
		v            store.Volunteer
		skills       string
		availability string
		lat, lng     sql.NullFloat64
	)
	err := row.Scan(&v.ID, &v.Name, &v.Phone, &skills, &v.Verified, &availability,
		&lat, &lng, &v.CreatedAt, &v.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan volunteer: %w", err)
	}
	v.Skills = splitSkills(skills)
	v.Available = store.Availability(availability)
	if lat.Valid && lng.Valid {
		v.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &v, nil
}

func joinSkills(skills []store.Category) string {
	parts := make([]string, 0, len(skills))
	for _, s := range skills {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}

func splitSkills(raw string) []store.Category {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]store.Category, 0, len(parts))
	for _, p := range parts {
		out = append(out, store.Category(p))
	}
	return out
}

// ==== AssignmentStore implementation ====

func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *store.Assignment) error {
	query := `
		INSERT INTO assignments (id, request_id, volunteer_id, requester_token, volunteer_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.RequestID, a.VolunteerID, a.RequesterToken, a.VolunteerToken, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*store.Assignment, error) {
	query := `
		SELECT id, request_id, volunteer_id, requester_token, volunteer_token, created_at
		FROM assignments
		WHERE id = ?
	`
	return scanAssignment(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) DeleteAssignment(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAssignmentByRequest(ctx context.Context, requestID string) (*store.Assignment, error) {
	query := `
		SELECT id, request_id, volunteer_id, requester_token, volunteer_token, created_at
		FROM assignments
		WHERE request_id = ?
	`
	return scanAssignment(s.db.QueryRowContext(ctx, query, requestID))
}

func scanAssignment(row rowScanner) (*store.Assignment, error) {
	var a store.Assignment
	err := row.Scan(&a.ID, &a.RequestID, &a.VolunteerID, &a.RequesterToken, &a.VolunteerToken, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	return &a, nil
}

// ==== OperatorStore implementation ====

func (s *SQLiteStore) CreateOperator(ctx context.Context, op *store.Operator) error {
	query := `
		INSERT INTO operators (id, email, full_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, op.ID, op.Email, op.FullName, op.PasswordHash, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOperatorByEmail(ctx context.Context, email string) (*store.Operator, error) {
	query := `
		SELECT id, email, full_name, password_hash, created_at
		FROM operators
		WHERE email = ?
	`
	var op store.Operator
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&op.ID, &op.Email, &op.FullName, &op.PasswordHash, &op.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query operator: %w", err)
	}
	return &op, nil
}
