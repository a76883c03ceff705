package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for an unknown capture or attachment id.
var ErrNotFound = errors.New("not found")

const defaultLimit = 10

// recipientSep joins addresses inside group_concat; it cannot appear in an
// address accepted by RCPT.
const recipientSep = "\n"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS captures (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		sender TEXT NOT NULL,
		subject TEXT NOT NULL,
		text_body TEXT NOT NULL,
		raw BLOB NOT NULL,
		received_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS capture_recipients (
		capture_seq INTEGER NOT NULL REFERENCES captures(seq) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (capture_seq, position)
	);`,
	`CREATE INDEX IF NOT EXISTS capture_recipients_by_address ON capture_recipients(address);`,
	`CREATE TABLE IF NOT EXISTS capture_attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_seq INTEGER NOT NULL REFERENCES captures(seq) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL
	);`,
}

// Store keeps sandbox captures in an in-memory SQLite database. Nothing
// survives the process.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Save writes a capture with its recipients and attachments in one
// transaction.
func (s *Store) Save(ctx context.Context, c Capture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO captures (id, sender, subject, text_body, raw, received_at) VALUES (?, ?, ?, ?, ?, ?);`,
		c.ID, c.From, c.Subject, c.TextBody, c.Raw, c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save capture %s: %w", c.ID, err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("save capture %s: %w", c.ID, err)
	}

	for position, address := range c.To {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capture_recipients (capture_seq, position, address) VALUES (?, ?, ?);`,
			seq, position, address); err != nil {
			return fmt.Errorf("save recipient %s: %w", address, err)
		}
	}
	for _, a := range c.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capture_attachments (capture_seq, filename, content_type, data) VALUES (?, ?, ?, ?);`,
			seq, a.Filename, a.ContentType, a.Data); err != nil {
			return fmt.Errorf("save attachment %s: %w", a.Filename, err)
		}
	}
	return tx.Commit()
}

// List returns one page of captures in arrival order, newest first unless
// f.Oldest is set, along with the number of captures matching f.Address as
// sender or recipient.
func (s *Store) List(ctx context.Context, f Filter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	f.Offset = max(f.Offset, 0)

	var (
		where string
		args  []any
	)
	if address := strings.ToLower(strings.TrimSpace(f.Address)); address != "" {
		where = ` WHERE c.sender = ? OR c.seq IN (SELECT capture_seq FROM capture_recipients WHERE address = ?)`
		args = []any{address, address}
	}

	var page Page
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures c`+where, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count captures: %w", err)
	}

	order := " DESC"
	if f.Oldest {
		order = " ASC"
	}
	query := `SELECT c.id, c.sender, c.subject, c.received_at,
		COALESCE((SELECT group_concat(address, '` + recipientSep + `') FROM
			(SELECT address FROM capture_recipients WHERE capture_seq = c.seq ORDER BY position)), ''),
		EXISTS (SELECT 1 FROM capture_attachments WHERE capture_seq = c.seq)
		FROM captures c` + where + ` ORDER BY c.seq` + order + ` LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			summary    Summary
			receivedAt int64
			to         string
		)
		if err := rows.Scan(&summary.ID, &summary.From, &summary.Subject, &receivedAt, &to, &summary.HasAttachments); err != nil {
			return Page{}, fmt.Errorf("scan capture: %w", err)
		}
		summary.CreatedAt = time.Unix(receivedAt, 0)
		summary.To = splitRecipients(to)
		page.Captures = append(page.Captures, summary)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list captures: %w", err)
	}
	return page, nil
}

// Capture loads one capture with its recipients and attachment metadata.
func (s *Store) Capture(ctx context.Context, id string) (Capture, error) {
	var (
		c          Capture
		seq        int64
		receivedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, id, sender, subject, text_body, raw, received_at FROM captures WHERE id = ?;`, id).
		Scan(&seq, &c.ID, &c.From, &c.Subject, &c.TextBody, &c.Raw, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNotFound
	}
	if err != nil {
		return Capture{}, fmt.Errorf("load capture %s: %w", id, err)
	}
	c.CreatedAt = time.Unix(receivedAt, 0)

	if c.To, err = s.recipients(ctx, seq); err != nil {
		return Capture{}, err
	}
	if c.Attachments, err = s.attachments(ctx, seq); err != nil {
		return Capture{}, err
	}
	return c, nil
}

// Attachment loads a single attachment including its data.
func (s *Store) Attachment(ctx context.Context, id int64) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, content_type, data, length(data) FROM capture_attachments WHERE id = ?;`, id).
		Scan(&a.ID, &a.Filename, &a.ContentType, &a.Data, &a.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("load attachment %d: %w", id, err)
	}
	return a, nil
}

// Clear drops every capture and reports how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM captures;`)
	if err != nil {
		return 0, fmt.Errorf("clear captures: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) recipients(ctx context.Context, seq int64) ([]string, error) {
	var to string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(group_concat(address, '`+recipientSep+`'), '') FROM
			(SELECT address FROM capture_recipients WHERE capture_seq = ? ORDER BY position);`, seq).Scan(&to)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	return splitRecipients(to), nil
}

func (s *Store) attachments(ctx context.Context, seq int64) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, content_type, length(data) FROM capture_attachments WHERE capture_seq = ? ORDER BY id;`, seq)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.Filename, &a.ContentType, &a.Size); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func splitRecipients(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, recipientSep)
}
