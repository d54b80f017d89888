package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	records "adms-gateway/internal/records/domain"
)

var kindTables = map[string]string{
	records.KindAttendance:  "attendance_records",
	records.KindOperation:   "operation_records",
	records.KindUser:        "user_records",
	records.KindFingerprint: "fingerprint_records",
	records.KindFace:        "face_records",
}

// Store is a Postgres implementation of the uploaded-record store. Every
// upsert is keyed so a device re-sending the same upload after a missed
// server reply never duplicates rows.
type Store struct {
	db *sql.DB
}

// NewStore constructs a record store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("record store: nil db")
	}
	return &Store{db: db}, nil
}

// UpsertAttendance inserts or refreshes attendance rows and returns the
// number of rows written.
func (s *Store) UpsertAttendance(ctx context.Context, recs []records.Attendance) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	n := 0
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO attendance_records (
	pin, event_time, verify_mode, inout_mode, work_code, serial_number, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (pin, event_time, serial_number) DO UPDATE
SET verify_mode = EXCLUDED.verify_mode,
	inout_mode = EXCLUDED.inout_mode,
	work_code = EXCLUDED.work_code,
	received_at = EXCLUDED.received_at`,
			rec.PIN, rec.Timestamp, rec.VerifyMode, rec.InOutMode, rec.WorkCode, rec.SerialNumber, rec.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("record store: upsert attendance: %w", err)
		}
		n++
	}
	return n, nil
}

// UpsertUsers inserts or refreshes user rows.
func (s *Store) UpsertUsers(ctx context.Context, recs []records.User) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	n := 0
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO user_records (
	pin, name, privilege, password, card, serial_number, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (pin, serial_number) DO UPDATE
SET name = EXCLUDED.name,
	privilege = EXCLUDED.privilege,
	password = EXCLUDED.password,
	card = EXCLUDED.card,
	received_at = EXCLUDED.received_at`,
			rec.PIN, rec.Name, rec.Privilege, rec.Password, rec.Card, rec.SerialNumber, rec.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("record store: upsert user: %w", err)
		}
		n++
	}
	return n, nil
}

// UpsertOperations inserts or refreshes operation-log rows.
func (s *Store) UpsertOperations(ctx context.Context, recs []records.Operation) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	n := 0
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO operation_records (
	op_code, user_pin, serial_number, received_at
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (op_code, user_pin, serial_number) DO UPDATE
SET received_at = EXCLUDED.received_at`,
			rec.Code, rec.UserPIN, rec.SerialNumber, rec.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("record store: upsert operation: %w", err)
		}
		n++
	}
	return n, nil
}

// UpsertFingerprints inserts or refreshes fingerprint template rows.
func (s *Store) UpsertFingerprints(ctx context.Context, recs []records.Fingerprint) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	n := 0
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO fingerprint_records (
	pin, finger_id, size, valid, template, serial_number, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (pin, finger_id, serial_number) DO UPDATE
SET size = EXCLUDED.size,
	valid = EXCLUDED.valid,
	template = EXCLUDED.template,
	received_at = EXCLUDED.received_at`,
			rec.PIN, rec.FingerID, rec.Size, rec.Valid, rec.Template, rec.SerialNumber, rec.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("record store: upsert fingerprint: %w", err)
		}
		n++
	}
	return n, nil
}

// UpsertFaces inserts or refreshes face template rows.
func (s *Store) UpsertFaces(ctx context.Context, recs []records.Face) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	n := 0
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO face_records (
	pin, face_id, size, valid, template, serial_number, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (pin, face_id, serial_number) DO UPDATE
SET size = EXCLUDED.size,
	valid = EXCLUDED.valid,
	template = EXCLUDED.template,
	received_at = EXCLUDED.received_at`,
			rec.PIN, rec.FaceID, rec.Size, rec.Valid, rec.Template, rec.SerialNumber, rec.ReceivedAt)
		if err != nil {
			return n, fmt.Errorf("record store: upsert face: %w", err)
		}
		n++
	}
	return n, nil
}

// Summary returns row counts per record kind.
func (s *Store) Summary(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("record store: nil db")
	}
	out := make(map[string]int, len(kindTables))
	for kind, table := range kindTables {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("record store: count %s: %w", kind, err)
		}
		out[kind] = n
	}
	return out, nil
}

// ListAttendance returns the most recent attendance rows, optionally
// filtered by device serial number.
func (s *Store) ListAttendance(ctx context.Context, serialNumber string, limit int) ([]records.Attendance, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("record store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT pin, event_time, verify_mode, inout_mode, work_code, serial_number, received_at
FROM attendance_records`
	args := []any{}
	if serialNumber != "" {
		query += `
WHERE serial_number = $1`
		args = append(args, serialNumber)
	}
	query += fmt.Sprintf(`
ORDER BY event_time DESC
LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record store: list attendance: %w", err)
	}
	defer rows.Close()

	var out []records.Attendance
	for rows.Next() {
		var rec records.Attendance
		if err := rows.Scan(&rec.PIN, &rec.Timestamp, &rec.VerifyMode, &rec.InOutMode, &rec.WorkCode, &rec.SerialNumber, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("record store: scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListUsers returns user rows, optionally filtered by device serial number.
func (s *Store) ListUsers(ctx context.Context, serialNumber string, limit int) ([]records.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("record store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT pin, name, privilege, password, card, serial_number, received_at
FROM user_records`
	args := []any{}
	if serialNumber != "" {
		query += `
WHERE serial_number = $1`
		args = append(args, serialNumber)
	}
	query += fmt.Sprintf(`
ORDER BY pin
LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record store: list users: %w", err)
	}
	defer rows.Close()

	var out []records.User
	for rows.Next() {
		var rec records.User
		if err := rows.Scan(&rec.PIN, &rec.Name, &rec.Privilege, &rec.Password, &rec.Card, &rec.SerialNumber, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("record store: scan user: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Clear deletes every row of one record kind and returns the number of
// rows removed.
func (s *Store) Clear(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("record store: nil db")
	}
	table, ok := kindTables[kind]
	if !ok {
		return 0, fmt.Errorf("record store: unknown kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("record store: clear %s: %w", kind, err)
	}
	return res.RowsAffected()
}
