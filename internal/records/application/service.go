package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	records "adms-gateway/internal/records/domain"
)

// Store persists parsed upload records keyed so duplicate uploads are
// idempotent.
type Store interface {
	UpsertAttendance(ctx context.Context, recs []records.Attendance) (int, error)
	UpsertUsers(ctx context.Context, recs []records.User) (int, error)
	UpsertOperations(ctx context.Context, recs []records.Operation) (int, error)
	UpsertFingerprints(ctx context.Context, recs []records.Fingerprint) (int, error)
	UpsertFaces(ctx context.Context, recs []records.Face) (int, error)
	Summary(ctx context.Context) (map[string]int, error)
	ListAttendance(ctx context.Context, serialNumber string, limit int) ([]records.Attendance, error)
	ListUsers(ctx context.Context, serialNumber string, limit int) ([]records.User, error)
	Clear(ctx context.Context, kind string) (int64, error)
}

// Service ingests raw device upload bodies and persists the parsed rows.
// Malformed lines are logged and skipped; one bad line never rejects the
// rest of an upload.
type Service struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewService constructs a record ingest service.
func NewService(store Store, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("records service: nil store")
	}
	if logger == nil {
		return nil, errors.New("records service: nil logger")
	}
	return &Service{store: store, logger: logger, now: time.Now}, nil
}

// IngestAttendance parses an ATTLOG upload body and upserts the rows.
// Returns the number of rows accepted.
func (s *Service) IngestAttendance(ctx context.Context, serialNumber, body string) (int, error) {
	receivedAt := s.now().UTC()
	var recs []records.Attendance
	for _, line := range splitLines(body) {
		rec, err := records.ParseAttendanceLine(line)
		if err != nil {
			s.logger.Printf("records: sn=%s skip attendance line: %v", serialNumber, err)
			continue
		}
		rec.SerialNumber = serialNumber
		rec.ReceivedAt = receivedAt
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return s.store.UpsertAttendance(ctx, recs)
}

// IngestOperlog parses an OPERLOG upload body, which mixes OPLOG, USER,
// FP and FACE lines, and upserts each kind. Returns the total number of
// rows accepted.
func (s *Service) IngestOperlog(ctx context.Context, serialNumber, body string) (int, error) {
	receivedAt := s.now().UTC()
	var (
		ops   []records.Operation
		users []records.User
		fps   []records.Fingerprint
		faces []records.Face
	)
	for _, line := range splitLines(body) {
		switch {
		case strings.HasPrefix(line, "OPLOG "):
			rec, err := records.ParseOperationLine(line)
			if err != nil {
				s.logger.Printf("records: sn=%s skip operation line: %v", serialNumber, err)
				continue
			}
			rec.SerialNumber = serialNumber
			rec.ReceivedAt = receivedAt
			ops = append(ops, rec)
		case strings.HasPrefix(line, "USER "):
			rec, err := records.ParseUserLine(line)
			if err != nil {
				s.logger.Printf("records: sn=%s skip user line: %v", serialNumber, err)
				continue
			}
			rec.SerialNumber = serialNumber
			rec.ReceivedAt = receivedAt
			users = append(users, rec)
		case strings.HasPrefix(line, "FP "):
			rec, err := records.ParseFingerprintLine(line)
			if err != nil {
				s.logger.Printf("records: sn=%s skip fingerprint line: %v", serialNumber, err)
				continue
			}
			rec.SerialNumber = serialNumber
			rec.ReceivedAt = receivedAt
			fps = append(fps, rec)
		case strings.HasPrefix(line, "FACE "):
			rec, err := records.ParseFaceLine(line)
			if err != nil {
				s.logger.Printf("records: sn=%s skip face line: %v", serialNumber, err)
				continue
			}
			rec.SerialNumber = serialNumber
			rec.ReceivedAt = receivedAt
			faces = append(faces, rec)
		default:
			s.logger.Printf("records: sn=%s skip unrecognized operlog line: %q", serialNumber, line)
		}
	}

	total := 0
	if len(ops) > 0 {
		n, err := s.store.UpsertOperations(ctx, ops)
		total += n
		if err != nil {
			return total, err
		}
	}
	if len(users) > 0 {
		n, err := s.store.UpsertUsers(ctx, users)
		total += n
		if err != nil {
			return total, err
		}
	}
	if len(fps) > 0 {
		n, err := s.store.UpsertFingerprints(ctx, fps)
		total += n
		if err != nil {
			return total, err
		}
	}
	if len(faces) > 0 {
		n, err := s.store.UpsertFaces(ctx, faces)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Summary returns row counts per record kind.
func (s *Service) Summary(ctx context.Context) (map[string]int, error) {
	return s.store.Summary(ctx)
}

// ListAttendance returns recent attendance rows.
func (s *Service) ListAttendance(ctx context.Context, serialNumber string, limit int) ([]records.Attendance, error) {
	return s.store.ListAttendance(ctx, serialNumber, limit)
}

// ListUsers returns stored user rows.
func (s *Service) ListUsers(ctx context.Context, serialNumber string, limit int) ([]records.User, error) {
	return s.store.ListUsers(ctx, serialNumber, limit)
}

// Clear removes every stored row of one kind.
func (s *Service) Clear(ctx context.Context, kind string) (int64, error) {
	if !records.ValidKind(kind) {
		return 0, errors.New("records service: unknown kind " + kind)
	}
	return s.store.Clear(ctx, kind)
}

func splitLines(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	out := raw[:0]
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
