package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"atms/identity/internal/db"
	"atms/identity/internal/model"
)

type Store struct {
	db *db.Store
}

func NewStore(store *db.Store) *Store {
	return &Store{db: store}
}

func (s *Store) FindAccount(ctx context.Context, walletAddress, role string) (model.Account, error) {
	row := s.db.Pool.QueryRow(ctx, `
    SELECT id, wallet_address, role, details, pending, created_at
    FROM accounts
    WHERE wallet_address = $1 AND role = $2
  `, walletAddress, role)
	return scanAccount(row)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.Pool.QueryRow(ctx, `
    SELECT id, wallet_address, role, details, pending, created_at
    FROM accounts
    WHERE id = $1
  `, id)
	return scanAccount(row)
}

func (s *Store) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := s.db.Pool.Exec(ctx, `
    INSERT INTO accounts (id, wallet_address, role, details, pending, created_at)
    VALUES ($1, $2, $3, $4, $5, $6)
  `, account.ID, account.WalletAddress, account.Role, account.Details, account.Pending, account.CreatedAt)
	return mapWriteError(err)
}

func (s *Store) UpdateAccountDetails(ctx context.Context, id string, details model.AccountDetails) (model.Account, error) {
	row := s.db.Pool.QueryRow(ctx, `
    UPDATE accounts SET details = $2
    WHERE id = $1
    RETURNING id, wallet_address, role, details, pending, created_at
  `, id, details)
	return scanAccount(row)
}

func (s *Store) ListPendingAccounts(ctx context.Context, role string) ([]model.Account, error) {
	rows, err := s.db.Pool.Query(ctx, `
    SELECT id, wallet_address, role, details, pending, created_at
    FROM accounts
    WHERE pending AND ($1 = '' OR role = $1)
    ORDER BY created_at ASC, id ASC
  `, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *Store) ApproveAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.Pool.QueryRow(ctx, `
    UPDATE accounts SET pending = false
    WHERE id = $1 AND pending
    RETURNING id, wallet_address, role, details, pending, created_at
  `, id)
	return scanAccount(row)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var account model.Account
	err := row.Scan(&account.ID, &account.WalletAddress, &account.Role, &account.Details, &account.Pending, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return account, err
}

// mapWriteError turns constraint violations into repository errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return ErrDuplicate
	case "23503":
		return ErrNotFound
	}
	return err
}

func (s *Store) GetStudent(ctx context.Context, id string) (model.Student, error) {
	var student model.Student
	err := s.db.SQL.GetContext(ctx, &student, `
    SELECT id, name, matric_number, wallet_address, faculty, programme, department, level
    FROM students
    WHERE id = $1
  `, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrNotFound
	}
	return student, err
}

type overviewRow struct {
	model.Student
	RecordID        sql.NullString  `db:"record_id"`
	Session         sql.NullString  `db:"record_session"`
	Semester        sql.NullString  `db:"record_semester"`
	RecordLevel     sql.NullInt64   `db:"record_level"`
	CoursesJSON     []byte          `db:"record_courses"`
	SemesterGPA     sql.NullFloat64 `db:"record_semester_gpa"`
	TotalCreditUnit sql.NullInt64   `db:"record_total_credit_unit"`
	TranscriptHash  *string         `db:"record_transcript_hash"`
	CreatedAt       sql.NullTime    `db:"record_created_at"`
}

func (s *Store) ListStudents(ctx context.Context) ([]model.StudentOverview, error) {
	var rows []overviewRow
	err := s.db.SQL.SelectContext(ctx, &rows, `
    SELECT s.id, s.name, s.matric_number, s.wallet_address, s.faculty, s.programme, s.department, s.level,
      r.id AS record_id, r.session AS record_session, r.semester AS record_semester, r.level AS record_level,
      r.courses AS record_courses, r.semester_gpa AS record_semester_gpa,
      r.total_credit_unit AS record_total_credit_unit, r.transcript_hash AS record_transcript_hash,
      r.created_at AS record_created_at
    FROM students s
    LEFT JOIN LATERAL (
      SELECT id, session, semester, level, courses, semester_gpa, total_credit_unit, transcript_hash, created_at
      FROM semester_records
      WHERE student_id = s.id
      ORDER BY created_at DESC, id DESC
      LIMIT 1
    ) r ON true
    ORDER BY s.name ASC, s.id ASC
  `)
	if err != nil {
		return nil, err
	}
	out := make([]model.StudentOverview, 0, len(rows))
	for _, row := range rows {
		overview := model.StudentOverview{Student: row.Student}
		if row.RecordID.Valid {
			latest := model.SemesterRecord{
				ID:              row.RecordID.String,
				StudentID:       row.Student.ID,
				Session:         row.Session.String,
				Semester:        row.Semester.String,
				Level:           int(row.RecordLevel.Int64),
				SemesterGPA:     row.SemesterGPA.Float64,
				TotalCreditUnit: int(row.TotalCreditUnit.Int64),
				TranscriptHash:  row.TranscriptHash,
				CreatedAt:       row.CreatedAt.Time,
			}
			if len(row.CoursesJSON) > 0 {
				if err := json.Unmarshal(row.CoursesJSON, &latest.Courses); err != nil {
					return nil, err
				}
			}
			overview.Latest = &latest
		}
		out = append(out, overview)
	}
	return out, nil
}

type semesterRow struct {
	model.SemesterRecord
	CoursesJSON []byte `db:"courses"`
}

func (s *Store) ListSemesterRecords(ctx context.Context, studentID string) ([]model.SemesterRecord, error) {
	var rows []semesterRow
	err := s.db.SQL.SelectContext(ctx, &rows, `
    SELECT id, student_id, session, semester, level, courses, semester_gpa, total_credit_unit, transcript_hash, created_at
    FROM semester_records
    WHERE student_id = $1
    ORDER BY session ASC, semester ASC
  `, studentID)
	if err != nil {
		return nil, err
	}
	records := make([]model.SemesterRecord, 0, len(rows))
	for _, row := range rows {
		record := row.SemesterRecord
		if len(row.CoursesJSON) > 0 {
			if err := json.Unmarshal(row.CoursesJSON, &record.Courses); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) UpdateLatestHash(ctx context.Context, studentID, hash string) (HashUpdate, error) {
	var result HashUpdate
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var id string
		var current *string
		err := tx.QueryRow(ctx, `
      SELECT id, transcript_hash
      FROM semester_records
      WHERE student_id = $1
      ORDER BY created_at DESC, id DESC
      LIMIT 1
      FOR UPDATE
    `, studentID).Scan(&id, &current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result.Matched = 1
		if current != nil && *current == hash {
			return nil
		}
		tag, err := tx.Exec(ctx, `UPDATE semester_records SET transcript_hash = $2 WHERE id = $1`, id, hash)
		if err != nil {
			return err
		}
		result.Modified = tag.RowsAffected()
		return nil
	})
	return result, err
}

func (s *Store) InsertStudent(ctx context.Context, student model.Student) error {
	_, err := s.db.SQL.NamedExecContext(ctx, `
    INSERT INTO students (id, name, matric_number, wallet_address, faculty, programme, department, level)
    VALUES (:id, :name, :matric_number, :wallet_address, :faculty, :programme, :department, :level)
  `, student)
	return mapWriteError(err)
}

func (s *Store) InsertSemesterRecord(ctx context.Context, record model.SemesterRecord) error {
	courses, err := json.Marshal(record.Courses)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `
    INSERT INTO semester_records (id, student_id, session, semester, level, courses, semester_gpa, total_credit_unit, transcript_hash, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  `, record.ID, record.StudentID, record.Session, record.Semester, record.Level, courses, record.SemesterGPA, record.TotalCreditUnit, record.TranscriptHash, record.CreatedAt)
	return mapWriteError(err)
}
