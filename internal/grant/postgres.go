package grant

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"atms/identity/internal/db"
	"atms/identity/internal/model"
)

const grantColumns = `id, student_id, verifier_address, status, shared_date, expiration, created_at, revoked_at`

type PostgresStore struct {
	db *db.Store
}

func NewPostgresStore(store *db.Store) *PostgresStore {
	return &PostgresStore{db: store}
}

func (s *PostgresStore) Insert(ctx context.Context, g model.Grant) error {
	_, err := s.db.Pool.Exec(ctx, `
    INSERT INTO sharing_grants (id, student_id, verifier_address, status, shared_date, expiration, created_at, revoked_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, g.ID, g.StudentID, g.VerifierAddress, string(g.Status), g.SharedDate, g.Expiration, g.CreatedAt, g.RevokedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Grant, error) {
	row := s.db.Pool.QueryRow(ctx, `SELECT `+grantColumns+` FROM sharing_grants WHERE id = $1`, id)
	return scanGrant(row)
}

func (s *PostgresStore) Approve(ctx context.Context, id string, now time.Time) (model.Grant, error) {
	row := s.db.Pool.QueryRow(ctx, `
    UPDATE sharing_grants SET status = 'approved', shared_date = $2
    WHERE id = $1 AND status = 'pending' AND expiration > $2
    RETURNING `+grantColumns, id, now)
	return s.transitioned(ctx, id, row)
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) (model.Grant, error) {
	row := s.db.Pool.QueryRow(ctx, `
    UPDATE sharing_grants SET status = 'revoked', revoked_at = $2
    WHERE id = $1 AND status IN ('pending', 'approved')
    RETURNING `+grantColumns, id, now)
	return s.transitioned(ctx, id, row)
}

func (s *PostgresStore) FindActive(ctx context.Context, studentID, verifierAddress string, now time.Time) (model.Grant, error) {
	row := s.db.Pool.QueryRow(ctx, `
    SELECT `+grantColumns+`
    FROM sharing_grants
    WHERE student_id = $1 AND verifier_address = $2 AND status = 'approved' AND expiration > $3
    ORDER BY expiration DESC
    LIMIT 1
  `, studentID, verifierAddress, now)
	return scanGrant(row)
}

func (s *PostgresStore) ListByStudent(ctx context.Context, studentID string) ([]model.Grant, error) {
	rows, err := s.db.Pool.Query(ctx, `
    SELECT `+grantColumns+` FROM sharing_grants WHERE student_id = $1 ORDER BY created_at DESC
  `, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []model.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `
    UPDATE sharing_grants SET status = 'expired'
    WHERE status IN ('pending', 'approved') AND expiration <= $1
  `, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// transitioned tells a missing grant apart from one in the wrong state when
// a conditional update matched nothing.
func (s *PostgresStore) transitioned(ctx context.Context, id string, row pgx.Row) (model.Grant, error) {
	g, err := scanGrant(row)
	if !errors.Is(err, ErrNotFound) {
		return g, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return model.Grant{}, err
	}
	return model.Grant{}, ErrInvalidTransition
}

func scanGrant(row pgx.Row) (model.Grant, error) {
	var g model.Grant
	var status string
	err := row.Scan(&g.ID, &g.StudentID, &g.VerifierAddress, &status, &g.SharedDate, &g.Expiration, &g.CreatedAt, &g.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Grant{}, ErrNotFound
	}
	if err != nil {
		return model.Grant{}, err
	}
	g.Status = model.GrantStatus(status)
	return g, nil
}
