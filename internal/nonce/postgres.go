package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"atms/identity/internal/db"
	"atms/identity/internal/model"
)

type PostgresStore struct {
	db *db.Store
}

func NewPostgresStore(store *db.Store) *PostgresStore {
	return &PostgresStore{db: store}
}

func (s *PostgresStore) Upsert(ctx context.Context, n model.Nonce) error {
	_, err := s.db.Pool.Exec(ctx, `
    INSERT INTO nonces (address, nonce, expires_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (address) DO UPDATE SET nonce = EXCLUDED.nonce, expires_at = EXCLUDED.expires_at
  `, n.Address, n.Value, n.ExpiresAt)
	return err
}

// ConsumeMatching locks the address row so concurrent validations serialize;
// a waiter sees the row gone once the winner commits.
func (s *PostgresStore) ConsumeMatching(ctx context.Context, address, value string, now time.Time) (Outcome, error) {
	outcome := OutcomeNotFound
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		stored := model.Nonce{Address: address}
		err := tx.QueryRow(ctx, `
      SELECT nonce, expires_at FROM nonces WHERE address = $1 FOR UPDATE
    `, address).Scan(&stored.Value, &stored.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		outcome = decide(stored, value, now)
		if outcome == OutcomeMismatch {
			return nil
		}
		_, err = tx.Exec(ctx, `DELETE FROM nonces WHERE address = $1`, address)
		return err
	})
	if err != nil {
		return OutcomeNotFound, err
	}
	return outcome, nil
}
