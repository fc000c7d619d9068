package grant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"

	"atms/identity/internal/dbtest"
	"atms/identity/internal/model"
)

const verifierAddr = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"

type fixture struct {
	store     Store
	studentID string
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, func(t *testing.T) fixture {
		return fixture{store: NewMemoryStore(), studentID: uuid.NewString()}
	})
}

func TestPostgresStore(t *testing.T) {
	exerciseStore(t, func(t *testing.T) fixture {
		store := dbtest.Postgres(t)
		studentID := uuid.NewString()
		_, err := store.Pool.Exec(context.Background(), `
      INSERT INTO students (id, name, matric_number, wallet_address) VALUES ($1, 'Ada Obi', $2, '0x1111111111111111111111111111111111111111')
    `, studentID, "MAT/"+studentID[:8])
		require.NoError(t, err)
		return fixture{store: NewPostgresStore(store), studentID: studentID}
	})
}

func exerciseStore(t *testing.T, open func(*testing.T) fixture) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *abtime.ManualTime, string) {
		f := open(t)
		clock := abtime.NewManual()
		return NewService(f.store, clock, 24*time.Hour), clock, f.studentID
	}

	t.Run("create is pending and inactive", func(t *testing.T) {
		svc, _, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, model.GrantPending, g.Status)
		assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", g.VerifierAddress)
		assert.Nil(t, g.SharedDate)

		active, err := svc.IsActive(ctx, studentID, verifierAddr)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("approve activates and sets shared date", func(t *testing.T) {
		svc, clock, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)

		clock.Advance(time.Minute)
		approved, err := svc.Approve(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GrantApproved, approved.Status)
		require.NotNil(t, approved.SharedDate)
		assert.WithinDuration(t, clock.Now(), *approved.SharedDate, time.Millisecond)

		active, err := svc.IsActive(ctx, studentID, "0xabcdef0123456789abcdef0123456789abcdef01")
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("revoke is immediate and terminal", func(t *testing.T) {
		svc, _, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)
		_, err = svc.Approve(ctx, g.ID)
		require.NoError(t, err)

		revoked, err := svc.Revoke(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GrantRevoked, revoked.Status)
		assert.NotNil(t, revoked.RevokedAt)

		active, err := svc.IsActive(ctx, studentID, verifierAddr)
		require.NoError(t, err)
		assert.False(t, active)

		_, err = svc.Approve(ctx, g.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = svc.Revoke(ctx, g.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("pending can be revoked", func(t *testing.T) {
		svc, _, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)
		_, err = svc.Revoke(ctx, g.ID)
		require.NoError(t, err)
	})

	t.Run("approved grant lapses with the clock", func(t *testing.T) {
		svc, clock, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)
		_, err = svc.Approve(ctx, g.ID)
		require.NoError(t, err)

		clock.Advance(25 * time.Hour)
		active, err := svc.IsActive(ctx, studentID, verifierAddr)
		require.NoError(t, err)
		assert.False(t, active)

		count, err := svc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		swept, err := svc.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, model.GrantExpired, swept.Status)
		_, err = svc.Approve(ctx, g.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		count, err = svc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("expired pending grant cannot be approved", func(t *testing.T) {
		svc, clock, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)

		clock.Advance(25 * time.Hour)
		_, err = svc.Approve(ctx, g.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("expiration must be in the future", func(t *testing.T) {
		svc, clock, studentID := setup(t)
		_, err := svc.Create(ctx, studentID, verifierAddr, clock.Now().Add(-time.Second))
		assert.ErrorIs(t, err, ErrInvalidExpiration)
	})

	t.Run("unknown grant", func(t *testing.T) {
		svc, _, _ := setup(t)
		_, err := svc.Approve(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.Get(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
		active, err := svc.IsActive(ctx, "not-a-uuid", verifierAddr)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("list for student", func(t *testing.T) {
		svc, clock, studentID := setup(t)
		first, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)
		clock.Advance(time.Second)
		second, err := svc.Create(ctx, studentID, "0x2222222222222222222222222222222222222222", time.Time{})
		require.NoError(t, err)

		grants, err := svc.ListForStudent(ctx, studentID)
		require.NoError(t, err)
		require.Len(t, grants, 2)
		assert.Equal(t, second.ID, grants[0].ID)
		assert.Equal(t, first.ID, grants[1].ID)
	})

	t.Run("concurrent approve and revoke apply once each at most", func(t *testing.T) {
		svc, _, studentID := setup(t)
		g, err := svc.Create(ctx, studentID, verifierAddr, time.Time{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Approve(ctx, g.ID)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}
		assert.Equal(t, 1, ok)
	})
}
