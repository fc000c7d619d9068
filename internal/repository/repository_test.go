package repository

import (
	"context"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atms/identity/internal/dbtest"
	"atms/identity/internal/model"
)

type backend interface {
	Accounts
	Transcripts
	Registry
}

func TestMemory(t *testing.T) {
	exerciseBackend(t, func(t *testing.T) backend { return NewMemory() })
}

func TestPostgres(t *testing.T) {
	exerciseBackend(t, func(t *testing.T) backend { return NewStore(dbtest.Postgres(t)) })
}

func exerciseBackend(t *testing.T, open func(*testing.T) backend) {
	ctx := context.Background()
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("accounts", func(t *testing.T) {
		b := open(t)
		account := model.Account{
			ID:            uuid.NewString(),
			WalletAddress: "0xabcdef0123456789abcdef0123456789abcdef01",
			Role:          "verifier",
			Details:       model.AccountDetails{Organization: "Acme Hiring"},
			CreatedAt:     created,
		}
		require.NoError(t, b.CreateAccount(ctx, account))
		assert.ErrorIs(t, b.CreateAccount(ctx, model.Account{ID: uuid.NewString(), WalletAddress: account.WalletAddress, Role: "verifier", CreatedAt: created}), ErrDuplicate)

		found, err := b.FindAccount(ctx, account.WalletAddress, "verifier")
		require.NoError(t, err)
		if diff := deep.Equal(account, found); diff != nil {
			t.Fatalf("account mismatch: %v", diff)
		}

		_, err = b.FindAccount(ctx, account.WalletAddress, "university")
		assert.ErrorIs(t, err, ErrNotFound)

		updated, err := b.UpdateAccountDetails(ctx, account.ID, model.AccountDetails{Organization: "Acme Verify"})
		require.NoError(t, err)
		assert.Equal(t, "Acme Verify", updated.Details.Organization)
		assert.Equal(t, account.WalletAddress, updated.WalletAddress)
		assert.Equal(t, account.Role, updated.Role)

		_, err = b.GetAccount(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pending accounts", func(t *testing.T) {
		b := open(t)
		older := model.Account{ID: uuid.NewString(), WalletAddress: "0x3333333333333333333333333333333333333333", Role: "verifier", Pending: true, CreatedAt: created}
		newer := model.Account{ID: uuid.NewString(), WalletAddress: "0x4444444444444444444444444444444444444444", Role: "university", Pending: true, CreatedAt: created.Add(time.Minute)}
		active := model.Account{ID: uuid.NewString(), WalletAddress: "0x5555555555555555555555555555555555555555", Role: "verifier", CreatedAt: created}
		for _, a := range []model.Account{newer, active, older} {
			require.NoError(t, b.CreateAccount(ctx, a))
		}

		pending, err := b.ListPendingAccounts(ctx, "")
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, older.ID, pending[0].ID)
		assert.Equal(t, newer.ID, pending[1].ID)
		assert.True(t, pending[0].Pending)

		pending, err = b.ListPendingAccounts(ctx, "university")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, newer.ID, pending[0].ID)

		approved, err := b.ApproveAccount(ctx, older.ID)
		require.NoError(t, err)
		assert.False(t, approved.Pending)
		_, err = b.ApproveAccount(ctx, older.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.ApproveAccount(ctx, active.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, b.DeleteAccount(ctx, newer.ID))
		assert.ErrorIs(t, b.DeleteAccount(ctx, newer.ID), ErrNotFound)
		_, err = b.GetAccount(ctx, newer.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		pending, err = b.ListPendingAccounts(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("transcripts", func(t *testing.T) {
		b := open(t)
		student := model.Student{
			ID:            uuid.NewString(),
			Name:          "Ada Obi",
			MatricNumber:  "190401001",
			WalletAddress: "0x1111111111111111111111111111111111111111",
			Faculty:       "Science",
			Programme:     "Computer Science",
			Department:    "Computer Science",
			Level:         300,
		}
		require.NoError(t, b.InsertStudent(ctx, student))

		got, err := b.GetStudent(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, student, got)

		second := model.SemesterRecord{
			ID: uuid.NewString(), StudentID: student.ID, Session: "2023/2024", Semester: "second", Level: 200,
			Courses:     []model.CourseResult{{Code: "CSC202", Title: "Data Structures", CreditUnit: 3, Score: 71, Grade: "A"}},
			SemesterGPA: 5, TotalCreditUnit: 3, CreatedAt: created.Add(time.Hour),
		}
		first := model.SemesterRecord{
			ID: uuid.NewString(), StudentID: student.ID, Session: "2023/2024", Semester: "first", Level: 200,
			Courses:     []model.CourseResult{{Code: "CSC201", Title: "Algorithms", CreditUnit: 4, Score: 55, Grade: "C"}},
			SemesterGPA: 3, TotalCreditUnit: 4, CreatedAt: created,
		}
		require.NoError(t, b.InsertSemesterRecord(ctx, second))
		require.NoError(t, b.InsertSemesterRecord(ctx, first))

		records, err := b.ListSemesterRecords(ctx, student.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "first", records[0].Semester)
		assert.Equal(t, "CSC202", records[1].Courses[0].Code)

		res, err := b.UpdateLatestHash(ctx, student.ID, "deadbeef")
		require.NoError(t, err)
		assert.Equal(t, HashUpdate{Matched: 1, Modified: 1}, res)

		res, err = b.UpdateLatestHash(ctx, student.ID, "deadbeef")
		require.NoError(t, err)
		assert.Equal(t, HashUpdate{Matched: 1, Modified: 0}, res)

		records, err = b.ListSemesterRecords(ctx, student.ID)
		require.NoError(t, err)
		require.NotNil(t, records[1].TranscriptHash)
		assert.Equal(t, "deadbeef", *records[1].TranscriptHash)
		assert.Nil(t, records[0].TranscriptHash)
	})

	t.Run("hash update never creates records", func(t *testing.T) {
		b := open(t)
		student := model.Student{ID: uuid.NewString(), Name: "No Records", MatricNumber: "190401002", WalletAddress: "0x2222222222222222222222222222222222222222", Level: 100}
		require.NoError(t, b.InsertStudent(ctx, student))

		res, err := b.UpdateLatestHash(ctx, student.ID, "deadbeef")
		require.NoError(t, err)
		assert.Equal(t, HashUpdate{}, res)

		records, err := b.ListSemesterRecords(ctx, student.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("students with latest record", func(t *testing.T) {
		b := open(t)
		zara := model.Student{ID: uuid.NewString(), Name: "Zara Bello", MatricNumber: "190401010", WalletAddress: "0x6666666666666666666666666666666666666666", Level: 200}
		ada := model.Student{ID: uuid.NewString(), Name: "Ada Obi", MatricNumber: "190401011", WalletAddress: "0x7777777777777777777777777777777777777777", Level: 300}
		require.NoError(t, b.InsertStudent(ctx, zara))
		require.NoError(t, b.InsertStudent(ctx, ada))
		assert.ErrorIs(t, b.InsertStudent(ctx, model.Student{ID: uuid.NewString(), Name: "Copy", MatricNumber: ada.MatricNumber, WalletAddress: ada.WalletAddress}), ErrDuplicate)

		hash := "cafebabe"
		require.NoError(t, b.InsertSemesterRecord(ctx, model.SemesterRecord{
			ID: uuid.NewString(), StudentID: ada.ID, Session: "2022/2023", Semester: "second", Level: 200,
			SemesterGPA: 4, TotalCreditUnit: 18, CreatedAt: created,
		}))
		latest := model.SemesterRecord{
			ID: uuid.NewString(), StudentID: ada.ID, Session: "2023/2024", Semester: "first", Level: 300,
			Courses:     []model.CourseResult{{Code: "CSC301", Title: "Compilers", CreditUnit: 3, Score: 68, Grade: "B"}},
			SemesterGPA: 4.5, TotalCreditUnit: 3, TranscriptHash: &hash, CreatedAt: created.Add(time.Hour),
		}
		require.NoError(t, b.InsertSemesterRecord(ctx, latest))
		assert.ErrorIs(t, b.InsertSemesterRecord(ctx, model.SemesterRecord{ID: uuid.NewString(), StudentID: uuid.NewString(), CreatedAt: created}), ErrNotFound)

		students, err := b.ListStudents(ctx)
		require.NoError(t, err)
		require.Len(t, students, 2)
		assert.Equal(t, ada, students[0].Student)
		require.NotNil(t, students[0].Latest)
		assert.Equal(t, latest.ID, students[0].Latest.ID)
		assert.Equal(t, "2023/2024", students[0].Latest.Session)
		assert.Equal(t, "CSC301", students[0].Latest.Courses[0].Code)
		require.NotNil(t, students[0].Latest.TranscriptHash)
		assert.Equal(t, hash, *students[0].Latest.TranscriptHash)
		assert.Equal(t, zara, students[1].Student)
		assert.Nil(t, students[1].Latest)
	})

	t.Run("missing student", func(t *testing.T) {
		b := open(t)
		_, err := b.GetStudent(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
