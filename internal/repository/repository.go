package repository

import (
	"context"
	"errors"

	"atms/identity/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Accounts is the identity store. Identity fields are fixed at creation;
// UpdateAccountDetails only rewrites the role-specific attribute bag.
type Accounts interface {
	FindAccount(ctx context.Context, walletAddress, role string) (model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	CreateAccount(ctx context.Context, account model.Account) error
	UpdateAccountDetails(ctx context.Context, id string, details model.AccountDetails) (model.Account, error)
	// ListPendingAccounts returns pending accounts oldest first. An empty
	// role lists every role.
	ListPendingAccounts(ctx context.Context, role string) ([]model.Account, error)
	// ApproveAccount clears the pending flag. ErrNotFound covers both a
	// missing account and one that is already approved.
	ApproveAccount(ctx context.Context, id string) (model.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

type HashUpdate struct {
	Matched  int64
	Modified int64
}

type Transcripts interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
	// ListStudents returns every student ordered by name, each with their
	// most recent record.
	ListStudents(ctx context.Context) ([]model.StudentOverview, error)
	ListSemesterRecords(ctx context.Context, studentID string) ([]model.SemesterRecord, error)
	// UpdateLatestHash sets the hash on the student's most recent record.
	// It never creates a record: Matched is 0 when the student has none.
	UpdateLatestHash(ctx context.Context, studentID, hash string) (HashUpdate, error)
}

// Registry loads students and their semester results.
type Registry interface {
	// InsertStudent returns ErrDuplicate when the id or matric number is taken.
	InsertStudent(ctx context.Context, student model.Student) error
	// InsertSemesterRecord returns ErrNotFound for an unknown student.
	InsertSemesterRecord(ctx context.Context, record model.SemesterRecord) error
}
