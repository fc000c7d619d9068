package model

import "time"

type Nonce struct {
	Address   string
	Value     string
	ExpiresAt time.Time
}

// AccountDetails holds the role-specific attribute bag. Only the fields of
// the account's role are populated.
type AccountDetails struct {
	InstitutionName string   `json:"institutionName,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	MatricNumber    string   `json:"matricNumber,omitempty"`
	Organization    string   `json:"organization,omitempty"`
	Permissions     []string `json:"permissions"`
}

// Account is a wallet registered for one role. A pending account was
// applied for by its owner and cannot sign in until an admin approves it.
type Account struct {
	ID            string
	WalletAddress string
	Role          string
	Details       AccountDetails
	Pending       bool
	CreatedAt     time.Time
}

type GrantStatus string

const (
	GrantPending  GrantStatus = "pending"
	GrantApproved GrantStatus = "approved"
	GrantRevoked  GrantStatus = "revoked"
	GrantExpired  GrantStatus = "expired"
)

type Grant struct {
	ID              string
	StudentID       string
	VerifierAddress string
	Status          GrantStatus
	SharedDate      *time.Time
	Expiration      time.Time
	CreatedAt       time.Time
	RevokedAt       *time.Time
}

// ActiveAt reports whether the grant authorizes access at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.Status == GrantApproved && now.Before(g.Expiration)
}

type Student struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	MatricNumber  string `db:"matric_number"`
	WalletAddress string `db:"wallet_address"`
	Faculty       string `db:"faculty"`
	Programme     string `db:"programme"`
	Department    string `db:"department"`
	Level         int    `db:"level"`
}

type CourseResult struct {
	Code       string  `json:"code"`
	Title      string  `json:"title"`
	CreditUnit int     `json:"creditUnit"`
	Score      float64 `json:"score"`
	Grade      string  `json:"grade"`
}

// SemesterRecord is one transcript document: a student's results for a
// single session and semester.
type SemesterRecord struct {
	ID              string         `db:"id"`
	StudentID       string         `db:"student_id"`
	Session         string         `db:"session"`
	Semester        string         `db:"semester"`
	Level           int            `db:"level"`
	Courses         []CourseResult `db:"-"`
	SemesterGPA     float64        `db:"semester_gpa"`
	TotalCreditUnit int            `db:"total_credit_unit"`
	TranscriptHash  *string        `db:"transcript_hash"`
	CreatedAt       time.Time      `db:"created_at"`
}

// StudentOverview is a student with their most recent semester record, if
// they have one.
type StudentOverview struct {
	Student Student
	Latest  *SemesterRecord
}
