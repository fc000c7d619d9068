package transcript

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/model"
	"atms/identity/internal/policy"
	"atms/identity/internal/repository"
	"atms/identity/internal/wallet"
)

var (
	listStudents = policy.Requirement{
		Roles:      []policy.Role{policy.University, policy.Admin},
		Permission: policy.PermRead,
	}
	writeRegistry = policy.Requirement{
		Roles:      []policy.Role{policy.University},
		Permission: policy.PermWrite,
	}
)

var sessionFormat = regexp.MustCompile(`^[0-9]{4}/[0-9]{4}$`)

// gradePoints is the five-point scale semester GPAs are computed on.
var gradePoints = map[string]float64{"A": 5, "B": 4, "C": 3, "D": 2, "E": 1, "F": 0}

// ListStudents returns every student with their latest record, shaped for
// the caller's role.
func (s *Service) ListStudents(ctx context.Context, p *policy.Principal) ([]StudentSummary, error) {
	view, err := s.gate.Check(p, listStudents, policy.Resource{})
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	students, err := s.transcripts.ListStudents(callCtx)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	out := buildSummaries(students)
	policy.Redact(&out, view)
	return out, nil
}

type NewStudent struct {
	Name          string
	MatricNumber  string
	WalletAddress string
	Faculty       string
	Programme     string
	Department    string
	Level         int
}

// RegisterStudent adds a student to the registry.
func (s *Service) RegisterStudent(ctx context.Context, p *policy.Principal, in NewStudent) (model.Student, error) {
	if _, err := s.gate.Check(p, writeRegistry, policy.Resource{}); err != nil {
		return model.Student{}, err
	}
	addr, err := wallet.NormalizeAddress(in.WalletAddress)
	if err != nil {
		return model.Student{}, apperr.InvalidArg("invalid_address", "invalid student wallet address")
	}
	student := model.Student{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		MatricNumber:  strings.TrimSpace(in.MatricNumber),
		WalletAddress: addr,
		Faculty:       strings.TrimSpace(in.Faculty),
		Programme:     strings.TrimSpace(in.Programme),
		Department:    strings.TrimSpace(in.Department),
		Level:         in.Level,
	}
	if student.Name == "" || student.MatricNumber == "" {
		return model.Student{}, apperr.InvalidArg("invalid_student", "name and matric number are required")
	}
	if student.Level == 0 {
		student.Level = 100
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err = s.registry.InsertStudent(callCtx, student)
	if errors.Is(err, repository.ErrDuplicate) {
		return model.Student{}, apperr.New(apperr.CodeConflict, "student_exists", "matric number already registered")
	}
	if err != nil {
		return model.Student{}, apperr.Unavailable(err)
	}
	s.log.Info("student registered", zap.String("student_id", student.ID), zap.String("user_id", p.UserID))
	return student, nil
}

type NewRecord struct {
	Session  string
	Semester string
	Level    int
	Courses  []model.CourseResult
}

// AddRecord stores one semester of results. Credit units and the semester
// GPA are computed from the courses; the record starts without a hash.
func (s *Service) AddRecord(ctx context.Context, p *policy.Principal, studentID string, in NewRecord) (model.SemesterRecord, error) {
	if _, err := s.gate.Check(p, writeRegistry, policy.Resource{}); err != nil {
		return model.SemesterRecord{}, err
	}
	if !validID(studentID) {
		return model.SemesterRecord{}, apperr.InvalidArg("invalid_student_id", "studentId must be a UUID")
	}
	record, err := s.newRecord(studentID, in)
	if err != nil {
		return model.SemesterRecord{}, err
	}
	if _, err := s.student(ctx, studentID); err != nil {
		return model.SemesterRecord{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err = s.registry.InsertSemesterRecord(callCtx, record)
	if errors.Is(err, repository.ErrNotFound) {
		return model.SemesterRecord{}, apperr.NotFound("student_not_found", "student not found")
	}
	if err != nil {
		return model.SemesterRecord{}, apperr.Unavailable(err)
	}
	s.log.Info("semester record added",
		zap.String("student_id", studentID),
		zap.String("session", record.Session),
		zap.String("semester", record.Semester),
		zap.String("user_id", p.UserID))
	return record, nil
}

func (s *Service) newRecord(studentID string, in NewRecord) (model.SemesterRecord, error) {
	session := strings.TrimSpace(in.Session)
	if !sessionFormat.MatchString(session) {
		return model.SemesterRecord{}, apperr.InvalidArg("invalid_session", "session must look like 2023/2024")
	}
	semester := strings.ToLower(strings.TrimSpace(in.Semester))
	if semester != "first" && semester != "second" {
		return model.SemesterRecord{}, apperr.InvalidArg("invalid_semester", "semester must be first or second")
	}
	if len(in.Courses) == 0 {
		return model.SemesterRecord{}, apperr.InvalidArg("invalid_courses", "at least one course is required")
	}

	courses := make([]model.CourseResult, 0, len(in.Courses))
	var credits int
	var weighted float64
	for _, c := range in.Courses {
		c.Grade = strings.ToUpper(strings.TrimSpace(c.Grade))
		points, ok := gradePoints[c.Grade]
		if !ok || c.CreditUnit <= 0 || strings.TrimSpace(c.Code) == "" {
			return model.SemesterRecord{}, apperr.InvalidArg("invalid_courses", "each course needs a code, positive credit units and a grade A-F")
		}
		credits += c.CreditUnit
		weighted += points * float64(c.CreditUnit)
		courses = append(courses, c)
	}

	level := in.Level
	if level == 0 {
		level = 100
	}
	return model.SemesterRecord{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		Session:         session,
		Semester:        semester,
		Level:           level,
		Courses:         courses,
		SemesterGPA:     math.Round(weighted/float64(credits)*100) / 100,
		TotalCreditUnit: credits,
		CreatedAt:       s.clock.Now().UTC(),
	}, nil
}
