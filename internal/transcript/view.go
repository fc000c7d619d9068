package transcript

import (
	"sort"

	"atms/identity/internal/model"
)

// Every exported field carries a view tag; anything the caller's role may
// not see is zeroed by policy.Redact before the response is written.

type StudentInfo struct {
	ID            string `json:"id,omitempty" view:"name"`
	Name          string `json:"name,omitempty" view:"name"`
	MatricNumber  string `json:"matricNumber,omitempty" view:"matricNumber"`
	WalletAddress string `json:"walletAddress,omitempty" view:"walletAddress"`
	Faculty       string `json:"faculty,omitempty" view:"faculty"`
	Programme     string `json:"programme,omitempty" view:"programme"`
	Department    string `json:"department,omitempty" view:"department"`
	CurrentLevel  int    `json:"currentLevel,omitempty" view:"currentLevel"`
}

type Course struct {
	Code       string  `json:"code" view:"academicRecords"`
	Title      string  `json:"title" view:"academicRecords"`
	CreditUnit int     `json:"creditUnit" view:"academicRecords"`
	Score      float64 `json:"score" view:"academicRecords"`
	Grade      string  `json:"grade" view:"academicRecords"`
}

type Record struct {
	Session         string   `json:"session" view:"academicRecords"`
	Semester        string   `json:"semester" view:"academicRecords"`
	Level           int      `json:"level" view:"academicRecords"`
	Courses         []Course `json:"courses" view:"academicRecords"`
	SemesterGPA     float64  `json:"semesterGPA" view:"academicRecords"`
	TotalCreditUnit int      `json:"totalCreditUnit" view:"academicRecords"`
	TranscriptHash  *string  `json:"transcriptHash,omitempty" view:"transcriptHash"`
}

type View struct {
	StudentInfo     *StudentInfo `json:"studentInfo,omitempty" view:"name"`
	AcademicRecords []Record     `json:"academicRecords" view:"academicRecords"`
	CumulativeGPA   float64      `json:"cumulativeGPA" view:"cumulativeGPA"`
}

func buildView(student model.Student, records []model.SemesterRecord) *View {
	sorted := make([]model.SemesterRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Session != sorted[j].Session {
			return sorted[i].Session < sorted[j].Session
		}
		return sorted[i].Semester < sorted[j].Semester
	})

	out := make([]Record, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, toRecord(r))
	}

	return &View{
		StudentInfo:     toStudentInfo(student),
		AcademicRecords: out,
		CumulativeGPA:   CumulativeGPA(sorted),
	}
}

// StudentSummary is one row of the university's student listing.
type StudentSummary struct {
	StudentInfo  *StudentInfo `json:"studentInfo,omitempty" view:"name"`
	LatestRecord *Record      `json:"latestRecord,omitempty" view:"academicRecords"`
}

func buildSummaries(students []model.StudentOverview) []StudentSummary {
	out := make([]StudentSummary, 0, len(students))
	for _, s := range students {
		summary := StudentSummary{StudentInfo: toStudentInfo(s.Student)}
		if s.Latest != nil {
			latest := toRecord(*s.Latest)
			summary.LatestRecord = &latest
		}
		out = append(out, summary)
	}
	return out
}

func toStudentInfo(student model.Student) *StudentInfo {
	return &StudentInfo{
		ID:            student.ID,
		Name:          student.Name,
		MatricNumber:  student.MatricNumber,
		WalletAddress: student.WalletAddress,
		Faculty:       student.Faculty,
		Programme:     student.Programme,
		Department:    student.Department,
		CurrentLevel:  student.Level,
	}
}

func toRecord(r model.SemesterRecord) Record {
	courses := make([]Course, 0, len(r.Courses))
	for _, c := range r.Courses {
		courses = append(courses, Course(c))
	}
	var hash *string
	if r.TranscriptHash != nil {
		h := *r.TranscriptHash
		hash = &h
	}
	return Record{
		Session:         r.Session,
		Semester:        r.Semester,
		Level:           r.Level,
		Courses:         courses,
		SemesterGPA:     r.SemesterGPA,
		TotalCreditUnit: r.TotalCreditUnit,
		TranscriptHash:  hash,
	}
}

// CumulativeGPA is the credit-weighted mean of semester GPAs, 0 with no
// credits.
func CumulativeGPA(records []model.SemesterRecord) float64 {
	var weighted float64
	var credits int
	for _, r := range records {
		weighted += r.SemesterGPA * float64(r.TotalCreditUnit)
		credits += r.TotalCreditUnit
	}
	if credits == 0 {
		return 0
	}
	return weighted / float64(credits)
}
