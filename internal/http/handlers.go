package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"atms/identity/internal/apperr"
	"atms/identity/internal/auth"
	"atms/identity/internal/model"
	"atms/identity/internal/transcript"
)

// Auth

type nonceRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
	Role    string `json:"role,omitempty" validate:"omitempty,oneof=university student verifier admin"`
	// Purpose picks the message to sign: signin (default) or apply.
	Purpose string `json:"purpose,omitempty" validate:"omitempty,oneof=signin apply"`
}

type nonceResponse struct {
	Nonce     string `json:"nonce"`
	Message   string `json:"message,omitempty"`
	ExpiresIn int    `json:"expiresIn"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if !s.bind(w, r, &req) {
		return
	}
	value, err := s.auth.RequestNonce(r.Context(), req.Address)
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	resp := nonceResponse{Nonce: value, ExpiresIn: int(s.auth.NonceTTL().Seconds())}
	switch {
	case req.Role == "":
	case req.Purpose == "apply":
		resp.Message = auth.ApplicationMessage(req.Role, value)
	default:
		resp.Message = auth.SignInMessage(req.Role, value)
	}
	writeJSON(w, http.StatusOK, resp)
}

type signInRequest struct {
	Address   string `json:"address" validate:"required,eth_addr"`
	Role      string `json:"role" validate:"required,oneof=university student verifier admin"`
	Signature string `json:"signature" validate:"required"`
	Nonce     string `json:"nonce" validate:"required,len=6,numeric"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.bind(w, r, &req) {
		return
	}
	res, err := s.auth.CompleteSignIn(r.Context(), auth.SignInRequest{
		Address:   req.Address,
		Role:      req.Role,
		Signature: req.Signature,
		Nonce:     req.Nonce,
	})
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	s.transport.Attach(w, res.Token)
	writeJSON(w, http.StatusOK, map[string]userSummary{"user": summarize(res.Principal)})
}

type applyRequest struct {
	Address   string                `json:"address" validate:"required,eth_addr"`
	Role      string                `json:"role" validate:"required,oneof=university verifier"`
	Signature string                `json:"signature" validate:"required"`
	Nonce     string                `json:"nonce" validate:"required,len=6,numeric"`
	Details   accountDetailsRequest `json:"roleDetails"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if !s.bind(w, r, &req) {
		return
	}
	account, err := s.auth.Apply(r.Context(), auth.ApplyRequest{
		Address:   req.Address,
		Role:      req.Role,
		Signature: req.Signature,
		Nonce:     req.Nonce,
		Details:   req.Details.model(),
	})
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, mapAccount(account))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.transport.Clear(w)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]userSummary{"user": summarize(p)})
}

// Transcripts

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	studentID := strings.TrimSpace(r.URL.Query().Get("studentId"))
	view, err := s.transcripts.Get(r.Context(), principalFromContext(r.Context()), studentID)
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}

type updateHashRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
	Hash      string `json:"hash" validate:"required,hexadecimal,max=130"`
}

type updateHashResponse struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}

func (s *Server) handleUpdateHash(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req updateHashRequest
	if !s.bind(w, r, &req) {
		return
	}
	update, err := s.transcripts.UpdateHash(r.Context(), principalFromContext(r.Context()), req.StudentID, req.Hash)
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, updateHashResponse{Matched: update.Matched, Modified: update.Modified})
}

// Students

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.transcripts.ListStudents(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string][]transcript.StudentSummary{"students": students})
}

type createStudentRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	MatricNumber  string `json:"matricNumber" validate:"required,max=64"`
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
	Faculty       string `json:"faculty,omitempty" validate:"max=200"`
	Programme     string `json:"programme,omitempty" validate:"max=200"`
	Department    string `json:"department,omitempty" validate:"max=200"`
	Level         int    `json:"level,omitempty" validate:"omitempty,oneof=100 200 300 400 500 600 700"`
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req createStudentRequest
	if !s.bind(w, r, &req) {
		return
	}
	student, err := s.transcripts.RegisterStudent(r.Context(), principalFromContext(r.Context()), transcript.NewStudent{
		Name:          req.Name,
		MatricNumber:  req.MatricNumber,
		WalletAddress: req.WalletAddress,
		Faculty:       req.Faculty,
		Programme:     req.Programme,
		Department:    req.Department,
		Level:         req.Level,
	})
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": student.ID})
}

type courseRequest struct {
	Code       string  `json:"code" validate:"required,max=16"`
	Title      string  `json:"title" validate:"max=200"`
	CreditUnit int     `json:"creditUnit" validate:"required,min=1,max=12"`
	Score      float64 `json:"score" validate:"min=0,max=100"`
	Grade      string  `json:"grade" validate:"required,len=1"`
}

type createRecordRequest struct {
	Session  string          `json:"session" validate:"required"`
	Semester string          `json:"semester" validate:"required"`
	Level    int             `json:"level,omitempty" validate:"omitempty,oneof=100 200 300 400 500 600 700"`
	Courses  []courseRequest `json:"courses" validate:"required,min=1,dive"`
}

type recordResponse struct {
	ID              string  `json:"id"`
	Session         string  `json:"session"`
	Semester        string  `json:"semester"`
	Level           int     `json:"level"`
	SemesterGPA     float64 `json:"semesterGPA"`
	TotalCreditUnit int     `json:"totalCreditUnit"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req createRecordRequest
	if !s.bind(w, r, &req) {
		return
	}
	courses := make([]model.CourseResult, 0, len(req.Courses))
	for _, c := range req.Courses {
		courses = append(courses, model.CourseResult(c))
	}
	record, err := s.transcripts.AddRecord(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "studentId"), transcript.NewRecord{
		Session:  req.Session,
		Semester: req.Semester,
		Level:    req.Level,
		Courses:  courses,
	})
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{
		ID:              record.ID,
		Session:         record.Session,
		Semester:        record.Semester,
		Level:           record.Level,
		SemesterGPA:     record.SemesterGPA,
		TotalCreditUnit: record.TotalCreditUnit,
	})
}

// Grants

type createGrantRequest struct {
	StudentID       string `json:"studentId" validate:"required,uuid"`
	VerifierAddress string `json:"verifierAddress" validate:"required,eth_addr"`
	ExpiresAt       string `json:"expiresAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type grantResponse struct {
	ID              string  `json:"id"`
	StudentID       string  `json:"studentId"`
	VerifierAddress string  `json:"verifierAddress"`
	Status          string  `json:"status"`
	SharedDate      *string `json:"sharedDate,omitempty"`
	Expiration      string  `json:"expiration"`
	CreatedAt       string  `json:"createdAt"`
	RevokedAt       *string `json:"revokedAt,omitempty"`
}

func mapGrant(g model.Grant) grantResponse {
	const layout = "2006-01-02T15:04:05Z07:00"
	resp := grantResponse{
		ID:              g.ID,
		StudentID:       g.StudentID,
		VerifierAddress: g.VerifierAddress,
		Status:          string(g.Status),
		Expiration:      g.Expiration.UTC().Format(layout),
		CreatedAt:       g.CreatedAt.UTC().Format(layout),
	}
	if g.SharedDate != nil {
		v := g.SharedDate.UTC().Format(layout)
		resp.SharedDate = &v
	}
	if g.RevokedAt != nil {
		v := g.RevokedAt.UTC().Format(layout)
		resp.RevokedAt = &v
	}
	return resp
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req createGrantRequest
	if !s.bind(w, r, &req) {
		return
	}
	expiration, err := parseTime(req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_expiration")
		return
	}
	g, err := s.transcripts.Share(r.Context(), principalFromContext(r.Context()), req.StudentID, req.VerifierAddress, expiration)
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapGrant(g))
}

func (s *Server) handleApproveGrant(w http.ResponseWriter, r *http.Request) {
	g, err := s.transcripts.ApproveGrant(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "grantId"))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapGrant(g))
}

func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	g, err := s.transcripts.RevokeGrant(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "grantId"))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapGrant(g))
}

func (s *Server) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	g, err := s.transcripts.GetGrant(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "grantId"))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapGrant(g))
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	studentID := strings.TrimSpace(r.URL.Query().Get("studentId"))
	grants, err := s.transcripts.ListGrants(r.Context(), principalFromContext(r.Context()), studentID)
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, mapGrant(g))
	}
	writeJSON(w, http.StatusOK, map[string][]grantResponse{"grants": out})
}

// Admin

type accountDetailsRequest struct {
	InstitutionName string `json:"institutionName,omitempty" validate:"max=200"`
	Domain          string `json:"domain,omitempty" validate:"omitempty,fqdn"`
	MatricNumber    string `json:"matricNumber,omitempty" validate:"max=64"`
	Organization    string `json:"organization,omitempty" validate:"max=200"`
}

func (d accountDetailsRequest) model() model.AccountDetails {
	return model.AccountDetails{
		InstitutionName: d.InstitutionName,
		Domain:          d.Domain,
		MatricNumber:    d.MatricNumber,
		Organization:    d.Organization,
	}
}

type registerAccountRequest struct {
	WalletAddress string                `json:"walletAddress" validate:"required,eth_addr"`
	Role          string                `json:"role" validate:"required,oneof=university student verifier admin"`
	Details       accountDetailsRequest `json:"roleDetails"`
}

type accountResponse struct {
	ID            string               `json:"id"`
	WalletAddress string               `json:"walletAddress"`
	Role          string               `json:"role"`
	Status        string               `json:"status"`
	Details       model.AccountDetails `json:"roleDetails"`
	CreatedAt     string               `json:"createdAt"`
}

func mapAccount(a model.Account) accountResponse {
	status := "approved"
	if a.Pending {
		status = "pending"
	}
	return accountResponse{
		ID:            a.ID,
		WalletAddress: a.WalletAddress,
		Role:          a.Role,
		Status:        status,
		Details:       a.Details,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req registerAccountRequest
	if !s.bind(w, r, &req) {
		return
	}
	account, err := s.accounts.Register(r.Context(), principalFromContext(r.Context()), req.WalletAddress, req.Role, req.Details.model())
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapAccount(account))
}

type updateAccountRequest struct {
	Details accountDetailsRequest `json:"roleDetails"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r) {
		return
	}
	var req updateAccountRequest
	if !s.bind(w, r, &req) {
		return
	}
	account, err := s.accounts.UpdateDetails(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "accountId"), req.Details.model())
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapAccount(account))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.ListPending(r.Context(), principalFromContext(r.Context()), strings.TrimSpace(r.URL.Query().Get("role")))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, mapAccount(a))
	}
	writeJSON(w, http.StatusOK, map[string][]accountResponse{"accounts": out})
}

func (s *Server) handleApproveAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Approve(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "accountId"))
	if err != nil {
		writeAppError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapAccount(account))
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Remove(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "accountId")); err != nil {
		writeAppError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bind decodes and validates a JSON body, writing 400 on failure.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: verrs[0].Field() + " failed " + verrs[0].Tag()})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

// requireSession rejects anonymous writes before the body is read.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) bool {
	if principalFromContext(r.Context()) != nil {
		return true
	}
	writeAppError(w, s.log, apperr.Unauthenticated("not_authenticated", "Not authenticated"))
	return false
}
