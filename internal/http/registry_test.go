package http

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"atms/identity/internal/auth"
	"atms/identity/internal/transcript"
)

func (a *testApp) apply(t *testing.T, client *http.Client, w testWallet, role string, details map[string]string) *http.Response {
	t.Helper()
	resp := doReq(t, client, http.MethodPost, a.url+"/auth/nonce", map[string]string{"address": w.address, "role": role, "purpose": "apply"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nonce: expected 200, got %d", resp.StatusCode)
	}
	var nr nonceResponse
	decodeBody(t, resp, &nr)
	if nr.Message != auth.ApplicationMessage(role, nr.Nonce) {
		t.Fatalf("unexpected message %q", nr.Message)
	}
	return doReq(t, client, http.MethodPost, a.url+"/auth/apply", map[string]interface{}{
		"address":     w.address,
		"role":        role,
		"signature":   w.signMessage(t, nr.Message),
		"nonce":       nr.Nonce,
		"roleDetails": details,
	})
}

func TestApplicationReview(t *testing.T) {
	app := newTestApp(t)
	admin, applicant, rejected := newWallet(t), newWallet(t), newWallet(t)
	app.addAccount(t, admin, "admin")
	adminClient := newClient(t)
	if resp := app.signIn(t, adminClient, admin, "admin"); resp.StatusCode != http.StatusOK {
		t.Fatalf("signin: %d", resp.StatusCode)
	}

	resp := app.apply(t, newClient(t), applicant, "verifier", map[string]string{"organization": "Acme HR"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("apply: expected 202, got %d", resp.StatusCode)
	}
	var applied accountResponse
	decodeBody(t, resp, &applied)
	if applied.Status != "pending" || applied.Details.Organization != "Acme HR" {
		t.Fatalf("unexpected application: %+v", applied)
	}
	if resp := app.apply(t, newClient(t), rejected, "university", map[string]string{"institutionName": "Fake U"}); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("apply: expected 202, got %d", resp.StatusCode)
	}
	if resp := app.apply(t, newClient(t), newWallet(t), "admin", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("admin application: expected 400, got %d", resp.StatusCode)
	}

	// Pending accounts cannot sign in.
	resp = app.signIn(t, newClient(t), applicant, "verifier")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pending signin: expected 403, got %d", resp.StatusCode)
	}
	var errResp errorBody
	decodeBody(t, resp, &errResp)
	if errResp.Error != "account_pending" {
		t.Fatalf("expected account_pending, got %q", errResp.Error)
	}

	resp = doReq(t, adminClient, http.MethodGet, app.url+"/admin/accounts/pending?role=verifier", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list pending: expected 200, got %d", resp.StatusCode)
	}
	var listed struct {
		Accounts []accountResponse `json:"accounts"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Accounts) != 1 || listed.Accounts[0].ID != applied.ID {
		t.Fatalf("unexpected pending list: %+v", listed.Accounts)
	}

	resp = doReq(t, adminClient, http.MethodPost, app.url+"/admin/accounts/"+applied.ID+"/approve", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}
	resp = doReq(t, adminClient, http.MethodPost, app.url+"/admin/accounts/"+applied.ID+"/approve", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second approve: expected 409, got %d", resp.StatusCode)
	}
	verifierClient := newClient(t)
	if resp := app.signIn(t, verifierClient, applicant, "verifier"); resp.StatusCode != http.StatusOK {
		t.Fatalf("approved signin: expected 200, got %d", resp.StatusCode)
	}

	// The verifier cannot review applications.
	resp = doReq(t, verifierClient, http.MethodGet, app.url+"/admin/accounts/pending", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("verifier listing: expected 403, got %d", resp.StatusCode)
	}

	resp = doReq(t, adminClient, http.MethodGet, app.url+"/admin/accounts/pending", nil)
	listed.Accounts = nil
	decodeBody(t, resp, &listed)
	if len(listed.Accounts) != 1 {
		t.Fatalf("expected one pending university, got %+v", listed.Accounts)
	}
	resp = doReq(t, adminClient, http.MethodDelete, app.url+"/admin/accounts/"+listed.Accounts[0].ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reject: expected 204, got %d", resp.StatusCode)
	}
	resp = doReq(t, adminClient, http.MethodDelete, app.url+"/admin/accounts/"+listed.Accounts[0].ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second reject: expected 404, got %d", resp.StatusCode)
	}

	// Removing an approved account ends its live session.
	resp = doReq(t, adminClient, http.MethodDelete, app.url+"/admin/accounts/"+applied.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", resp.StatusCode)
	}
	resp = doReq(t, verifierClient, http.MethodGet, app.url+"/session", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("removed session: expected 401, got %d", resp.StatusCode)
	}
	errResp = errorBody{}
	decodeBody(t, resp, &errResp)
	if errResp.Error != "invalid_session" {
		t.Fatalf("expected invalid_session, got %q", errResp.Error)
	}
}

func TestStudentRegistry(t *testing.T) {
	app := newTestApp(t)
	university, admin, student := newWallet(t), newWallet(t), newWallet(t)
	app.addAccount(t, university, "university")
	app.addAccount(t, admin, "admin")
	app.addAccount(t, student, "student")
	uniClient, adminClient, studentClient := newClient(t), newClient(t), newClient(t)
	for _, c := range []struct {
		client *http.Client
		w      testWallet
		role   string
	}{{uniClient, university, "university"}, {adminClient, admin, "admin"}, {studentClient, student, "student"}} {
		if resp := app.signIn(t, c.client, c.w, c.role); resp.StatusCode != http.StatusOK {
			t.Fatalf("signin %s: expected 200, got %d", c.role, resp.StatusCode)
		}
	}

	resp := doReq(t, uniClient, http.MethodPost, app.url+"/students", map[string]interface{}{
		"name": "Ada Obi", "matricNumber": "CSC/2019/001", "walletAddress": student.address, "level": 300,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create student: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	resp = doReq(t, uniClient, http.MethodPost, app.url+"/students", map[string]interface{}{
		"name": "Copy", "matricNumber": "CSC/2019/001", "walletAddress": student.address,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate matric: expected 409, got %d", resp.StatusCode)
	}
	resp = doReq(t, studentClient, http.MethodPost, app.url+"/students", map[string]interface{}{
		"name": "Self", "matricNumber": "CSC/2019/002", "walletAddress": student.address,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student creating: expected 403, got %d", resp.StatusCode)
	}

	recordURL := app.url + "/students/" + created.ID + "/records"
	resp = doReq(t, uniClient, http.MethodPost, recordURL, map[string]interface{}{
		"session": "2021/2022", "semester": "first", "level": 200,
		"courses": []map[string]interface{}{
			{"code": "CSC201", "title": "Algorithms", "creditUnit": 3, "score": 72, "grade": "A"},
			{"code": "CSC203", "title": "Databases", "creditUnit": 2, "score": 58, "grade": "C"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add record: expected 201, got %d", resp.StatusCode)
	}
	var record recordResponse
	decodeBody(t, resp, &record)
	if record.SemesterGPA != 4.2 || record.TotalCreditUnit != 5 {
		t.Fatalf("unexpected record: %+v", record)
	}
	resp = doReq(t, uniClient, http.MethodPost, recordURL, map[string]interface{}{"session": "2021/2022", "semester": "first", "courses": []interface{}{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty courses: expected 400, got %d", resp.StatusCode)
	}
	resp = doReq(t, uniClient, http.MethodPost, app.url+"/students/"+uuid.NewString()+"/records", map[string]interface{}{
		"session": "2021/2022", "semester": "first", "courses": []map[string]interface{}{{"code": "CSC201", "creditUnit": 3, "grade": "A"}},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown student: expected 404, got %d", resp.StatusCode)
	}

	for _, client := range []*http.Client{uniClient, adminClient} {
		resp = doReq(t, client, http.MethodGet, app.url+"/students", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list students: expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Students []transcript.StudentSummary `json:"students"`
		}
		decodeBody(t, resp, &body)
		if len(body.Students) != 1 || body.Students[0].LatestRecord == nil || body.Students[0].LatestRecord.Session != "2021/2022" {
			t.Fatalf("unexpected listing: %+v", body.Students)
		}
	}
	resp = doReq(t, studentClient, http.MethodGet, app.url+"/students", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student listing: expected 403, got %d", resp.StatusCode)
	}

	// Admin reads full transcripts like the university.
	resp = doReq(t, adminClient, http.MethodGet, app.url+"/transcript?studentId="+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin transcript: expected 200, got %d", resp.StatusCode)
	}
	var view transcript.View
	decodeBody(t, resp, &view)
	if view.StudentInfo == nil || view.StudentInfo.WalletAddress != student.address {
		t.Fatalf("admin should see the full view: %+v", view.StudentInfo)
	}
}

func TestGetGrant(t *testing.T) {
	app := newTestApp(t)
	university, student, other, verifier := newWallet(t), newWallet(t), newWallet(t), newWallet(t)
	app.addAccount(t, university, "university")
	app.addAccount(t, student, "student")
	app.addAccount(t, other, "student")
	app.addAccount(t, verifier, "verifier")
	app.addStudent(t, student)
	uniClient, studentClient, otherClient := newClient(t), newClient(t), newClient(t)
	for _, c := range []struct {
		client *http.Client
		w      testWallet
		role   string
	}{{uniClient, university, "university"}, {studentClient, student, "student"}, {otherClient, other, "student"}} {
		if resp := app.signIn(t, c.client, c.w, c.role); resp.StatusCode != http.StatusOK {
			t.Fatalf("signin %s: expected 200, got %d", c.role, resp.StatusCode)
		}
	}

	resp := doReq(t, uniClient, http.MethodPost, app.url+"/grants", map[string]string{"studentId": app.studentID, "verifierAddress": verifier.address})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create grant: expected 201, got %d", resp.StatusCode)
	}
	var g grantResponse
	decodeBody(t, resp, &g)

	for _, client := range []*http.Client{uniClient, studentClient} {
		resp = doReq(t, client, http.MethodGet, app.url+"/grants/"+g.ID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get grant: expected 200, got %d", resp.StatusCode)
		}
		var got grantResponse
		decodeBody(t, resp, &got)
		if got.ID != g.ID || got.Status != "pending" {
			t.Fatalf("unexpected grant: %+v", got)
		}
	}
	resp = doReq(t, otherClient, http.MethodGet, app.url+"/grants/"+g.ID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("other student: expected 403, got %d", resp.StatusCode)
	}
	resp = doReq(t, uniClient, http.MethodGet, app.url+"/grants/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown grant: expected 404, got %d", resp.StatusCode)
	}
}
