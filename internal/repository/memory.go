package repository

import (
	"context"
	"sort"
	"sync"

	"atms/identity/internal/model"
)

// Memory backs STORE_BACKEND=memory and the orchestrator tests.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]model.Account
	students map[string]model.Student
	records  map[string][]model.SemesterRecord
}

func NewMemory() *Memory {
	return &Memory{
		accounts: map[string]model.Account{},
		students: map[string]model.Student{},
		records:  map[string][]model.SemesterRecord{},
	}
}

func (m *Memory) FindAccount(_ context.Context, walletAddress, role string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.WalletAddress == walletAddress && a.Role == role {
			return a, nil
		}
	}
	return model.Account{}, ErrNotFound
}

func (m *Memory) GetAccount(_ context.Context, id string) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) CreateAccount(_ context.Context, account model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicate
	}
	for _, a := range m.accounts {
		if a.WalletAddress == account.WalletAddress && a.Role == account.Role {
			return ErrDuplicate
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *Memory) UpdateAccountDetails(_ context.Context, id string, details model.AccountDetails) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	a.Details = details
	m.accounts[id] = a
	return a, nil
}

func (m *Memory) ListPendingAccounts(_ context.Context, role string) ([]model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Account{}
	for _, a := range m.accounts {
		if a.Pending && (role == "" || a.Role == role) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ApproveAccount(_ context.Context, id string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || !a.Pending {
		return model.Account{}, ErrNotFound
	}
	a.Pending = false
	m.accounts[id] = a
	return a, nil
}

func (m *Memory) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListStudents(_ context.Context) ([]model.StudentOverview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.StudentOverview, 0, len(m.students))
	for id, s := range m.students {
		overview := model.StudentOverview{Student: s}
		if records := m.records[id]; len(records) > 0 {
			latest := records[latestIndex(records)]
			overview.Latest = &latest
		}
		out = append(out, overview)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Student.Name != out[j].Student.Name {
			return out[i].Student.Name < out[j].Student.Name
		}
		return out[i].Student.ID < out[j].Student.ID
	})
	return out, nil
}

func (m *Memory) ListSemesterRecords(_ context.Context, studentID string) ([]model.SemesterRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := append([]model.SemesterRecord{}, m.records[studentID]...)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Session != records[j].Session {
			return records[i].Session < records[j].Session
		}
		return records[i].Semester < records[j].Semester
	})
	return records, nil
}

func (m *Memory) UpdateLatestHash(_ context.Context, studentID, hash string) (HashUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.records[studentID]
	if len(records) == 0 {
		return HashUpdate{}, nil
	}
	latest := latestIndex(records)
	if current := records[latest].TranscriptHash; current != nil && *current == hash {
		return HashUpdate{Matched: 1}, nil
	}
	h := hash
	records[latest].TranscriptHash = &h
	return HashUpdate{Matched: 1, Modified: 1}, nil
}

func (m *Memory) InsertStudent(_ context.Context, student model.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[student.ID]; ok {
		return ErrDuplicate
	}
	for _, s := range m.students {
		if s.MatricNumber == student.MatricNumber {
			return ErrDuplicate
		}
	}
	m.students[student.ID] = student
	return nil
}

func (m *Memory) InsertSemesterRecord(_ context.Context, record model.SemesterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[record.StudentID]; !ok {
		return ErrNotFound
	}
	m.records[record.StudentID] = append(m.records[record.StudentID], record)
	return nil
}

func latestIndex(records []model.SemesterRecord) int {
	latest := 0
	for i, r := range records {
		if r.CreatedAt.After(records[latest].CreatedAt) {
			latest = i
		}
	}
	return latest
}
