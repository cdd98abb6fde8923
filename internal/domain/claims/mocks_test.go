package claims

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/homecare/claims/internal/platform/sftp"
	"github.com/homecare/claims/internal/platform/x12"
	"github.com/homecare/claims/pkg/pagination"
)

// -- Mock Repositories --

type mockTimesheetRepo struct{ items map[uuid.UUID]*Timesheet }

func newMockTimesheetRepo() *mockTimesheetRepo {
	return &mockTimesheetRepo{items: make(map[uuid.UUID]*Timesheet)}
}

func (m *mockTimesheetRepo) GetByID(_ context.Context, id uuid.UUID) (*Timesheet, error) {
	t, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

type mockPatientRepo struct{ items map[uuid.UUID]*Patient }

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type mockEmployeeRepo struct{ items map[uuid.UUID]*Employee }

func newMockEmployeeRepo() *mockEmployeeRepo {
	return &mockEmployeeRepo{items: make(map[uuid.UUID]*Employee)}
}

func (m *mockEmployeeRepo) GetByID(_ context.Context, id uuid.UUID) (*Employee, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// mockClaimRepo stores copies so callers see only what Update persisted.
type mockClaimRepo struct {
	items     map[uuid.UUID]*Claim
	updates   int
	failAfter int // Update fails once this many updates succeeded; 0 disables
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{items: make(map[uuid.UUID]*Claim)}
}

func (m *mockClaimRepo) Create(_ context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockClaimRepo) GetByClaimNumber(_ context.Context, orgID uuid.UUID, number string) (*Claim, error) {
	for _, c := range m.items {
		if c.OrganizationID == orgID && c.ClaimNumber == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockClaimRepo) Update(_ context.Context, c *Claim) error {
	if m.failAfter > 0 && m.updates >= m.failAfter {
		return errors.New("connection reset")
	}
	if _, ok := m.items[c.ID]; !ok {
		return ErrNotFound
	}
	m.updates++
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockClaimRepo) ListByStatus(_ context.Context, orgID uuid.UUID, status ClaimStatus, page pagination.Params) ([]*Claim, error) {
	var result []*Claim
	for _, c := range m.items {
		if c.OrganizationID == orgID && c.Status == status {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClaimNumber < result[j].ClaimNumber })
	return paged(result, page), nil
}

func paged[T any](items []T, page pagination.Params) []T {
	if page.Offset >= len(items) {
		return nil
	}
	items = items[page.Offset:]
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items
}

type mockEligibilityRepo struct{ items []*EligibilityCheck }

func (m *mockEligibilityRepo) Create(_ context.Context, e *EligibilityCheck) error {
	m.items = append(m.items, e)
	return nil
}

func (m *mockEligibilityRepo) ListByPatient(_ context.Context, patientID uuid.UUID, page pagination.Params) ([]*EligibilityCheck, error) {
	var result []*EligibilityCheck
	for _, e := range m.items {
		if e.PatientID == patientID {
			result = append(result, e)
		}
	}
	return paged(result, page), nil
}

type mockRemittanceRepo struct{ items []*RemittanceRecord }

func (m *mockRemittanceRepo) Create(_ context.Context, r *RemittanceRecord) error {
	m.items = append(m.items, r)
	return nil
}

func (m *mockRemittanceRepo) ListByClaim(_ context.Context, claimID uuid.UUID) ([]*RemittanceRecord, error) {
	var result []*RemittanceRecord
	for _, r := range m.items {
		if r.ClaimID == claimID {
			result = append(result, r)
		}
	}
	return result, nil
}

// -- Mock transports --

type mockRealTime struct {
	eligibility    *x12.EligibilityResponse
	status         *x12.ClaimStatusResponse
	err            error
	eligibilityReq []x12.EligibilityRequest
	statusReq      []x12.ClaimStatusRequest
}

func (m *mockRealTime) CheckEligibility(_ context.Context, req x12.EligibilityRequest, enc *x12.Encoder) (*x12.EligibilityResponse, error) {
	if _, err := enc.Encode270(req); err != nil {
		return nil, err
	}
	m.eligibilityReq = append(m.eligibilityReq, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.eligibility, nil
}

func (m *mockRealTime) CheckClaimStatus(_ context.Context, req x12.ClaimStatusRequest, enc *x12.Encoder) (*x12.ClaimStatusResponse, error) {
	if _, err := enc.Encode276(req); err != nil {
		return nil, err
	}
	m.statusReq = append(m.statusReq, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.status, nil
}

type mockBatch struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	outbound  []sftp.File
	deleted   []string
	uploadErr error
	listErr   error
	deleteErr error
	connErr   error
}

func newMockBatch() *mockBatch {
	return &mockBatch{uploads: make(map[string][]byte)}
}

func (m *mockBatch) Upload(_ context.Context, content []byte, filename, txType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	if filename == "" {
		filename = txType + "_TP12345_20240315093000.x12"
	}
	m.uploads[filename] = content
	return filename, nil
}

func (m *mockBatch) DownloadAll(_ context.Context, deleteAfter bool) ([]sftp.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := append([]sftp.File(nil), m.outbound...)
	if deleteAfter {
		m.outbound = nil
	}
	return files, m.listErr
}

func (m *mockBatch) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, f := range m.outbound {
		if f.Name == name {
			m.outbound = append(m.outbound[:i], m.outbound[i+1:]...)
			break
		}
	}
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockBatch) TestConnection(context.Context) error { return m.connErr }

type mockClearinghouse struct {
	files map[string][]byte
	err   error
}

func (m *mockClearinghouse) Submit(_ context.Context, filename string, content []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[filename] = content
	return "AV-REF-1", nil
}

// -- 835 fixtures --

const testISA = "ISA*00*          *00*          *ZZ*OKMEDICAID     *ZZ*HOMECARE01     *240315*0930*^*00501*000000123*0*T*:~"

// remittance835 wraps CLP loops in an 835 interchange paid by check EFT12345.
func remittance835(clps ...string) []byte {
	segs := []string{
		testISA,
		"GS*HP*OKMEDICAID*HOMECARE01*20240315*0930*1*X*005010X221A1~",
		"ST*835*0001~",
		"BPR*I*0*C*ACH*CCP*01*999999999*DA*123456*1512345678**01*999999999*DA*654321*20240320~",
		"TRN*1*EFT12345*1512345678~",
		"N1*PR*OKLAHOMA HEALTH CARE AUTHORITY~",
	}
	for _, c := range clps {
		segs = append(segs, c+"~")
	}
	segs = append(segs, "SE*9*0001~", "GE*1*1~", "IEA*1*000000123~")
	return []byte(strings.Join(segs, ""))
}
