package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/homecare/claims/internal/config"
	"github.com/homecare/claims/internal/domain/claims"
	"github.com/homecare/claims/pkg/pagination"
)

// ---------------------------------------------------------------------------
// fake service
// ---------------------------------------------------------------------------

type fakeService struct {
	calls    []string
	ids      []uuid.UUID
	filename string
	content  []byte
	page     pagination.Params
	fail     bool
	released bool
}

func (f *fakeService) record(name string, ids ...uuid.UUID) {
	f.calls = append(f.calls, name)
	f.ids = append(f.ids, ids...)
}

func (f *fakeService) VerifyPatientEligibility(_ context.Context, id uuid.UUID) claims.EligibilityResult {
	f.record("eligibility", id)
	return claims.EligibilityResult{Success: !f.fail, Eligible: !f.fail}
}

func (f *fakeService) EligibilityHistory(_ context.Context, id uuid.UUID, page pagination.Params) ([]*claims.EligibilityCheck, error) {
	f.record("history", id)
	f.page = page
	return []*claims.EligibilityCheck{{PatientID: id, TraceNumber: "TRACE1", Success: true}}, nil
}

func (f *fakeService) CreateClaimFromTimesheet(_ context.Context, id uuid.UUID) (*claims.Claim, error) {
	f.record("create", id)
	if f.fail {
		return nil, claims.ErrNotFound
	}
	return &claims.Claim{TimesheetID: id, ClaimNumber: "CLM20240301ABCDEF12", TotalCharge: decimal.RequireFromString("74.00"), Status: claims.StatusDraft}, nil
}

func (f *fakeService) MarkReady(_ context.Context, id uuid.UUID) (*claims.Claim, error) {
	f.record("ready", id)
	return &claims.Claim{ID: id, Status: claims.StatusReady}, nil
}

func (f *fakeService) ListClaims(_ context.Context, status claims.ClaimStatus, page pagination.Params) ([]*claims.Claim, error) {
	f.record("list:" + string(status))
	f.page = page
	return []*claims.Claim{}, nil
}

func (f *fakeService) ClaimRemittances(_ context.Context, id uuid.UUID) ([]*claims.RemittanceRecord, error) {
	f.record("remittances", id)
	return nil, nil
}

func (f *fakeService) Generate837File(_ context.Context, ids []uuid.UUID, ct claims.ClaimType) (*claims.GeneratedFile, error) {
	f.record("generate:"+string(ct), ids...)
	return &claims.GeneratedFile{ClaimType: ct, ControlNumber: "000000042", Content: []byte("ISA*00*~IEA*1*000000042~")}, nil
}

func (f *fakeService) SubmitClaimsOMES(_ context.Context, ids []uuid.UUID) claims.SubmissionResult {
	f.record("omes", ids...)
	return f.submission(claims.MethodOMES)
}

func (f *fakeService) SubmitClaimsAvaility(_ context.Context, ids []uuid.UUID) claims.SubmissionResult {
	f.record("availity", ids...)
	return f.submission(claims.MethodAvaility)
}

func (f *fakeService) submission(m claims.SubmissionMethod) claims.SubmissionResult {
	if f.fail {
		return claims.SubmissionResult{Method: m, Error: "connect: refused"}
	}
	return claims.SubmissionResult{Success: true, Method: m, Filename: "837P_TP12345_20240315093000.x12"}
}

func (f *fakeService) CheckClaimStatus(_ context.Context, id uuid.UUID) claims.StatusResult {
	f.record("status", id)
	return claims.StatusResult{Success: true, ClaimID: id.String()}
}

func (f *fakeService) ProcessRemittance(_ context.Context, filename string, content []byte) claims.RemittanceResult {
	f.record("process")
	f.filename, f.content = filename, content
	return claims.RemittanceResult{Success: true, Filename: filename}
}

func (f *fakeService) PollRemittances(_ context.Context, deleteAfter bool) claims.PollResult {
	if deleteAfter {
		f.record("poll:delete")
	} else {
		f.record("poll")
	}
	return claims.PollResult{Success: true}
}

func (f *fakeService) TestBatchConnection(context.Context) error {
	f.record("sftp")
	if f.fail {
		return errors.New("sftp: test connection: connect: refused")
	}
	return nil
}

var testOrgID = uuid.MustParse("0b6c8a34-8f0e-4d7e-9c55-3a1f2f4e9d10")

func run(t *testing.T, fake *fakeService, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := &cli{
		out:    &out,
		logger: zerolog.Nop(),
		open: func(_ context.Context, orgID uuid.UUID) (service, func(), error) {
			if orgID != testOrgID {
				t.Errorf("opened org %s, want %s", orgID, testOrgID)
			}
			return fake, func() { fake.released = true }, nil
		},
	}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func orgArgs(args ...string) []string {
	return append([]string{"--org", testOrgID.String()}, args...)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestParseIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids, err := parseIDs([]string{a.String(), b.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Errorf("parseIDs() = %v, want [%s %s]", ids, a, b)
	}

	if _, err := parseIDs([]string{a.String(), "not-a-uuid"}); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	prodLogger := newLogger("production", &buf)
	prodLogger.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("production logger should write JSON, got %q", buf.String())
	}

	buf.Reset()
	devLogger := newLogger("development", &buf)
	devLogger.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("development logger should write console output, got %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// commands
// ---------------------------------------------------------------------------

func TestOrgFlagRequired(t *testing.T) {
	t.Setenv("CLAIMS_ORG_ID", "")
	fake := &fakeService{}
	_, err := run(t, fake, "claim", "status", uuid.NewString())
	if err == nil || !strings.Contains(err.Error(), "--org") {
		t.Fatalf("expected --org error, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("service should not be called, got %v", fake.calls)
	}

	_, err = run(t, fake, "--org", "bogus", "claim", "status", uuid.NewString())
	if err == nil || !strings.Contains(err.Error(), "invalid --org") {
		t.Fatalf("expected invalid --org error, got %v", err)
	}
}

func TestEligibilityCommand(t *testing.T) {
	fake := &fakeService{}
	ts := uuid.New()
	out, err := run(t, fake, orgArgs("eligibility", ts.String())...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res claims.EligibilityResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !res.Success || !res.Eligible {
		t.Errorf("unexpected result %+v", res)
	}
	if len(fake.ids) != 1 || fake.ids[0] != ts {
		t.Errorf("eligibility called with %v, want %s", fake.ids, ts)
	}
	if !fake.released {
		t.Error("service was not released")
	}
}

func TestEligibilityHistoryCommand(t *testing.T) {
	fake := &fakeService{}
	patient := uuid.New()
	out, err := run(t, fake, orgArgs("eligibility", "history", patient.String())...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls[0] != "history" {
		t.Errorf("calls = %v, want history", fake.calls)
	}
	if !strings.Contains(out, "TRACE1") {
		t.Errorf("output missing trace number: %s", out)
	}
	if fake.page != (pagination.Params{Limit: pagination.DefaultLimit}) {
		t.Errorf("page = %+v", fake.page)
	}
}

func TestClaimListPaging(t *testing.T) {
	fake := &fakeService{}
	out, err := run(t, fake, orgArgs("claim", "list", "--status", "paid", "--limit", "5000", "--offset", "200")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.page != (pagination.Params{Limit: pagination.MaxLimit, Offset: 200}) {
		t.Errorf("page = %+v", fake.page)
	}
	var page pagination.Page[claims.Claim]
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("output is not a page: %v\n%s", err, out)
	}
	if page.Offset != 200 || page.Items == nil {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestFailedResultPrintsAndFails(t *testing.T) {
	fake := &fakeService{fail: true}
	out, err := run(t, fake, orgArgs("eligibility", uuid.NewString())...)
	if !errors.Is(err, errFailed) {
		t.Fatalf("expected errFailed, got %v", err)
	}
	if !strings.Contains(out, `"success": false`) {
		t.Errorf("failed result should still be printed, got %s", out)
	}
}

func TestClaimCreateError(t *testing.T) {
	fake := &fakeService{fail: true}
	out, err := run(t, fake, orgArgs("claim", "create", uuid.NewString())...)
	if !errors.Is(err, claims.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if out != "" {
		t.Errorf("nothing should be printed on error, got %s", out)
	}
}

func TestClaimCommands(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		args []string
		call string
	}{
		{"create", []string{"claim", "create", id.String()}, "create"},
		{"ready", []string{"claim", "ready", id.String()}, "ready"},
		{"list default status", []string{"claim", "list"}, "list:ready"},
		{"list submitted", []string{"claim", "list", "--status", "submitted"}, "list:submitted"},
		{"status", []string{"claim", "status", id.String()}, "status"},
		{"remittances", []string{"claim", "remittances", id.String()}, "remittances"},
		{"poll", []string{"remittance", "poll"}, "poll"},
		{"poll delete", []string{"remittance", "poll", "--delete"}, "poll:delete"},
		{"sftp test", []string{"sftp", "test"}, "sftp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeService{}
			if _, err := run(t, fake, orgArgs(tt.args...)...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(fake.calls) != 1 || fake.calls[0] != tt.call {
				t.Errorf("calls = %v, want [%s]", fake.calls, tt.call)
			}
		})
	}
}

func TestClaimSubmitVia(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	fake := &fakeService{}
	out, err := run(t, fake, orgArgs("claim", "submit", "--via", "availity", a.String(), b.String())...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls[0] != "availity" || len(fake.ids) != 2 || fake.ids[1] != b {
		t.Errorf("calls = %v ids = %v", fake.calls, fake.ids)
	}
	if !strings.Contains(out, `"method": "availity"`) {
		t.Errorf("unexpected output %s", out)
	}

	fake = &fakeService{}
	if _, err := run(t, fake, orgArgs("claim", "submit", a.String())...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls[0] != "omes" {
		t.Errorf("default route = %v, want omes", fake.calls)
	}

	fake = &fakeService{}
	if _, err := run(t, fake, orgArgs("claim", "submit", "--via", "fax", a.String())...); err == nil {
		t.Error("expected error for unknown route")
	}
	if len(fake.calls) != 0 {
		t.Errorf("service should not be called, got %v", fake.calls)
	}

	fake = &fakeService{fail: true}
	if _, err := run(t, fake, orgArgs("claim", "submit", a.String())...); !errors.Is(err, errFailed) {
		t.Errorf("expected errFailed, got %v", err)
	}
}

func TestClaimGenerate(t *testing.T) {
	id := uuid.New()

	fake := &fakeService{}
	out, err := run(t, fake, orgArgs("claim", "generate", id.String())...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ISA*00*~IEA*1*000000042~" {
		t.Errorf("stdout = %q, want raw interchange", out)
	}
	if fake.calls[0] != "generate:837P" {
		t.Errorf("calls = %v", fake.calls)
	}

	path := filepath.Join(t.TempDir(), "claims.x12")
	fake = &fakeService{}
	out, err = run(t, fake, orgArgs("claim", "generate", "--out", path, id.String())...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(written) != "ISA*00*~IEA*1*000000042~" {
		t.Errorf("file content = %q", written)
	}
	if !strings.Contains(out, `"control_number": "000000042"`) || !strings.Contains(out, path) {
		t.Errorf("unexpected summary %s", out)
	}

	fake = &fakeService{}
	if _, err := run(t, fake, orgArgs("claim", "generate", "--type", "999", id.String())...); err == nil {
		t.Error("expected error for unknown claim type")
	}
}

func TestRemittanceProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "835_0001.x12")
	if err := os.WriteFile(path, []byte("ISA*835~"), 0o600); err != nil {
		t.Fatal(err)
	}
	fake := &fakeService{}
	if _, err := run(t, fake, orgArgs("remittance", "process", path)...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.filename != "835_0001.x12" || string(fake.content) != "ISA*835~" {
		t.Errorf("processed %q with %q", fake.filename, fake.content)
	}

	if _, err := run(t, &fakeService{}, orgArgs("remittance", "process", filepath.Join(t.TempDir(), "missing"))...); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSftpTestFailure(t *testing.T) {
	fake := &fakeService{fail: true}
	out, err := run(t, fake, orgArgs("sftp", "test")...)
	if !errors.Is(err, errFailed) {
		t.Fatalf("expected errFailed, got %v", err)
	}
	if !strings.Contains(out, "refused") {
		t.Errorf("error should be printed, got %s", out)
	}
}

// ---------------------------------------------------------------------------
// wiring
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Env:               "development",
		X12UsageIndicator: "T",
		X12ReceiverID:     "OKMEDICAID",
		X12PayerName:      "OKLAHOMA HEALTH CARE AUTHORITY",
		X12PayerID:        "731476619",
		COREEndpoint:      "https://core.payer.example/realtime",
		COREMaxAttempts:   3,
		SFTPHost:          "sftp.payer.example",
		SFTPPort:          22,
		SFTPEnvironment:   "TEST",
	}
}

func TestBuildService(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error: %v", err)
	}
	defer mock.Close()

	org := claims.OrgConfig{OrganizationID: testOrgID, SenderID: "HOMECARE01", TradingPartnerID: "TP12345"}
	svc, err := buildService(testConfig(), org, mock, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Organization().OrganizationID != testOrgID {
		t.Errorf("service org = %s", svc.Organization().OrganizationID)
	}

	cfg := testConfig()
	cfg.COREEndpoint = "::not a url"
	if _, err := buildService(cfg, org, mock, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid CORE endpoint")
	}
}

func TestBuildService_WithoutTransports(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error: %v", err)
	}
	defer mock.Close()

	cfg := testConfig()
	cfg.COREEndpoint = ""
	cfg.SFTPHost = ""
	svc, err := buildService(cfg, claims.OrgConfig{OrganizationID: testOrgID}, mock, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := svc.VerifyPatientEligibility(context.Background(), uuid.New())
	if res.Success || !strings.Contains(res.Error, "not configured") {
		t.Errorf("expected not configured error, got %+v", res)
	}
}

func TestSealSecret(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sealed, err := sealSecret(hex.EncodeToString(key), "rt-pass", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:") {
		t.Errorf("sealed = %q, want enc: prefix", sealed)
	}

	if _, err := sealSecret("", "rt-pass", zerolog.Nop()); err == nil {
		t.Error("expected error without a key")
	}
}
