package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/homecare/claims/internal/platform/sftp"
	"github.com/homecare/claims/internal/platform/x12"
	"github.com/homecare/claims/pkg/pagination"
)

// RealTimeClient performs 270/271 and 276/277 exchanges.
type RealTimeClient interface {
	CheckEligibility(ctx context.Context, req x12.EligibilityRequest, enc *x12.Encoder) (*x12.EligibilityResponse, error)
	CheckClaimStatus(ctx context.Context, req x12.ClaimStatusRequest, enc *x12.Encoder) (*x12.ClaimStatusResponse, error)
}

// BatchClient exchanges files with the payer's SFTP server.
type BatchClient interface {
	Upload(ctx context.Context, content []byte, filename, txType string) (string, error)
	DownloadAll(ctx context.Context, deleteAfter bool) ([]sftp.File, error)
	Delete(ctx context.Context, name string) error
	TestConnection(ctx context.Context) error
}

// TxFunc runs fn so that repository calls made with its context commit or
// roll back together.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Service drives claims for one organization from timesheet to remittance.
type Service struct {
	org   OrgConfig
	payer PayerConfig

	timesheets  TimesheetRepository
	patients    PatientRepository
	employees   EmployeeRepository
	claims      ClaimRepository
	eligibility EligibilityRepository
	remittances RemittanceRepository

	realtime      RealTimeClient
	batch         BatchClient
	clearinghouse Clearinghouse

	inTx    TxFunc
	logger  zerolog.Logger
	now     func() time.Time
	encoder *x12.Encoder
}

// Option configures a Service.
type Option func(*Service)

func WithRealTime(c RealTimeClient) Option { return func(s *Service) { s.realtime = c } }

func WithBatch(c BatchClient) Option { return func(s *Service) { s.batch = c } }

func WithClearinghouse(c Clearinghouse) Option { return func(s *Service) { s.clearinghouse = c } }

func WithTx(fn TxFunc) Option { return func(s *Service) { s.inTx = fn } }

func WithLogger(logger zerolog.Logger) Option { return func(s *Service) { s.logger = logger } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithControlNumbers overrides the ISA13 generator.
func WithControlNumbers(next func() int) Option {
	return func(s *Service) { s.encoder.ControlNumber = next }
}

func NewService(org OrgConfig, payer PayerConfig, repos Repositories, opts ...Option) *Service {
	s := &Service{
		org:         org,
		payer:       payer,
		timesheets:  repos.Timesheets,
		patients:    repos.Patients,
		employees:   repos.Employees,
		claims:      repos.Claims,
		eligibility: repos.Eligibility,
		remittances: repos.Remittances,
		inTx:        noTx,
		logger:      zerolog.Nop(),
		now:         time.Now,
		encoder:     x12.NewEncoder(org.SenderID, payer.ReceiverID, payer.UsageIndicator, payer.PayerName, payer.PayerID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.encoder.Now = func() time.Time { return s.now() }
	s.logger = s.logger.With().Str("organization_id", org.OrganizationID.String()).Logger()
	return s
}

// Organization returns the organization the service acts for.
func (s *Service) Organization() OrgConfig { return s.org }

func (s *Service) ownTimesheet(ctx context.Context, id uuid.UUID) (*Timesheet, error) {
	ts, err := s.timesheets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load timesheet %s: %w", id, err)
	}
	if ts.OrganizationID != s.org.OrganizationID {
		return nil, fmt.Errorf("load timesheet %s: %w", id, ErrNotFound)
	}
	return ts, nil
}

func (s *Service) ownClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load claim %s: %w", id, err)
	}
	if c.OrganizationID != s.org.OrganizationID {
		return nil, fmt.Errorf("load claim %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// -- Eligibility --

// EligibilityResult is the outcome of VerifyPatientEligibility.
type EligibilityResult struct {
	Success  bool                     `json:"success"`
	Eligible bool                     `json:"eligible"`
	CheckID  *uuid.UUID               `json:"check_id,omitempty"`
	Details  *x12.EligibilityResponse `json:"details,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// VerifyPatientEligibility runs a 270/271 for the patient on a timesheet.
// Every failure is reported in the result. Each inquiry that reaches the
// payer, successful or not, is written to the eligibility audit.
func (s *Service) VerifyPatientEligibility(ctx context.Context, timesheetID uuid.UUID) EligibilityResult {
	log := s.logger.With().Str("timesheet_id", timesheetID.String()).Logger()
	if s.realtime == nil {
		return EligibilityResult{Error: "real-time client is not configured"}
	}

	ts, err := s.ownTimesheet(ctx, timesheetID)
	if err != nil {
		return EligibilityResult{Error: err.Error()}
	}
	patient, err := s.patients.GetByID(ctx, ts.PatientID)
	if err != nil {
		return EligibilityResult{Error: fmt.Sprintf("load patient %s: %v", ts.PatientID, err)}
	}

	check := &EligibilityCheck{
		ID:             uuid.New(),
		OrganizationID: s.org.OrganizationID,
		PatientID:      patient.ID,
		TimesheetID:    ts.ID,
	}
	check.TraceNumber = strings.ToUpper(strings.ReplaceAll(check.ID.String(), "-", ""))

	req := x12.EligibilityRequest{
		MemberID:        patient.MedicaidID,
		FirstName:       patient.FirstName,
		LastName:        patient.LastName,
		DateOfBirth:     patient.DateOfBirth,
		Gender:          patient.Gender,
		ProviderNPI:     s.org.NPI,
		ProviderName:    s.org.Name,
		ServiceTypeCode: x12.DefaultServiceTypeCode,
		ServiceDate:     ts.ServiceDate,
		TraceNumber:     check.TraceNumber,
	}

	resp, err := s.realtime.CheckEligibility(ctx, req, s.encoder)
	check.CheckedAt = s.now()
	result := EligibilityResult{CheckID: &check.ID}

	var encErr *x12.EncodingError
	switch {
	case errors.As(err, &encErr):
		// Nothing was sent.
		return EligibilityResult{Error: err.Error()}
	case err != nil:
		msg := err.Error()
		check.Error = &msg
		result.Error = msg
		log.Warn().Err(err).Msg("eligibility inquiry failed")
	default:
		check.Success = true
		check.Eligible = resp.Active
		check.Response = resp
		result.Success = true
		result.Eligible = resp.Active
		result.Details = resp
	}

	if err := s.eligibility.Create(ctx, check); err != nil {
		log.Error().Err(err).Msg("failed to record eligibility check")
		result.CheckID = nil
	}
	log.Info().Bool("success", result.Success).Bool("eligible", result.Eligible).Msg("eligibility verified")
	return result
}

// EligibilityHistory lists a patient's eligibility checks, newest first.
func (s *Service) EligibilityHistory(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*EligibilityCheck, error) {
	return s.eligibility.ListByPatient(ctx, patientID, page.Normalize(pagination.DefaultLimit))
}

// -- Claims --

// CreateClaimFromTimesheet prices a timesheet into a draft claim. The charge
// is hours times the employee's hourly rate, billed in 15-minute units.
func (s *Service) CreateClaimFromTimesheet(ctx context.Context, timesheetID uuid.UUID) (*Claim, error) {
	ts, err := s.ownTimesheet(ctx, timesheetID)
	if err != nil {
		return nil, err
	}
	if _, err := s.patients.GetByID(ctx, ts.PatientID); err != nil {
		return nil, fmt.Errorf("load patient %s: %w", ts.PatientID, err)
	}
	employee, err := s.employees.GetByID(ctx, ts.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("load employee %s: %w", ts.EmployeeID, err)
	}
	if !ts.Hours.IsPositive() {
		return nil, &ValidationError{Message: fmt.Sprintf("timesheet %s has no billable hours", ts.ID)}
	}
	if !employee.HourlyRate.IsPositive() {
		return nil, &ValidationError{Message: fmt.Sprintf("employee %s has no hourly rate", employee.ID)}
	}

	procedure := ts.ProcedureCode
	if procedure == "" {
		procedure = DefaultProcedureCode
	}
	c := &Claim{
		ID:             uuid.New(),
		OrganizationID: s.org.OrganizationID,
		TimesheetID:    ts.ID,
		PatientID:      ts.PatientID,
		EmployeeID:     ts.EmployeeID,
		ServiceDate:    ts.ServiceDate,
		ProcedureCode:  procedure,
		Modifiers:      ts.Modifiers,
		PlaceOfService: ts.PlaceOfService,
		Units:          ts.Hours.Mul(unitsPerHour),
		TotalCharge:    ts.Hours.Mul(employee.HourlyRate).Round(2),
		Status:         StatusDraft,
	}
	c.ClaimNumber = NewClaimNumber(c.ID, c.ServiceDate)

	if err := s.claims.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	s.logger.Info().Str("claim_id", c.ID.String()).Str("timesheet_id", ts.ID.String()).
		Str("total_charge", c.TotalCharge.StringFixed(2)).Msg("claim created")
	return c, nil
}

// GetClaim returns one of the organization's claims.
func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.ownClaim(ctx, id)
}

// ListClaims returns the organization's claims in one status.
func (s *Service) ListClaims(ctx context.Context, status ClaimStatus, page pagination.Params) ([]*Claim, error) {
	if _, ok := transitions[status]; !ok && !status.Adjudicated() {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown claim status %q", status)}
	}
	return s.claims.ListByStatus(ctx, s.org.OrganizationID, status, page.Normalize(100))
}

// MarkReady moves a draft claim to ready.
func (s *Service) MarkReady(ctx context.Context, claimID uuid.UUID) (*Claim, error) {
	c, err := s.ownClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, StatusReady) {
		return nil, &ValidationError{Message: fmt.Sprintf("claim %s is %s and cannot become ready", c.ClaimNumber, c.Status)}
	}
	c.Status = StatusReady
	if err := s.claims.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update claim %s: %w", c.ID, err)
	}
	return c, nil
}

// ClaimRemittances lists the remittance audit rows for a claim.
func (s *Service) ClaimRemittances(ctx context.Context, claimID uuid.UUID) ([]*RemittanceRecord, error) {
	if _, err := s.ownClaim(ctx, claimID); err != nil {
		return nil, err
	}
	return s.remittances.ListByClaim(ctx, claimID)
}

// -- 837 generation --

// GeneratedFile is one encoded claim interchange.
type GeneratedFile struct {
	ClaimType     ClaimType   `json:"claim_type"`
	ControlNumber string      `json:"control_number"`
	Content       []byte      `json:"-"`
	Claims        []*Claim    `json:"claims"`
	SkippedIDs    []uuid.UUID `json:"skipped_ids,omitempty"`
}

// Generate837File encodes the given claims, in order, into one interchange.
// Ids whose claim, patient or employee no longer exists are skipped.
func (s *Service) Generate837File(ctx context.Context, claimIDs []uuid.UUID, claimType ClaimType) (*GeneratedFile, error) {
	switch claimType {
	case ClaimType837P:
	case ClaimType837I, ClaimType837D:
		return nil, fmt.Errorf("%s: %w", claimType, ErrClaimTypeUnsupported)
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unknown claim type %q", claimType)}
	}
	if len(claimIDs) == 0 {
		return nil, &ValidationError{Message: "no claims requested"}
	}

	file := &GeneratedFile{ClaimType: claimType}
	var records []x12.ClaimRecord
	for _, id := range claimIDs {
		c, rec, err := s.loadClaimRecord(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn().Str("claim_id", id.String()).Err(err).Msg("skipping claim without stored records")
			file.SkippedIDs = append(file.SkippedIDs, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		file.Claims = append(file.Claims, c)
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, &ValidationError{Message: "none of the requested claims could be loaded", Err: ErrNotFound}
	}

	ic, err := s.encoder.Encode837P(x12.ClaimBatch{
		SenderID:     s.org.SenderID,
		ReceiverID:   s.payer.ReceiverID,
		ProviderName: s.org.Name,
		NPI:          s.org.NPI,
		TaxID:        s.org.TaxID,
		Taxonomy:     s.org.Taxonomy,
		ContactName:  s.org.ContactName,
		ContactPhone: s.org.ContactPhone,
		Address:      s.org.Address,
		PayerName:    s.payer.PayerName,
		PayerID:      s.payer.PayerID,
		Claims:       records,
	})
	if err != nil {
		return nil, err
	}
	file.ControlNumber = ic.ControlNumber
	file.Content = ic.Bytes()
	s.logger.Info().Int("claims", len(file.Claims)).Int("skipped", len(file.SkippedIDs)).
		Str("control_number", ic.ControlNumber).Msg("generated 837P")
	return file, nil
}

func (s *Service) loadClaimRecord(ctx context.Context, id uuid.UUID) (*Claim, x12.ClaimRecord, error) {
	c, err := s.ownClaim(ctx, id)
	if err != nil {
		return nil, x12.ClaimRecord{}, err
	}
	patient, err := s.patients.GetByID(ctx, c.PatientID)
	if err != nil {
		return nil, x12.ClaimRecord{}, fmt.Errorf("claim %s patient: %w", id, err)
	}
	employee, err := s.employees.GetByID(ctx, c.EmployeeID)
	if err != nil {
		return nil, x12.ClaimRecord{}, fmt.Errorf("claim %s employee: %w", id, err)
	}
	return c, x12.ClaimRecord{
		ClaimNumber:    c.ClaimNumber,
		ServiceDate:    c.ServiceDate,
		TotalCharge:    c.TotalCharge,
		Units:          c.Units,
		ProcedureCode:  c.ProcedureCode,
		Modifiers:      c.Modifiers,
		DiagnosisCode:  patient.DiagnosisCode,
		PlaceOfService: c.PlaceOfService,
		Patient: x12.ClaimPatient{
			MemberID:    patient.MedicaidID,
			FirstName:   patient.FirstName,
			LastName:    patient.LastName,
			DateOfBirth: patient.DateOfBirth,
			Gender:      patient.Gender,
			Address:     patient.Address(),
		},
		Rendering: x12.RenderingProvider{
			FirstName: employee.FirstName,
			LastName:  employee.LastName,
			NPI:       employee.NPI,
		},
	}, nil
}

// -- Submission --

// SubmissionResult is the outcome of a claim submission.
type SubmissionResult struct {
	Success    bool             `json:"success"`
	Method     SubmissionMethod `json:"method"`
	Filename   string           `json:"filename,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Submitted  []string         `json:"submitted,omitempty"`
	SkippedIDs []string         `json:"skipped_ids,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type sendFunc func(ctx context.Context, file *GeneratedFile) (filename, reference string, err error)

// SubmitClaimsOMES uploads one 837P for the claims to the payer's inbound
// SFTP directory and marks them submitted.
func (s *Service) SubmitClaimsOMES(ctx context.Context, claimIDs []uuid.UUID) SubmissionResult {
	if s.batch == nil {
		return SubmissionResult{Method: MethodOMES, Error: "batch client is not configured"}
	}
	return s.submit(ctx, claimIDs, MethodOMES, func(ctx context.Context, file *GeneratedFile) (string, string, error) {
		name, err := s.batch.Upload(ctx, file.Content, "", string(ClaimType837P))
		return name, "", err
	})
}

// SubmitClaimsAvaility sends one 837P for the claims through the
// clearinghouse and marks them submitted.
func (s *Service) SubmitClaimsAvaility(ctx context.Context, claimIDs []uuid.UUID) SubmissionResult {
	if s.clearinghouse == nil {
		return SubmissionResult{Method: MethodAvaility, Error: "clearinghouse is not configured"}
	}
	return s.submit(ctx, claimIDs, MethodAvaility, func(ctx context.Context, file *GeneratedFile) (string, string, error) {
		name := sftp.DefaultFilename(string(ClaimType837P), firstNonEmpty(s.org.TradingPartnerID, s.org.SenderID), s.now())
		ref, err := s.clearinghouse.Submit(ctx, name, file.Content)
		return name, ref, err
	})
}

// submit checks every claim may be submitted, sends the file, then marks
// the claims one at a time. A failure while marking stops the loop and
// leaves the earlier claims submitted.
func (s *Service) submit(ctx context.Context, claimIDs []uuid.UUID, method SubmissionMethod, send sendFunc) SubmissionResult {
	result := SubmissionResult{Method: method}

	file, err := s.Generate837File(ctx, claimIDs, ClaimType837P)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	for _, id := range file.SkippedIDs {
		result.SkippedIDs = append(result.SkippedIDs, id.String())
	}
	for _, c := range file.Claims {
		if !CanTransition(c.Status, StatusSubmitted) {
			result.Error = (&ValidationError{Message: fmt.Sprintf("claim %s is %s and cannot be submitted", c.ClaimNumber, c.Status)}).Error()
			return result
		}
	}

	filename, reference, err := send(ctx, file)
	if err != nil {
		s.logger.Error().Err(err).Str("method", string(method)).Msg("claim submission failed")
		result.Error = fmt.Sprintf("submit via %s: %v", method, err)
		return result
	}
	result.Filename = filename
	result.Reference = reference

	at := s.now()
	for _, c := range file.Claims {
		c.Status = StatusSubmitted
		c.SubmissionMethod = &method
		c.SubmissionDate = &at
		c.SubmissionFilename = &filename
		if err := s.claims.Update(ctx, c); err != nil {
			s.logger.Error().Err(err).Str("claim_id", c.ID.String()).Str("filename", filename).
				Msg("file sent but claim not marked submitted")
			result.Error = fmt.Sprintf("mark claim %s submitted: %v", c.ID, err)
			return result
		}
		result.Submitted = append(result.Submitted, c.ID.String())
	}

	result.Success = true
	s.logger.Info().Str("method", string(method)).Str("filename", filename).
		Int("claims", len(result.Submitted)).Msg("claims submitted")
	return result
}

// -- Status --

// StatusResult is the outcome of CheckClaimStatus.
type StatusResult struct {
	Success bool                     `json:"success"`
	Checked bool                     `json:"checked"`
	ClaimID string                   `json:"claim_id"`
	Status  ClaimStatus              `json:"status,omitempty"`
	Details *x12.ClaimStatusResponse `json:"details,omitempty"`
	Message string                   `json:"message,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// CheckClaimStatus runs a 276/277 for a submitted claim and records the
// answer in the claim's secondary status fields. The lifecycle status is
// left alone; remittances move it.
func (s *Service) CheckClaimStatus(ctx context.Context, claimID uuid.UUID) StatusResult {
	result := StatusResult{ClaimID: claimID.String()}
	if s.realtime == nil {
		result.Error = "real-time client is not configured"
		return result
	}

	c, err := s.ownClaim(ctx, claimID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Status = c.Status
	if c.Status == StatusDraft || c.Status == StatusReady {
		result.Success = true
		result.Message = fmt.Sprintf("claim is %s; status is only available after submission", c.Status)
		return result
	}

	patient, err := s.patients.GetByID(ctx, c.PatientID)
	if err != nil {
		result.Error = fmt.Sprintf("load patient %s: %v", c.PatientID, err)
		return result
	}

	serviceDate := c.ServiceDate
	req := x12.ClaimStatusRequest{
		ClaimID:      c.ClaimNumber,
		MemberID:     patient.MedicaidID,
		FirstName:    patient.FirstName,
		LastName:     patient.LastName,
		DateOfBirth:  patient.DateOfBirth,
		Gender:       patient.Gender,
		ProviderNPI:  s.org.NPI,
		ProviderName: s.org.Name,
		ServiceDate:  &serviceDate,
		TotalCharge:  c.TotalCharge,
		PatientTrace: c.ClaimNumber,
		ClaimTrace:   c.ClaimNumber,
	}
	if c.PayerClaimControlNumber != nil {
		req.PayerClaimControlNumber = *c.PayerClaimControlNumber
	}

	resp, err := s.realtime.CheckClaimStatus(ctx, req, s.encoder)
	if err != nil {
		s.logger.Warn().Err(err).Str("claim_id", c.ID.String()).Msg("claim status inquiry failed")
		result.Error = err.Error()
		return result
	}

	at := s.now()
	code := string(resp.StatusCode)
	desc := resp.Description
	c.StatusCode = &code
	c.StatusDescription = &desc
	c.LastStatusCheck = &at
	if resp.PaymentAmount != nil {
		c.PaymentAmount = resp.PaymentAmount
	}
	if resp.CheckNumber != nil {
		c.CheckNumber = resp.CheckNumber
	}
	if resp.PayerClaimControlNumber != nil {
		c.PayerClaimControlNumber = resp.PayerClaimControlNumber
	}
	if err := s.claims.Update(ctx, c); err != nil {
		result.Error = fmt.Sprintf("update claim %s: %v", c.ID, err)
		return result
	}

	s.logger.Info().Str("claim_id", c.ID.String()).Str("status", code).Msg("claim status checked")
	result.Success = true
	result.Checked = true
	result.Details = resp
	return result
}

// -- Remittance --

// RemittanceResult is the outcome of ProcessRemittance.
type RemittanceResult struct {
	Success   bool     `json:"success"`
	Filename  string   `json:"filename"`
	Processed int      `json:"processed"`
	Paid      int      `json:"paid"`
	Denied    int      `json:"denied"`
	Unmatched []string `json:"unmatched,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ProcessRemittance applies an 835 to the organization's claims. Each
// remittance settles the claim with the same claim number as paid when
// money moved and denied otherwise, and is kept as an audit row. Claim
// numbers with no claim are reported as unmatched.
func (s *Service) ProcessRemittance(ctx context.Context, filename string, content []byte) RemittanceResult {
	result := RemittanceResult{Filename: filename}
	log := s.logger.With().Str("filename", filename).Logger()

	advices, err := x12.Decode835(content)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	for i := range advices {
		adv := advices[i]
		status, err := s.applyRemittance(ctx, filename, adv)
		switch {
		case errors.Is(err, ErrNotFound):
			log.Warn().Str("claim_number", adv.ClaimNumber).Msg("remittance for unknown claim")
			result.Unmatched = append(result.Unmatched, adv.ClaimNumber)
		case err != nil:
			log.Error().Err(err).Str("claim_number", adv.ClaimNumber).Msg("remittance not applied")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", adv.ClaimNumber, err))
		default:
			result.Processed++
			if status == StatusPaid {
				result.Paid++
			} else {
				result.Denied++
			}
		}
	}

	result.Success = len(result.Errors) == 0
	if !result.Success {
		result.Error = fmt.Sprintf("%d of %d remittances not applied", len(result.Errors), len(advices))
	}
	log.Info().Int("processed", result.Processed).Int("paid", result.Paid).Int("denied", result.Denied).
		Int("unmatched", len(result.Unmatched)).Msg("remittance processed")
	return result
}

func (s *Service) applyRemittance(ctx context.Context, filename string, adv x12.RemittanceAdvice) (ClaimStatus, error) {
	target := StatusDenied
	if adv.PaymentAmount.GreaterThan(decimal.Zero) {
		target = StatusPaid
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByClaimNumber(ctx, s.org.OrganizationID, adv.ClaimNumber)
		if err != nil {
			return err
		}
		if !CanTransition(c.Status, target) && !c.Status.Adjudicated() {
			return &ValidationError{Message: fmt.Sprintf("claim %s is %s", c.ClaimNumber, c.Status)}
		}

		payment := adv.PaymentAmount
		c.Status = target
		c.PaymentAmount = &payment
		if adv.CheckNumber != "" {
			check := adv.CheckNumber
			c.CheckNumber = &check
		}
		if adv.PayerClaimControlNumber != "" {
			pccn := adv.PayerClaimControlNumber
			c.PayerClaimControlNumber = &pccn
		}
		c.PaidDate = nil
		if target == StatusPaid {
			c.PaidDate = adv.PaymentDate
		}
		if err := s.claims.Update(ctx, c); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}

		rec := &RemittanceRecord{
			ID:                      uuid.New(),
			OrganizationID:          s.org.OrganizationID,
			ClaimID:                 c.ID,
			Filename:                filename,
			ClaimNumber:             adv.ClaimNumber,
			PayerClaimControlNumber: adv.PayerClaimControlNumber,
			ClaimStatusCode:         adv.ClaimStatusCode,
			ChargeAmount:            adv.ChargeAmount,
			PaymentAmount:           adv.PaymentAmount,
			PatientResponsibility:   adv.PatientResponsibility,
			CheckNumber:             adv.CheckNumber,
			PaymentDate:             adv.PaymentDate,
			PayerName:               adv.PayerName,
			Detail:                  adv,
			ProcessedAt:             s.now(),
		}
		if err := s.remittances.Create(ctx, rec); err != nil {
			return fmt.Errorf("record remittance: %w", err)
		}
		return nil
	})
	return target, err
}

// PollResult is the outcome of PollRemittances.
type PollResult struct {
	Success     bool               `json:"success"`
	Remittances []RemittanceResult `json:"remittances,omitempty"`
	Skipped     []string           `json:"skipped,omitempty"`
	Deleted     []string           `json:"deleted,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// PollRemittances downloads the payer's outbound files and processes every
// 835 among them. Other response files are left for other consumers. With
// deleteAfter set, an 835 is removed from the server once it has been fully
// applied.
func (s *Service) PollRemittances(ctx context.Context, deleteAfter bool) PollResult {
	var result PollResult
	if s.batch == nil {
		result.Error = "batch client is not configured"
		return result
	}

	files, dlErr := s.batch.DownloadAll(ctx, false)
	var failures []string
	if dlErr != nil {
		failures = append(failures, fmt.Sprintf("download: %v", dlErr))
	}

	for _, f := range files {
		kind := sftp.ClassifyFile(f.Name, f.Content)
		if kind != sftp.KindRemittance {
			s.logger.Info().Str("filename", f.Name).Str("kind", kind).Msg("skipping non-remittance file")
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}

		r := s.ProcessRemittance(ctx, f.Name, f.Content)
		result.Remittances = append(result.Remittances, r)
		if !r.Success {
			failures = append(failures, fmt.Sprintf("%s: %s", f.Name, r.Error))
			continue
		}
		if deleteAfter {
			if err := s.batch.Delete(ctx, f.Name); err != nil {
				s.logger.Warn().Err(err).Str("filename", f.Name).Msg("processed file not deleted")
				continue
			}
			result.Deleted = append(result.Deleted, f.Name)
		}
	}

	result.Success = len(failures) == 0
	result.Error = strings.Join(failures, "; ")
	return result
}

// TestBatchConnection checks the SFTP login and both exchange directories.
func (s *Service) TestBatchConnection(ctx context.Context) error {
	if s.batch == nil {
		return errors.New("batch client is not configured")
	}
	return s.batch.TestConnection(ctx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
