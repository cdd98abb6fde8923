package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/homecare/claims/internal/platform/db"
	"github.com/homecare/claims/pkg/pagination"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Timesheet Repository ===========

type timesheetRepoPG struct{ q db.Querier }

func NewTimesheetRepoPG(q db.Querier) TimesheetRepository { return &timesheetRepoPG{q: q} }

func (r *timesheetRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Timesheet, error) {
	var t Timesheet
	err := db.Conn(ctx, r.q).QueryRow(ctx, `
		SELECT id, organization_id, patient_id, employee_id, service_date, hours,
			procedure_code, modifiers, place_of_service
		FROM timesheets WHERE id = $1`, id).
		Scan(&t.ID, &t.OrganizationID, &t.PatientID, &t.EmployeeID, &t.ServiceDate, &t.Hours,
			&t.ProcedureCode, &t.Modifiers, &t.PlaceOfService)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ q db.Querier }

func NewPatientRepoPG(q db.Querier) PatientRepository { return &patientRepoPG{q: q} }

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.q).QueryRow(ctx, `
		SELECT id, organization_id, medicaid_id, first_name, last_name, date_of_birth, gender,
			address_line1, address_line2, city, state, zip, diagnosis_code
		FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.OrganizationID, &p.MedicaidID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender,
			&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.Zip, &p.DiagnosisCode)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// =========== Employee Repository ===========

type employeeRepoPG struct{ q db.Querier }

func NewEmployeeRepoPG(q db.Querier) EmployeeRepository { return &employeeRepoPG{q: q} }

func (r *employeeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Employee, error) {
	var e Employee
	err := db.Conn(ctx, r.q).QueryRow(ctx, `
		SELECT id, organization_id, first_name, last_name, npi, hourly_rate
		FROM employees WHERE id = $1`, id).
		Scan(&e.ID, &e.OrganizationID, &e.FirstName, &e.LastName, &e.NPI, &e.HourlyRate)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// =========== Claim Repository ===========

type claimRepoPG struct{ q db.Querier }

func NewClaimRepoPG(q db.Querier) ClaimRepository { return &claimRepoPG{q: q} }

const claimCols = `id, organization_id, timesheet_id, patient_id, employee_id, claim_number,
	service_date, procedure_code, modifiers, place_of_service, units, total_charge,
	status, status_code, status_description, payer_claim_control_number,
	payment_amount, check_number, last_status_check,
	submission_method, submission_date, submission_filename, paid_date,
	created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.OrganizationID, &c.TimesheetID, &c.PatientID, &c.EmployeeID, &c.ClaimNumber,
		&c.ServiceDate, &c.ProcedureCode, &c.Modifiers, &c.PlaceOfService, &c.Units, &c.TotalCharge,
		&c.Status, &c.StatusCode, &c.StatusDescription, &c.PayerClaimControlNumber,
		&c.PaymentAmount, &c.CheckNumber, &c.LastStatusCheck,
		&c.SubmissionMethod, &c.SubmissionDate, &c.SubmissionFilename, &c.PaidDate,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return db.Conn(ctx, r.q).QueryRow(ctx, `
		INSERT INTO claims (id, organization_id, timesheet_id, patient_id, employee_id, claim_number,
			service_date, procedure_code, modifiers, place_of_service, units, total_charge, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		c.ID, c.OrganizationID, c.TimesheetID, c.PatientID, c.EmployeeID, c.ClaimNumber,
		c.ServiceDate, c.ProcedureCode, c.Modifiers, c.PlaceOfService, c.Units, c.TotalCharge, c.Status).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(db.Conn(ctx, r.q).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *claimRepoPG) GetByClaimNumber(ctx context.Context, orgID uuid.UUID, claimNumber string) (*Claim, error) {
	return r.scanClaim(db.Conn(ctx, r.q).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE organization_id = $1 AND claim_number = $2`, orgID, claimNumber))
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	tag, err := db.Conn(ctx, r.q).Exec(ctx, `
		UPDATE claims SET status=$2, status_code=$3, status_description=$4,
			payer_claim_control_number=$5, payment_amount=$6, check_number=$7, last_status_check=$8,
			submission_method=$9, submission_date=$10, submission_filename=$11, paid_date=$12,
			updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.StatusCode, c.StatusDescription,
		c.PayerClaimControlNumber, c.PaymentAmount, c.CheckNumber, c.LastStatusCheck,
		c.SubmissionMethod, c.SubmissionDate, c.SubmissionFilename, c.PaidDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *claimRepoPG) ListByStatus(ctx context.Context, orgID uuid.UUID, status ClaimStatus, page pagination.Params) ([]*Claim, error) {
	rows, err := db.Conn(ctx, r.q).Query(ctx, `SELECT `+claimCols+` FROM claims
		WHERE organization_id = $1 AND status = $2
		ORDER BY service_date, claim_number LIMIT $3 OFFSET $4`, orgID, status, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// =========== Eligibility Repository ===========

type eligibilityRepoPG struct{ q db.Querier }

func NewEligibilityRepoPG(q db.Querier) EligibilityRepository { return &eligibilityRepoPG{q: q} }

func (r *eligibilityRepoPG) Create(ctx context.Context, e *EligibilityCheck) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.q).Exec(ctx, `
		INSERT INTO eligibility_checks (id, organization_id, patient_id, timesheet_id, trace_number,
			success, eligible, response, error, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.OrganizationID, e.PatientID, e.TimesheetID, e.TraceNumber,
		e.Success, e.Eligible, e.Response, e.Error, e.CheckedAt)
	return err
}

func (r *eligibilityRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*EligibilityCheck, error) {
	rows, err := db.Conn(ctx, r.q).Query(ctx, `
		SELECT id, organization_id, patient_id, timesheet_id, trace_number,
			success, eligible, response, error, checked_at
		FROM eligibility_checks WHERE patient_id = $1
		ORDER BY checked_at DESC LIMIT $2 OFFSET $3`, patientID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*EligibilityCheck
	for rows.Next() {
		var e EligibilityCheck
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.PatientID, &e.TimesheetID, &e.TraceNumber,
			&e.Success, &e.Eligible, &e.Response, &e.Error, &e.CheckedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

// =========== Remittance Repository ===========

type remittanceRepoPG struct{ q db.Querier }

func NewRemittanceRepoPG(q db.Querier) RemittanceRepository { return &remittanceRepoPG{q: q} }

func (r *remittanceRepoPG) Create(ctx context.Context, rec *RemittanceRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.q).Exec(ctx, `
		INSERT INTO remittances (id, organization_id, claim_id, filename, claim_number,
			payer_claim_control_number, claim_status_code, charge_amount, payment_amount,
			patient_responsibility, check_number, payment_date, payer_name, detail, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.OrganizationID, rec.ClaimID, rec.Filename, rec.ClaimNumber,
		rec.PayerClaimControlNumber, rec.ClaimStatusCode, rec.ChargeAmount, rec.PaymentAmount,
		rec.PatientResponsibility, rec.CheckNumber, rec.PaymentDate, rec.PayerName, rec.Detail, rec.ProcessedAt)
	return err
}

func (r *remittanceRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*RemittanceRecord, error) {
	rows, err := db.Conn(ctx, r.q).Query(ctx, `
		SELECT id, organization_id, claim_id, filename, claim_number,
			payer_claim_control_number, claim_status_code, charge_amount, payment_amount,
			patient_responsibility, check_number, payment_date, payer_name, detail, processed_at
		FROM remittances WHERE claim_id = $1 ORDER BY processed_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RemittanceRecord
	for rows.Next() {
		var rec RemittanceRecord
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.ClaimID, &rec.Filename, &rec.ClaimNumber,
			&rec.PayerClaimControlNumber, &rec.ClaimStatusCode, &rec.ChargeAmount, &rec.PaymentAmount,
			&rec.PatientResponsibility, &rec.CheckNumber, &rec.PaymentDate, &rec.PayerName, &rec.Detail,
			&rec.ProcessedAt); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}

// =========== Organization Repository ===========

// SecretOpener decrypts credential columns sealed at rest.
type SecretOpener interface {
	Open(value string) (string, error)
}

type organizationRepoPG struct {
	q       db.Querier
	secrets SecretOpener
}

// NewOrganizationRepoPG reads organization configuration. Credential
// columns are passed through secrets when it is non-nil.
func NewOrganizationRepoPG(q db.Querier, secrets SecretOpener) OrganizationRepository {
	return &organizationRepoPG{q: q, secrets: secrets}
}

func (r *organizationRepoPG) GetConfig(ctx context.Context, id uuid.UUID) (*OrgConfig, error) {
	var o OrgConfig
	err := db.Conn(ctx, r.q).QueryRow(ctx, `
		SELECT id, name, npi, tax_id, taxonomy, sender_id, contact_name, contact_phone,
			address_line1, address_line2, city, state, zip,
			realtime_username, realtime_password, batch_username, batch_password, trading_partner_id,
			availity_api_key, availity_secret
		FROM organizations WHERE id = $1`, id).
		Scan(&o.OrganizationID, &o.Name, &o.NPI, &o.TaxID, &o.Taxonomy, &o.SenderID, &o.ContactName, &o.ContactPhone,
			&o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.State, &o.Address.Zip,
			&o.RealTimeUsername, &o.RealTimePassword, &o.BatchUsername, &o.BatchPassword, &o.TradingPartnerID,
			&o.AvailityAPIKey, &o.AvailitySecret)
	if err != nil {
		return nil, notFound(err)
	}
	if r.secrets == nil {
		return &o, nil
	}
	for name, field := range map[string]*string{
		"realtime_password": &o.RealTimePassword,
		"batch_password":    &o.BatchPassword,
		"availity_api_key":  &o.AvailityAPIKey,
		"availity_secret":   &o.AvailitySecret,
	} {
		plain, err := r.secrets.Open(*field)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		*field = plain
	}
	return &o, nil
}
