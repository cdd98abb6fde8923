package claims

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homecare/claims/internal/platform/x12"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	StatusDraft     ClaimStatus = "draft"
	StatusReady     ClaimStatus = "ready"
	StatusSubmitted ClaimStatus = "submitted"
	StatusPaid      ClaimStatus = "paid"
	StatusDenied    ClaimStatus = "denied"
)

var transitions = map[ClaimStatus][]ClaimStatus{
	StatusDraft:     {StatusReady, StatusSubmitted},
	StatusReady:     {StatusSubmitted},
	StatusSubmitted: {StatusPaid, StatusDenied},
}

// CanTransition reports whether a claim may move from one status to another.
func CanTransition(from, to ClaimStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Adjudicated reports whether the payer has settled the claim.
func (s ClaimStatus) Adjudicated() bool {
	return s == StatusPaid || s == StatusDenied
}

// ClaimType is the 837 variant a batch is encoded as.
type ClaimType string

const (
	ClaimType837P ClaimType = "837P"
	ClaimType837I ClaimType = "837I"
	ClaimType837D ClaimType = "837D"
)

// ParseClaimType accepts 837P, 837I and 837D in any case.
func ParseClaimType(s string) (ClaimType, error) {
	switch t := ClaimType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ClaimType837P, ClaimType837I, ClaimType837D:
		return t, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("unknown claim type %q", s)}
}

// SubmissionMethod records how a claim reached the payer.
type SubmissionMethod string

const (
	MethodOMES     SubmissionMethod = "omes"
	MethodAvaility SubmissionMethod = "availity"
)

// ParseSubmissionMethod accepts omes and availity in any case.
func ParseSubmissionMethod(s string) (SubmissionMethod, error) {
	switch m := SubmissionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodOMES, MethodAvaility:
		return m, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("unknown submission method %q", s)}
}

// DefaultProcedureCode is personal care services per 15 minutes.
const DefaultProcedureCode = "T1019"

// unitsPerHour converts timesheet hours to 15-minute billing units.
var unitsPerHour = decimal.NewFromInt(4)

// OrgConfig is an organization's provider identity and payer credentials.
type OrgConfig struct {
	OrganizationID   uuid.UUID   `json:"organization_id"`
	Name             string      `json:"name"`
	NPI              string      `json:"npi"`
	TaxID            string      `json:"tax_id"`
	Taxonomy         string      `json:"taxonomy,omitempty"`
	SenderID         string      `json:"sender_id"`
	ContactName      string      `json:"contact_name,omitempty"`
	ContactPhone     string      `json:"contact_phone,omitempty"`
	Address          x12.Address `json:"address"`
	RealTimeUsername string      `json:"-"`
	RealTimePassword string      `json:"-"`
	BatchUsername    string      `json:"-"`
	BatchPassword    string      `json:"-"`
	TradingPartnerID string      `json:"trading_partner_id"`
	AvailityAPIKey   string      `json:"-"`
	AvailitySecret   string      `json:"-"`
}

// PayerConfig identifies the payer side of every interchange.
type PayerConfig struct {
	ReceiverID     string
	PayerName      string
	PayerID        string
	UsageIndicator string
}

// Patient is a Medicaid member receiving care.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	MedicaidID     string    `db:"medicaid_id" json:"medicaid_id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	DateOfBirth    time.Time `db:"date_of_birth" json:"date_of_birth"`
	Gender         string    `db:"gender" json:"gender"`
	AddressLine1   string    `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2   string    `db:"address_line2" json:"address_line2,omitempty"`
	City           string    `db:"city" json:"city,omitempty"`
	State          string    `db:"state" json:"state,omitempty"`
	Zip            string    `db:"zip" json:"zip,omitempty"`
	DiagnosisCode  string    `db:"diagnosis_code" json:"diagnosis_code,omitempty"`
}

// Address returns the patient's N3/N4 address.
func (p *Patient) Address() x12.Address {
	return x12.Address{Line1: p.AddressLine1, Line2: p.AddressLine2, City: p.City, State: p.State, Zip: p.Zip}
}

// Employee is the caregiver who delivered the service.
type Employee struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OrganizationID uuid.UUID       `db:"organization_id" json:"organization_id"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	NPI            string          `db:"npi" json:"npi,omitempty"`
	HourlyRate     decimal.Decimal `db:"hourly_rate" json:"hourly_rate"`
}

// Timesheet is one visit worked by an employee for a patient.
type Timesheet struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OrganizationID uuid.UUID       `db:"organization_id" json:"organization_id"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	EmployeeID     uuid.UUID       `db:"employee_id" json:"employee_id"`
	ServiceDate    time.Time       `db:"service_date" json:"service_date"`
	Hours          decimal.Decimal `db:"hours" json:"hours"`
	ProcedureCode  string          `db:"procedure_code" json:"procedure_code,omitempty"`
	Modifiers      []string        `db:"modifiers" json:"modifiers,omitempty"`
	PlaceOfService string          `db:"place_of_service" json:"place_of_service,omitempty"`
}

// Claim is a billable service and its progress through the payer. Status is
// the lifecycle state. StatusCode and StatusDescription hold the last
// real-time status answer and never move Status.
type Claim struct {
	ID                      uuid.UUID         `db:"id" json:"id"`
	OrganizationID          uuid.UUID         `db:"organization_id" json:"organization_id"`
	TimesheetID             uuid.UUID         `db:"timesheet_id" json:"timesheet_id"`
	PatientID               uuid.UUID         `db:"patient_id" json:"patient_id"`
	EmployeeID              uuid.UUID         `db:"employee_id" json:"employee_id"`
	ClaimNumber             string            `db:"claim_number" json:"claim_number"`
	ServiceDate             time.Time         `db:"service_date" json:"service_date"`
	ProcedureCode           string            `db:"procedure_code" json:"procedure_code"`
	Modifiers               []string          `db:"modifiers" json:"modifiers,omitempty"`
	PlaceOfService          string            `db:"place_of_service" json:"place_of_service,omitempty"`
	Units                   decimal.Decimal   `db:"units" json:"units"`
	TotalCharge             decimal.Decimal   `db:"total_charge" json:"total_charge"`
	Status                  ClaimStatus       `db:"status" json:"status"`
	StatusCode              *string           `db:"status_code" json:"status_code,omitempty"`
	StatusDescription       *string           `db:"status_description" json:"status_description,omitempty"`
	PayerClaimControlNumber *string           `db:"payer_claim_control_number" json:"payer_claim_control_number,omitempty"`
	PaymentAmount           *decimal.Decimal  `db:"payment_amount" json:"payment_amount,omitempty"`
	CheckNumber             *string           `db:"check_number" json:"check_number,omitempty"`
	LastStatusCheck         *time.Time        `db:"last_status_check" json:"last_status_check,omitempty"`
	SubmissionMethod        *SubmissionMethod `db:"submission_method" json:"submission_method,omitempty"`
	SubmissionDate          *time.Time        `db:"submission_date" json:"submission_date,omitempty"`
	SubmissionFilename      *string           `db:"submission_filename" json:"submission_filename,omitempty"`
	PaidDate                *time.Time        `db:"paid_date" json:"paid_date,omitempty"`
	CreatedAt               time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time         `db:"updated_at" json:"updated_at"`
}

// NewClaimNumber derives the CLM01 patient control number from the claim id
// and service date.
func NewClaimNumber(id uuid.UUID, serviceDate time.Time) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return "CLM" + serviceDate.Format("20060102") + strings.ToUpper(hex[:8])
}

// EligibilityCheck is the audit row of one eligibility inquiry.
type EligibilityCheck struct {
	ID             uuid.UUID                `db:"id" json:"id"`
	OrganizationID uuid.UUID                `db:"organization_id" json:"organization_id"`
	PatientID      uuid.UUID                `db:"patient_id" json:"patient_id"`
	TimesheetID    uuid.UUID                `db:"timesheet_id" json:"timesheet_id"`
	TraceNumber    string                   `db:"trace_number" json:"trace_number"`
	Success        bool                     `db:"success" json:"success"`
	Eligible       bool                     `db:"eligible" json:"eligible"`
	Response       *x12.EligibilityResponse `db:"response" json:"response,omitempty"`
	Error          *string                  `db:"error" json:"error,omitempty"`
	CheckedAt      time.Time                `db:"checked_at" json:"checked_at"`
}

// RemittanceRecord is the audit row of one 835 claim payment.
type RemittanceRecord struct {
	ID                      uuid.UUID            `db:"id" json:"id"`
	OrganizationID          uuid.UUID            `db:"organization_id" json:"organization_id"`
	ClaimID                 uuid.UUID            `db:"claim_id" json:"claim_id"`
	Filename                string               `db:"filename" json:"filename"`
	ClaimNumber             string               `db:"claim_number" json:"claim_number"`
	PayerClaimControlNumber string               `db:"payer_claim_control_number" json:"payer_claim_control_number,omitempty"`
	ClaimStatusCode         string               `db:"claim_status_code" json:"claim_status_code"`
	ChargeAmount            decimal.Decimal      `db:"charge_amount" json:"charge_amount"`
	PaymentAmount           decimal.Decimal      `db:"payment_amount" json:"payment_amount"`
	PatientResponsibility   decimal.Decimal      `db:"patient_responsibility" json:"patient_responsibility"`
	CheckNumber             string               `db:"check_number" json:"check_number,omitempty"`
	PaymentDate             *time.Time           `db:"payment_date" json:"payment_date,omitempty"`
	PayerName               string               `db:"payer_name" json:"payer_name,omitempty"`
	Detail                  x12.RemittanceAdvice `db:"detail" json:"detail"`
	ProcessedAt             time.Time            `db:"processed_at" json:"processed_at"`
}
