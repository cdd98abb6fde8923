package x12

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gender codes accepted in DMG03.
const (
	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = "U"
)

// DefaultServiceTypeCode is EQ01 "Health Benefit Plan Coverage".
const DefaultServiceTypeCode = "30"

// EligibilityRequest is the input of a 270 inquiry.
type EligibilityRequest struct {
	MemberID        string
	FirstName       string
	LastName        string
	DateOfBirth     time.Time
	Gender          string
	ProviderNPI     string
	ProviderName    string
	ServiceTypeCode string
	ServiceDate     time.Time
	TraceNumber     string
}

// EligibilityResponse is the projection of a 271 the product consumes.
type EligibilityResponse struct {
	Active          bool             `json:"active"`
	MemberID        string           `json:"member_id,omitempty"`
	FirstName       string           `json:"first_name,omitempty"`
	LastName        string           `json:"last_name,omitempty"`
	DateOfBirth     *time.Time       `json:"date_of_birth,omitempty"`
	Gender          string           `json:"gender,omitempty"`
	CoverageStart   *time.Time       `json:"coverage_start,omitempty"`
	CoverageEnd     *time.Time       `json:"coverage_end,omitempty"`
	PlanName        *string          `json:"plan_name,omitempty"`
	PayerName       *string          `json:"payer_name,omitempty"`
	Copay           *decimal.Decimal `json:"copay,omitempty"`
	Deductible      *decimal.Decimal `json:"deductible,omitempty"`
	RejectionCode   *string          `json:"rejection_code,omitempty"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
}

// ClaimStatusRequest is the input of a 276 inquiry.
type ClaimStatusRequest struct {
	ClaimID                 string
	PayerClaimControlNumber string
	MemberID                string
	FirstName               string
	LastName                string
	DateOfBirth             time.Time
	Gender                  string
	ProviderNPI             string
	ProviderName            string
	ServiceDate             *time.Time
	ServiceDateEnd          *time.Time
	TotalCharge             decimal.Decimal
	PatientTrace            string
	ClaimTrace              string
}

// ClaimStatusCode is the domain status reported by a 277.
type ClaimStatusCode string

const (
	ClaimStatusReceived ClaimStatusCode = "received"
	ClaimStatusPending  ClaimStatusCode = "pending"
	ClaimStatusRejected ClaimStatusCode = "rejected"
	ClaimStatusPaid     ClaimStatusCode = "paid"
	ClaimStatusDenied   ClaimStatusCode = "denied"
	ClaimStatusPartial  ClaimStatusCode = "partial"
)

var claimStatusCodes = map[string]ClaimStatusCode{
	"1":  ClaimStatusReceived,
	"2":  ClaimStatusPending,
	"3":  ClaimStatusRejected,
	"4":  ClaimStatusPaid,
	"20": ClaimStatusDenied,
	"22": ClaimStatusPartial,
}

// MapClaimStatusCode maps an X12 status code to a domain status. Unknown
// codes map to ClaimStatusReceived.
func MapClaimStatusCode(code string) ClaimStatusCode {
	if s, ok := claimStatusCodes[code]; ok {
		return s
	}
	return ClaimStatusReceived
}

// ClaimStatusResponse is the projection of a 277 the product consumes.
type ClaimStatusResponse struct {
	StatusCode              ClaimStatusCode  `json:"status_code"`
	RawStatusCode           string           `json:"raw_status_code"`
	Category                string           `json:"category,omitempty"`
	Description             string           `json:"description"`
	PayerClaimControlNumber *string          `json:"payer_claim_control_number,omitempty"`
	ChargeAmount            *decimal.Decimal `json:"charge_amount,omitempty"`
	PaymentAmount           *decimal.Decimal `json:"payment_amount,omitempty"`
	PatientResponsibility   *decimal.Decimal `json:"patient_responsibility,omitempty"`
	CheckNumber             *string          `json:"check_number,omitempty"`
	AdjudicationDate        *time.Time       `json:"adjudication_date,omitempty"`
}

// Adjustment is one CAS group/reason/amount triple.
type Adjustment struct {
	GroupCode  string          `json:"group_code"`
	ReasonCode string          `json:"reason_code"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   string          `json:"quantity,omitempty"`
}

// ServiceLine is one SVC loop of an 835 claim.
type ServiceLine struct {
	ProcedureCode string          `json:"procedure_code"`
	Modifiers     []string        `json:"modifiers,omitempty"`
	ChargeAmount  decimal.Decimal `json:"charge_amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Units         string          `json:"units,omitempty"`
	ServiceDate   *time.Time      `json:"service_date,omitempty"`
	Adjustments   []Adjustment    `json:"adjustments,omitempty"`
}

// RemittanceAdvice is one adjudicated claim (CLP loop) of an 835.
type RemittanceAdvice struct {
	ClaimNumber             string          `json:"claim_number"`
	ClaimStatusCode         string          `json:"claim_status_code"`
	PayerClaimControlNumber string          `json:"payer_claim_control_number,omitempty"`
	ChargeAmount            decimal.Decimal `json:"charge_amount"`
	PaymentAmount           decimal.Decimal `json:"payment_amount"`
	PatientResponsibility   decimal.Decimal `json:"patient_responsibility"`
	Adjustments             []Adjustment    `json:"adjustments,omitempty"`
	ServiceLines            []ServiceLine   `json:"service_lines,omitempty"`
	PaymentDate             *time.Time      `json:"payment_date,omitempty"`
	CheckNumber             string          `json:"check_number,omitempty"`
	PayerName               string          `json:"payer_name,omitempty"`
}

// Address is an N3/N4 pair.
type Address struct {
	Line1 string
	Line2 string
	City  string
	State string
	Zip   string
}

// IsZero reports whether no address line or city was supplied.
func (a Address) IsZero() bool {
	return a.Line1 == "" && a.City == ""
}

// ClaimPatient is the subscriber portion of a claim record.
type ClaimPatient struct {
	MemberID    string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      string
	Address     Address
}

// RenderingProvider is the caregiver who delivered the service.
type RenderingProvider struct {
	FirstName string
	LastName  string
	NPI       string
}

// ClaimRecord is a claim joined with its timesheet, patient and employee.
type ClaimRecord struct {
	ClaimNumber    string
	ServiceDate    time.Time
	TotalCharge    decimal.Decimal
	Units          decimal.Decimal
	ProcedureCode  string
	Modifiers      []string
	DiagnosisCode  string
	PlaceOfService string
	Patient        ClaimPatient
	Rendering      RenderingProvider
}

// ClaimBatch is the input of an 837P encode.
type ClaimBatch struct {
	// ReferenceID becomes BHT03. It defaults to the first claim number.
	ReferenceID  string
	SenderID     string
	ReceiverID   string
	ReceiverName string
	ProviderName string
	NPI          string
	TaxID        string
	Taxonomy     string
	ContactName  string
	ContactPhone string
	Address      Address
	PayerName    string
	PayerID      string
	Claims       []ClaimRecord
}
