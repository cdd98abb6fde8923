package claims

import (
	"context"

	"github.com/google/uuid"

	"github.com/homecare/claims/pkg/pagination"
)

type TimesheetRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Timesheet, error)
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type EmployeeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Employee, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByClaimNumber(ctx context.Context, orgID uuid.UUID, claimNumber string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	ListByStatus(ctx context.Context, orgID uuid.UUID, status ClaimStatus, page pagination.Params) ([]*Claim, error)
}

type EligibilityRepository interface {
	Create(ctx context.Context, e *EligibilityCheck) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*EligibilityCheck, error)
}

type RemittanceRepository interface {
	Create(ctx context.Context, r *RemittanceRecord) error
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*RemittanceRecord, error)
}

type OrganizationRepository interface {
	GetConfig(ctx context.Context, id uuid.UUID) (*OrgConfig, error)
}

// Repositories groups the stores the orchestrator reads and writes.
type Repositories struct {
	Timesheets  TimesheetRepository
	Patients    PatientRepository
	Employees   EmployeeRepository
	Claims      ClaimRepository
	Eligibility EligibilityRepository
	Remittances RemittanceRepository
}
