package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/homecare/claims/internal/domain/claims"
	"github.com/homecare/claims/pkg/pagination"
)

// service is the part of claims.Service the CLI drives.
type service interface {
	VerifyPatientEligibility(ctx context.Context, timesheetID uuid.UUID) claims.EligibilityResult
	EligibilityHistory(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*claims.EligibilityCheck, error)
	CreateClaimFromTimesheet(ctx context.Context, timesheetID uuid.UUID) (*claims.Claim, error)
	MarkReady(ctx context.Context, claimID uuid.UUID) (*claims.Claim, error)
	ListClaims(ctx context.Context, status claims.ClaimStatus, page pagination.Params) ([]*claims.Claim, error)
	ClaimRemittances(ctx context.Context, claimID uuid.UUID) ([]*claims.RemittanceRecord, error)
	Generate837File(ctx context.Context, claimIDs []uuid.UUID, claimType claims.ClaimType) (*claims.GeneratedFile, error)
	SubmitClaimsOMES(ctx context.Context, claimIDs []uuid.UUID) claims.SubmissionResult
	SubmitClaimsAvaility(ctx context.Context, claimIDs []uuid.UUID) claims.SubmissionResult
	CheckClaimStatus(ctx context.Context, claimID uuid.UUID) claims.StatusResult
	ProcessRemittance(ctx context.Context, filename string, content []byte) claims.RemittanceResult
	PollRemittances(ctx context.Context, deleteAfter bool) claims.PollResult
	TestBatchConnection(ctx context.Context) error
}

// opener builds the service for one organization. The returned func
// releases whatever the service holds.
type opener func(ctx context.Context, orgID uuid.UUID) (service, func(), error)

// errFailed is returned after a failed result has been printed.
var errFailed = errors.New("operation failed")

type cli struct {
	out    io.Writer
	logger zerolog.Logger
	open   opener
	orgID  string
}

func main() {
	logger := newLogger(os.Getenv("ENV"), os.Stderr)
	c := &cli{out: os.Stdout, logger: logger}
	c.open = func(ctx context.Context, orgID uuid.UUID) (service, func(), error) {
		return openService(ctx, orgID, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "claims-edi",
		Short:        "Medicaid X12 eligibility, claims and remittance",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.orgID, "org", os.Getenv("CLAIMS_ORG_ID"), "Organization id")

	root.AddCommand(migrateCmd(c))
	root.AddCommand(healthCmd(c))
	root.AddCommand(secretCmd(c))
	root.AddCommand(c.eligibilityCmd())
	root.AddCommand(c.claimCmd())
	root.AddCommand(c.remittanceCmd())
	root.AddCommand(c.sftpCmd())
	return root
}

// withService opens the organization's service, runs fn and releases it.
func (c *cli) withService(cmd *cobra.Command, fn func(ctx context.Context, svc service) error) error {
	if c.orgID == "" {
		return fmt.Errorf("--org is required")
	}
	orgID, err := uuid.Parse(c.orgID)
	if err != nil {
		return fmt.Errorf("invalid --org: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, release, err := c.open(ctx, orgID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, svc)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints v and turns an unsuccessful result into errFailed.
func (c *cli) printResult(v any, success bool) error {
	if err := c.print(v); err != nil {
		return err
	}
	if !success {
		return errFailed
	}
	return nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", a, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(arg string) (uuid.UUID, error) {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

func (c *cli) eligibilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligibility <timesheet-id>",
		Short: "Verify the patient's Medicaid eligibility for a timesheet (270/271)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				res := svc.VerifyPatientEligibility(ctx, id)
				return c.printResult(res, res.Success)
			})
		},
	}

	var histPage pagination.Params
	history := &cobra.Command{
		Use:   "history <patient-id>",
		Short: "List recent eligibility checks for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				page := histPage.Normalize(pagination.DefaultLimit)
				checks, err := svc.EligibilityHistory(ctx, id, page)
				if err != nil {
					return err
				}
				return c.print(pagination.NewPage(checks, page))
			})
		},
	}
	history.Flags().IntVar(&histPage.Limit, "limit", pagination.DefaultLimit, "Maximum number of checks")
	history.Flags().IntVar(&histPage.Offset, "offset", 0, "Checks to skip")
	cmd.AddCommand(history)
	return cmd
}

func (c *cli) claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Create, submit and track claims",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <timesheet-id>",
		Short: "Create a draft claim from a timesheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				claim, err := svc.CreateClaimFromTimesheet(ctx, id)
				if err != nil {
					return err
				}
				return c.print(claim)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ready <claim-id>",
		Short: "Mark a draft claim ready for submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				claim, err := svc.MarkReady(ctx, id)
				if err != nil {
					return err
				}
				return c.print(claim)
			})
		},
	})

	var status string
	var listPage pagination.Params
	list := &cobra.Command{
		Use:   "list",
		Short: "List claims in one status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				page := listPage.Normalize(100)
				items, err := svc.ListClaims(ctx, claims.ClaimStatus(status), page)
				if err != nil {
					return err
				}
				return c.print(pagination.NewPage(items, page))
			})
		},
	}
	list.Flags().StringVar(&status, "status", string(claims.StatusReady), "Claim status")
	list.Flags().IntVar(&listPage.Limit, "limit", 100, "Maximum number of claims")
	list.Flags().IntVar(&listPage.Offset, "offset", 0, "Claims to skip")
	cmd.AddCommand(list)

	var claimType, out string
	generate := &cobra.Command{
		Use:   "generate <claim-id>...",
		Short: "Encode claims into one 837 interchange",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			ct, err := claims.ParseClaimType(claimType)
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				file, err := svc.Generate837File(ctx, ids, ct)
				if err != nil {
					return err
				}
				if out == "" {
					_, err := c.out.Write(file.Content)
					return err
				}
				if err := os.WriteFile(out, file.Content, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				return c.print(struct {
					File string `json:"file"`
					*claims.GeneratedFile
				}{out, file})
			})
		},
	}
	generate.Flags().StringVar(&claimType, "type", string(claims.ClaimType837P), "Claim type (837P, 837I, 837D)")
	generate.Flags().StringVar(&out, "out", "", "Write the interchange to this file instead of stdout")
	cmd.AddCommand(generate)

	var via string
	submit := &cobra.Command{
		Use:   "submit <claim-id>...",
		Short: "Submit claims to the payer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			method, err := claims.ParseSubmissionMethod(via)
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				var res claims.SubmissionResult
				switch method {
				case claims.MethodAvaility:
					res = svc.SubmitClaimsAvaility(ctx, ids)
				default:
					res = svc.SubmitClaimsOMES(ctx, ids)
				}
				return c.printResult(res, res.Success)
			})
		},
	}
	submit.Flags().StringVar(&via, "via", string(claims.MethodOMES), "Submission route (omes, availity)")
	cmd.AddCommand(submit)

	cmd.AddCommand(&cobra.Command{
		Use:   "status <claim-id>",
		Short: "Query the payer for a claim's status (276/277)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				res := svc.CheckClaimStatus(ctx, id)
				return c.printResult(res, res.Success)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remittances <claim-id>",
		Short: "List remittance records applied to a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				records, err := svc.ClaimRemittances(ctx, id)
				if err != nil {
					return err
				}
				return c.print(records)
			})
		},
	})
	return cmd
}

func (c *cli) remittanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remittance",
		Short: "Apply 835 remittance advice",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "process <file>",
		Short: "Apply a local 835 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				res := svc.ProcessRemittance(ctx, filepath.Base(args[0]), content)
				return c.printResult(res, res.Success)
			})
		},
	})

	var deleteAfter bool
	poll := &cobra.Command{
		Use:   "poll",
		Short: "Download and apply 835 files from the payer's outbound directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				res := svc.PollRemittances(ctx, deleteAfter)
				return c.printResult(res, res.Success)
			})
		},
	}
	poll.Flags().BoolVar(&deleteAfter, "delete", false, "Delete files from the server once applied")
	cmd.AddCommand(poll)
	return cmd
}

func (c *cli) sftpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sftp",
		Short: "Batch transport utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Check the SFTP login and exchange directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, func(ctx context.Context, svc service) error {
				err := svc.TestBatchConnection(ctx)
				res := struct {
					Success bool   `json:"success"`
					Error   string `json:"error,omitempty"`
				}{Success: err == nil}
				if err != nil {
					res.Error = err.Error()
				}
				return c.printResult(res, res.Success)
			})
		},
	})
	return cmd
}

func formatVersion(v int) string {
	if v == 0 {
		return "latest"
	}
	return strconv.Itoa(v)
}
