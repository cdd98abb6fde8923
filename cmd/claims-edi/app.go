package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/homecare/claims/internal/config"
	"github.com/homecare/claims/internal/domain/claims"
	"github.com/homecare/claims/internal/platform/core"
	"github.com/homecare/claims/internal/platform/db"
	"github.com/homecare/claims/internal/platform/hipaa"
	"github.com/homecare/claims/internal/platform/sftp"
	"github.com/homecare/claims/migrations"
)

// database is what the repositories and the transaction helper need.
type database interface {
	db.Querier
	db.Beginner
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openService(ctx context.Context, orgID uuid.UUID, logger zerolog.Logger) (service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	vault, err := hipaa.NewVault(cfg.HIPAAEncryptionKey, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	org, err := claims.NewOrganizationRepoPG(pool, vault).GetConfig(ctx, orgID)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load organization %s: %w", orgID, err)
	}
	svc, err := buildService(cfg, *org, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

func payerConfig(cfg *config.Config) claims.PayerConfig {
	return claims.PayerConfig{
		ReceiverID:     cfg.X12ReceiverID,
		PayerName:      cfg.X12PayerName,
		PayerID:        cfg.X12PayerID,
		UsageIndicator: cfg.X12UsageIndicator,
	}
}

// buildService wires the organization's transports and the pg repositories.
// Transports whose endpoint is not configured are left out and the
// operations needing them report so.
func buildService(cfg *config.Config, org claims.OrgConfig, conn database, logger zerolog.Logger) (*claims.Service, error) {
	repos := claims.Repositories{
		Timesheets:  claims.NewTimesheetRepoPG(conn),
		Patients:    claims.NewPatientRepoPG(conn),
		Employees:   claims.NewEmployeeRepoPG(conn),
		Claims:      claims.NewClaimRepoPG(conn),
		Eligibility: claims.NewEligibilityRepoPG(conn),
		Remittances: claims.NewRemittanceRepoPG(conn),
	}
	opts := []claims.Option{
		claims.WithLogger(logger),
		claims.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, conn, fn)
		}),
		claims.WithClearinghouse(claims.NewAvailityStub(org, cfg.AvailityEndpoint, logger)),
	}

	if cfg.COREEndpoint != "" {
		rt, err := core.New(core.Config{
			Endpoint:    cfg.COREEndpoint,
			Username:    org.RealTimeUsername,
			Password:    org.RealTimePassword,
			SenderID:    org.SenderID,
			ReceiverID:  cfg.X12ReceiverID,
			RuleVersion: cfg.CORERuleVersion,
			Timeout:     cfg.CORETimeout,
			MaxAttempts: cfg.COREMaxAttempts,
		}, core.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		opts = append(opts, claims.WithRealTime(rt))
	}

	if cfg.SFTPHost != "" {
		batch := sftp.New(sftp.Config{
			Host:             cfg.SFTPHost,
			Port:             cfg.SFTPPort,
			Username:         org.BatchUsername,
			Password:         org.BatchPassword,
			TradingPartnerID: org.TradingPartnerID,
			Environment:      cfg.SFTPEnvironment,
			KnownHostsFile:   cfg.SFTPKnownHosts,
			Timeout:          cfg.SFTPTimeout,
		}, sftp.WithLogger(logger))
		opts = append(opts, claims.WithBatch(batch))
	}

	return claims.NewService(org, payerConfig(cfg), repos, opts...), nil
}

func migrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
		if err != nil {
			return err
		}
		defer pool.Close()
		m, err := db.NewMigrator(pool, migrations.FS, cfg.DBSchema)
		if err != nil {
			return err
		}
		return fn(ctx, m)
	}

	// migrate up
	var to int
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				var count int
				var err error
				if to > 0 {
					count, err = m.UpTo(ctx, to)
				} else {
					count, err = m.Up(ctx)
				}
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				c.logger.Info().Int("applied", count).Str("target", formatVersion(to)).Msg("migrations applied")
				return c.print(map[string]int{"applied": count})
			})
		},
	}
	upCmd.Flags().IntVar(&to, "to", 0, "Apply migrations up to this version")
	cmd.AddCommand(upCmd)

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				return c.print(statuses)
			})
		},
	})
	return cmd
}

func healthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
			if err != nil {
				return c.printResult(db.Health{Status: "unhealthy", Error: err.Error()}, false)
			}
			defer pool.Close()
			h := db.Check(cmd.Context(), pool)
			return c.printResult(h, h.Healthy())
		},
	}
}

func secretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials stored at rest",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seal <value>",
		Short: "Encrypt a credential for an organizations column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sealed, err := sealSecret(cfg.HIPAAEncryptionKey, args[0], c.logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, sealed)
			return err
		},
	})
	return cmd
}

func sealSecret(hexKey, value string, logger zerolog.Logger) (string, error) {
	vault, err := hipaa.NewVault(hexKey, logger)
	if err != nil {
		return "", err
	}
	if !vault.Enabled() {
		return "", fmt.Errorf("HIPAA_ENCRYPTION_KEY is required to seal credentials")
	}
	return vault.Seal(value)
}
