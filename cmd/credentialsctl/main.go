// Command credentialsctl runs maintenance operations against the credentials
// service stores: migrations, badge seeding, Credly sync and status-list
// regeneration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"credentials/internal/app"
	"credentials/internal/platform/config"
	"credentials/internal/platform/logger"
	"credentials/internal/seeder"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "credentialsctl",
		Short:         "Operate the credentials service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newRegenerateCmd(),
		newRegisterOrgCmd(),
		newSyncCmd(),
	)
	return root
}

// withApp assembles the service from the environment, runs fn and releases
// every connection.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			log.Error("failed to release resources", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Getenv("DATABASE_URL") == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			// Assembly migrates before wiring the stores.
			return withApp(cmd, func(context.Context, *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-badges",
		Short: "Create badge templates from a TOML seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := seeder.Load(file)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Seeder.Seed(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d templates, skipped %d\n", res.Created, res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRegenerateCmd() *cobra.Command {
	var issuerID string
	cmd := &cobra.Command{
		Use:   "regenerate-status-list",
		Short: "Rebuild, sign and publish an issuer's status list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				id := issuerID
				if id == "" {
					id = a.Issuance.DefaultIssuerID()
				}
				if err := a.StatusLists.Regenerate(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", a.Issuance.StatusListURL(id))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issuerID, "issuer", "", "issuer DID (defaults to the configured issuer)")
	return cmd
}

func newRegisterOrgCmd() *cobra.Command {
	var (
		orgID  string
		apiKey string
	)
	cmd := &cobra.Command{
		Use:   "register-credly-org",
		Short: "Register a Credly organization and store its API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid organization id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				org, err := a.Credly.RegisterOrganization(ctx, id, apiKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", org.Name, org.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Credly organization id")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("CREDLY_API_KEY"), "Credly API key")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "sync-credly",
		Short: "Pull badge templates of a registered Credly organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid organization id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Credly.SyncTemplates(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d templates\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Credly organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
