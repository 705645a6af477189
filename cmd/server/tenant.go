package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/fiesta/internal"
	"github.com/DukeRupert/fiesta/internal/auth"
	"github.com/DukeRupert/fiesta/internal/catalog"
	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/postgres"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant subscriptions and tokens",
	}
	cmd.AddCommand(newTenantCreateCmd(), newTenantTokenCmd())
	return cmd
}

func newTenantCreateCmd() *cobra.Command {
	var (
		tier    string
		credits int64
		rate    int
		models  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subscription for a new tenant and print its token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return fmt.Errorf("config initialization failed: %w", err)
			}
			if cfg.Store != internal.StorePostgres {
				return fmt.Errorf("tenant create requires STORE=postgres, got %s", cfg.Store)
			}

			cat, err := catalog.Open(cfg.CatalogPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			t, ok := cat.Tier(tier)
			if !ok {
				return fmt.Errorf("unknown tier %q", tier)
			}
			if credits <= 0 {
				credits = t.CreditsPerMonth
			}
			if rate <= 0 {
				rate = t.RateLimitPerMinute
			}

			db, err := postgres.Open(cmd.Context(), cfg.DatabaseUrl)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			tenantID := uuid.New()
			err = postgres.NewSubscriptionStore(db).Put(cmd.Context(), domain.Subscription{
				TenantID:           tenantID,
				Tier:               t.ID,
				Status:             domain.SubscriptionStatusActive,
				AllowedModels:      models,
				Balance:            domain.Balance{CreditsLimit: credits, CreditsRemaining: credits},
				RateLimitPerMinute: rate,
			})
			if err != nil {
				return err
			}

			token, err := auth.MintToken(tenantID, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "tenant_id: %s\ntier: %s\ncredits: %d\nrate_limit_per_minute: %d\ntoken: %s\n",
				tenantID, t.ID, credits, rate, token)
			return err
		},
	}

	cmd.Flags().StringVar(&tier, "tier", "free", "subscription tier")
	cmd.Flags().Int64Var(&credits, "credits", 0, "credit limit (defaults to the tier's monthly credits)")
	cmd.Flags().IntVar(&rate, "rate", 0, "requests per minute (defaults to the tier's ceiling)")
	cmd.Flags().StringSliceVar(&models, "models", nil, "models the tenant may use (defaults to the tier's list)")
	cmd.Flags().DurationVar(&ttl, "token-ttl", auth.DefaultTokenLifetime, "token lifetime")
	return cmd
}

func newTenantTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <tenant-id>",
		Short: "Mint a bearer token for an existing tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			cfg, err := internal.NewConfig()
			if err != nil {
				return fmt.Errorf("config initialization failed: %w", err)
			}
			token, err := auth.MintToken(tenantID, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "token-ttl", auth.DefaultTokenLifetime, "token lifetime")
	return cmd
}
