package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DukeRupert/fiesta/internal/catalog"
)

func newModelsCmd() *cobra.Command {
	var (
		path  string
		tiers bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog with credit multipliers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			cat, err := catalog.Open(path, logger)
			if err != nil {
				return err
			}
			if tiers {
				return printTiers(cmd.OutOrStdout(), cat)
			}
			return printModels(cmd.OutOrStdout(), cat)
		},
	}

	cmd.Flags().StringVar(&path, "catalog", os.Getenv("CATALOG_PATH"), "catalog file (defaults to the built-in catalog)")
	cmd.Flags().BoolVar(&tiers, "tiers", false, "list subscription tiers instead of models")
	return cmd
}

func printModels(w io.Writer, cat *catalog.Catalog) error {
	title := cases.Title(language.English)

	table := uitable.New()
	table.MaxColWidth = 48
	table.AddRow("MODEL", "PROVIDER", "MULTIPLIER", "IN $/1K", "OUT $/1K", "LOWEST TIER")
	for _, m := range cat.Models() {
		lowest := cat.LowestTier(m.ID)
		if lowest == "" {
			lowest = "-"
		} else {
			lowest = title.String(lowest)
		}
		table.AddRow(
			m.ID,
			title.String(m.Provider),
			strconv.FormatFloat(m.Multiplier, 'f', -1, 64),
			strconv.FormatFloat(m.InputCost1K, 'f', -1, 64),
			strconv.FormatFloat(m.OutputCost1K, 'f', -1, 64),
			lowest,
		)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}

func printTiers(w io.Writer, cat *catalog.Catalog) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("TIER", "CREDITS/MONTH", "REQ/MIN", "MODELS")
	for _, t := range cat.Tiers() {
		models := fmt.Sprintf("%d", len(t.AllowedModels))
		if t.AllModels {
			models = "all"
		}
		table.AddRow(t.Name, t.CreditsPerMonth, t.RateLimitPerMinute, models)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}
