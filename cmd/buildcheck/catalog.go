package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/repository"
	"github.com/techcortex/buildcheck/internal/rules"
	"github.com/techcortex/buildcheck/internal/validation"
)

var (
	importCmd = &cobra.Command{
		Use:   "import [catalog.yaml]",
		Short: "Import a YAML catalog into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	validateCmd = &cobra.Command{
		Use:   "validate [selection.json]",
		Short: "Validate a selection against a catalog file without a store",
		Long: `Reads a selection ({"processor": "cpu-1", "memory": ["ram-1", "ram-2"]})
from the given file, or stdin when omitted, and prints the validation result.
Exits with status 2 when the build has compatibility errors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}

	// errIncompatible exits with status 2 without printing usage.
	errIncompatible = errors.New("build has compatibility errors")

	importTenant    string
	validateCatalog string
)

func init() {
	importCmd.Flags().StringVarP(&importTenant, "tenant", "t", "", "Tenant to import into (defaults to catalog.tenant)")
	validateCmd.Flags().StringVar(&validateCatalog, "catalog", "", "Path to a YAML catalog (defaults to catalog.path)")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(validateCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tenant := importTenant
	if tenant == "" {
		tenant = cfg.Catalog.Tenant
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	data, err := catalog.ReadFile(args[0])
	if err != nil {
		return err
	}
	stats, err := catalog.Import(cmd.Context(), repo, tenant, data, catalog.Options{MultiSelect: cfg.Engine.MultiSelectCategories})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d categories, %d templates, %d parts, %d rules into %s\n",
		stats.Categories, stats.Templates, stats.Parts, stats.Rules, tenant)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	path := validateCatalog
	if path == "" {
		path = cfg.Catalog.Path
	}
	if path == "" {
		return fmt.Errorf("%w: no catalog file given", domain.ErrInvalidInput)
	}

	data, err := catalog.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := catalog.New(data, catalog.Options{MultiSelect: cfg.Engine.MultiSelectCategories})
	if err != nil {
		return err
	}

	sel, err := readSelection(cmd, args)
	if err != nil {
		return err
	}

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		return err
	}
	if err := rules.RegisterBuiltins(evaluator); err != nil {
		return err
	}

	report, err := validation.NewOrchestrator(evaluator, cfg.Engine).Run(cmd.Context(), snap, sel)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report.Result); err != nil {
		return err
	}

	if report.Result.Status == domain.StatusError {
		return errIncompatible
	}
	return nil
}

func readSelection(cmd *cobra.Command, args []string) (domain.Selection, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open selection: %w", err)
		}
		defer f.Close()
		r = f
	}

	var sel domain.Selection
	if err := json.NewDecoder(r).Decode(&sel); err != nil {
		return nil, fmt.Errorf("%w: failed to parse selection: %v", domain.ErrInvalidInput, err)
	}
	return sel, nil
}
