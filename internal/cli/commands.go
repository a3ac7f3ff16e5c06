package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/drive-side-service/internal/filter"
	"github.com/kjstillabower/drive-side-service/internal/validation"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every country and its drive side",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, rootOpts, func(ctx context.Context, repo Repository) error {
				countries, err := repo.GetAll(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "list countries", err)
				}
				return writeCountries(cmd.OutOrStdout(), rootOpts.Format, countries)
			})
		},
	}
}

// NewSideCommand creates the side command.
func NewSideCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "side <left|right>",
		Short: "List countries that drive on the given side",
		Long: `List countries that drive on the given side.

The side is matched exactly: "LEFT" is rejected.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			side := args[0]
			if err := filter.ValidateDriveSide(side); err != nil {
				return WrapExitError(ExitCommandError, "side", err)
			}
			return withRepository(cmd, rootOpts, func(ctx context.Context, repo Repository) error {
				countries, err := repo.CountriesBySide(ctx, side)
				if err != nil {
					return WrapExitError(ExitFailure, "list countries by side", err)
				}
				return writeCountries(cmd.OutOrStdout(), rootOpts.Format, countries)
			})
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert countries from a YAML file",
		Long: `Upsert countries from a YAML list of {name, driveSide} entries.

Use "-" to read from stdin. The whole file is rejected if any entry is invalid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "open input", err)
				}
				defer f.Close()
				in = f
			}
			countries, err := readCountries(in)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse input", err)
			}
			return withRepository(cmd, rootOpts, func(ctx context.Context, repo Repository) error {
				n, err := repo.Upsert(ctx, countries)
				if err != nil {
					if validation.IsValidationError(err) {
						return WrapExitError(ExitCommandError, "invalid input", err)
					}
					return WrapExitError(ExitFailure, "upsert", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "upserted %d countries\n", n)
				return nil
			})
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "refresh",
		Short:         "Fetch the remote country list and merge it into the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, rootOpts, func(ctx context.Context, repo Repository) error {
				countries, err := repo.Refresh(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "refresh", err)
				}
				return writeCountries(cmd.OutOrStdout(), rootOpts.Format, countries)
			})
		},
	}
}
