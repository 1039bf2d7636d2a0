package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeforge/internal/analysis"
	"github.com/rendis/nodeforge/internal/patch"
	"github.com/rendis/nodeforge/internal/validation"
)

// errNotExecutable makes validate exit non-zero without repeating the report.
var errNotExecutable = errors.New("workflow cannot execute")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow JSON file and print the validation report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg, quietLogger())
			if err != nil {
				return err
			}
			schemas, err := validation.NewSchemaValidator()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var payload any
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			doc, err := patch.Replace(schemas, payload)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			report, err := analysis.Validate(cmd.Context(), doc, reg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.CanExecute {
				cmd.SilenceErrors = true
				return errNotExecutable
			}
			return nil
		},
	}
}

func newTypesCmd() *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "types [query]",
		Short: "List the node types of the registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg, quietLogger())
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tCATEGORY\tINPUTS\tOUTPUTS\tWIDGETS")
			for _, t := range reg.Search(query, category, limit) {
				name := t.Name
				if t.Output {
					name += " *"
				}
				outputs := make([]string, 0, len(t.Outputs))
				for _, o := range t.Outputs {
					outputs = append(outputs, o.Type)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					name, t.Category, len(t.Inputs), strings.Join(outputs, ","), strings.Join(t.WidgetNames(), ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only types of this category")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of types (0 = all)")
	return cmd
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
