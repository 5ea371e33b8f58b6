package app

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ledgermap/ledgermap"
	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// NewMappingsCommand creates the mappings command group.
func (a *App) NewMappingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Discover and inspect field mappings",
	}

	cmd.AddCommand(a.newMappingsBuildCommand())
	cmd.AddCommand(a.newMappingsListCommand())
	return cmd
}

func (a *App) newMappingsBuildCommand() *cobra.Command {
	var csvPath, jsonPath string

	cmd := &cobra.Command{
		Use:   "build <entity>",
		Short: "Discover field mappings from raw source files",
		Long: `Build reads the CSV export's header row and the JSON sync's document
keys, matches them against the entity's canonical schema and installs the
resulting field mappings. Canonical fields that no raw column matches with
enough confidence are recorded as explicitly unmapped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := schema.Entity(args[0])

			csvFields, err := readCSVFields(csvPath)
			if err != nil {
				return err
			}
			jsonFields, err := readJSONFields(jsonPath)
			if err != nil {
				return err
			}

			lm, err := a.Ledgermap()
			if err != nil {
				return err
			}

			rows, err := lm.BuildMappings(cmd.Context(), entity, csvFields, jsonFields)
			if err != nil {
				return err
			}

			return a.printMappings(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV export file (required)")
	cmd.Flags().StringVar(&jsonPath, "json", "", "JSON sync file (required)")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("json")
	return cmd
}

func (a *App) newMappingsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity>",
		Short: "List the installed field mappings for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lm, err := a.Ledgermap()
			if err != nil {
				return err
			}

			rows, err := lm.Mappings(cmd.Context(), schema.Entity(args[0]))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return errors.NewNotFoundError("field mappings", args[0])
			}

			return a.printMappings(cmd.OutOrStdout(), rows)
		},
	}
}

// NewReconcileCommand creates the reconcile command.
func (a *App) NewReconcileCommand() *cobra.Command {
	var csvPath, jsonPath string

	cmd := &cobra.Command{
		Use:   "reconcile <entity>",
		Short: "Reconcile an entity's CSV export and JSON sync",
		Long: `Reconcile loads both raw sources, maps them onto the canonical schema
and merges them into one record set. Each record carries a provenance tag:
CSV_ONLY, JSON_ONLY, CSV_PREFERRED, JSON_FRESH or MERGED.

Field mappings must be installed first, either in this invocation's store or
via "mappings build" in the same process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := schema.Entity(args[0])

			csvFile, err := os.Open(csvPath)
			if err != nil {
				return errors.WrapIO("open", csvPath, err)
			}
			defer csvFile.Close()

			jsonFile, err := os.Open(jsonPath)
			if err != nil {
				return errors.WrapIO("open", jsonPath, err)
			}
			defer jsonFile.Close()

			lm, err := a.Ledgermap()
			if err != nil {
				return err
			}

			result, err := lm.Reconcile(cmd.Context(), entity, ledgermap.Inputs{
				CSV:  csvFile,
				JSON: jsonFile,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.config.Format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result.Records)
			}

			fmt.Fprint(out, result.Provenance.Report())
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV export file (required)")
	cmd.Flags().StringVar(&jsonPath, "json", "", "JSON sync file (required)")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("json")
	return cmd
}

// NewEntitiesCommand creates the entities command.
func (a *App) NewEntitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the supported entity types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, entity := range schema.Entities() {
				s, err := schema.Get(entity)
				if err != nil {
					return err
				}
				suffix := ""
				if s.HasLineItems() {
					suffix = " (line items)"
				}
				fmt.Fprintf(out, "%s%s\n", entity, suffix)
			}
			return nil
		},
	}
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgermap %s (commit %s, built %s)\n", a.version, a.commit, a.date)
			return nil
		},
	}
}

// printMappings renders mapping rows in the configured output format.
func (a *App) printMappings(out io.Writer, rows []mapping.FieldMapping) error {
	if a.config.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, row := range rows {
		if row.Mapped() {
			fmt.Fprintf(out, "%-6s %-24s <- %-24s (%.2f)\n", row.Source, row.CanonicalField, row.SourceField, row.Confidence)
		} else {
			fmt.Fprintf(out, "%-6s %-24s    (unmapped)\n", row.Source, row.CanonicalField)
		}
	}
	return nil
}

// readCSVFields extracts the raw column labels from a CSV export's header
// row.
func readCSVFields(path string) (mapping.Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return mapping.Fields{}, errors.WrapIO("open", path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return mapping.Fields{}, errors.WrapParse("csv", path, err)
	}

	return mapping.Fields{Table: path, Names: header}, nil
}

// readJSONFields extracts the raw field names from a JSON sync file: the
// union of every document's keys plus the keys of nested line items.
func readJSONFields(path string) (mapping.Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return mapping.Fields{}, errors.WrapIO("open", path, err)
	}
	defer f.Close()

	var docs []map[string]any
	if err := json.NewDecoder(f).Decode(&docs); err != nil {
		return mapping.Fields{}, errors.WrapParse("json", path, err)
	}

	seen := map[string]bool{}
	for _, doc := range docs {
		for key, value := range doc {
			if key == "line_items" {
				if items, ok := value.([]any); ok {
					for _, item := range items {
						if fields, ok := item.(map[string]any); ok {
							for lineKey := range fields {
								seen[lineKey] = true
							}
						}
					}
				}
				continue
			}
			seen[key] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return mapping.Fields{Table: path, Names: names}, nil
}
