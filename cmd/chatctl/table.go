package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lalith-99/storefront/internal/config"
	"github.com/lalith-99/storefront/internal/table"
	"github.com/spf13/cobra"
)

func newTableCmd() *cobra.Command {
	var (
		view    viewFlags
		file    string
		columns string
		sizes   string
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Page, search and sort a JSON array of objects",
		Long: `Reads a JSON array of objects and prints one page of it.

Columns default to the sorted keys of the first object, followed by keys that only
later objects carry.`,
		Example: `  chatctl table --file orders.json --sort total --desc
  curl -s .../orders | chatctl table --columns id,customer,total --search acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open rows: %w", err)
				}
				defer f.Close()
				in = f
			}

			rows, err := readRecords(in)
			if err != nil {
				return err
			}

			fields := table.Fields(rows)
			if columns != "" {
				fields = splitFields(columns)
			}

			pageSizes, err := config.ParseIntList(sizes)
			if err != nil {
				return fmt.Errorf("--page-sizes: %w", err)
			}

			t := table.New(rows, table.MapColumns(fields...), pageSizes)
			if err := applyView(t, view); err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), t)
		},
	}

	view.bind(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file to read, - for stdin")
	cmd.Flags().StringVar(&columns, "columns", "", "comma separated fields to show")
	cmd.Flags().StringVar(&sizes, "page-sizes", config.GetEnv("TABLE_PAGE_SIZES", "5,10,25,50"), "allowed page sizes")
	return cmd
}

func readRecords(r io.Reader) ([]table.Record, error) {
	var rows []table.Record
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func splitFields(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
