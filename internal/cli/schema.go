package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type SchemaCmd struct{}

func NewSchemaCmd() *SchemaCmd {
	return &SchemaCmd{}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [TABLE...]",
		Short: "Show the tables and columns the SQL generator sees",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			q, err := rt.openQuerier(ctx)
			if err != nil {
				return err
			}

			tables := args
			if len(tables) == 0 {
				tables, err = q.ListTables(ctx)
				if err != nil {
					return fmt.Errorf("failed to list tables: %w", err)
				}
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAutoFormatHeaders(false)
			table.SetAutoMergeCells(true)
			table.SetRowLine(true)
			table.SetHeader([]string{"Table", "Column", "Type"})
			for _, name := range tables {
				columns, err := q.DescribeTable(ctx, name)
				if err != nil {
					return fmt.Errorf("failed to describe table %s: %w", name, err)
				}
				for _, col := range columns {
					table.Append([]string{name, col.Name, col.Type})
				}
			}
			table.Render()
			return nil
		},
	}
	return cmd
}
