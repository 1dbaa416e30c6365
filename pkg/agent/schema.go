package agent

import (
	"context"
	"fmt"
	"strings"
)

// SchemaSummary renders the schema for the generator prompt and returns the
// table names used for citation extraction.
func SchemaSummary(ctx context.Context, accessor SchemaAccessor) (string, []string, error) {
	tables, err := accessor.ListTables(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Database Schema:\n")
	for _, table := range tables {
		columns, err := accessor.DescribeTable(ctx, table)
		if err != nil {
			return "", nil, fmt.Errorf("failed to describe table %s: %w", table, err)
		}
		fmt.Fprintf(&sb, "\n%s:\n", table)
		for _, col := range columns {
			typ := col.Type
			if typ == "" {
				typ = "ANY"
			}
			fmt.Fprintf(&sb, "  - %s: %s\n", col.Name, typ)
		}
	}
	return sb.String(), tables, nil
}
