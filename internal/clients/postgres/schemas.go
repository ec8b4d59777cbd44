package postgres

import (
	"fmt"
	"strings"

	"github.com/citygeo/case-sync/pkg/domain"
)

// upsertSQL builds a single-row named upsert for a case table. Every
// column but the key updates on conflict so a replayed window converges
// instead of erroring.
func upsertSQL(table string) string {
	cols := domain.CSVHeader()

	named := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		named = append(named, ":"+col)
		if col == domain.PrimaryKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(named, ", "),
		domain.PrimaryKey,
		strings.Join(updates, ", "),
	)
}

// archiveSQL copies matching rows from the live table into the archive
// table, refreshing rows already archived by an earlier pass.
func archiveSQL(archiveTable, fromTable, inClause string) string {
	cols := strings.Join(domain.CSVHeader(), ", ")
	updates := make([]string, 0, len(domain.CSVHeader()))
	for _, col := range domain.CSVHeader() {
		if col == domain.PrimaryKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s IN (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		archiveTable, cols, cols, fromTable, domain.PrimaryKey, inClause,
		domain.PrimaryKey, strings.Join(updates, ", "),
	)
}

// copyNewSQL moves rows newer than the destination's watermark from the
// source table into the destination table. Rows copied before and
// updated since land as updates, not key violations.
func copyNewSQL(destTable, fromTable string) string {
	cols := strings.Join(domain.CSVHeader(), ", ")
	updates := make([]string, 0, len(domain.CSVHeader()))
	for _, col := range domain.CSVHeader() {
		if col == domain.PrimaryKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s WHERE updated_datetime > COALESCE((SELECT MAX(updated_datetime) FROM %s), '1970-01-01') ON CONFLICT (%s) DO UPDATE SET %s",
		destTable, cols, cols, fromTable, destTable,
		domain.PrimaryKey, strings.Join(updates, ", "),
	)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
