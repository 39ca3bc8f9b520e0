package collections

import (
	"database/sql"
	"fmt"
)

// TableName returns the physical table backing a collection. Every
// collection's rows live in records_<name>; the prefix keeps generated
// tables from ever colliding with the fixed metadata tables.
func TableName(collectionName string) string {
	return "records_" + collectionName
}

// sqlTypeFor maps a field's declared type to the SQLite column type used
// for its backing table. SQLite's type affinity is loose, but declaring
// the closest affinity keeps comparisons and sorting behaving as a
// caller would expect.
func sqlTypeFor(t FieldType) string {
	switch t {
	case FieldNumber:
		return "REAL"
	case FieldBoolean:
		return "INTEGER"
	case FieldDate:
		return "TIMESTAMP"
	default: // text, email, url, json, file, relation all store as TEXT
		return "TEXT"
	}
}

// CreateTable creates the physical table backing a newly registered
// collection, plus its created_at index and the trigger that keeps
// updated_at current on writes that don't set it explicitly. Every
// collection table carries id/created_at/updated_at system columns in
// addition to its declared fields.
func CreateTable(tx *sql.Tx, name string, schema Schema) error {
	var cols []string
	cols = append(cols, `"id" TEXT PRIMARY KEY`)
	cols = append(cols, `"created_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	cols = append(cols, `"updated_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP`)

	for _, f := range schema.Fields {
		col := fmt.Sprintf("%s %s", EscapeIdentifier(f.Name), sqlTypeFor(f.FieldType))
		cols = append(cols, col)
	}

	table := TableName(name)
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", EscapeIdentifier(table), joinColumns(cols))
	if _, err := tx.Exec(stmt); err != nil {
		return err
	}

	indexStmt := fmt.Sprintf("CREATE INDEX %s ON %s (created_at)",
		EscapeIdentifier("idx_"+table+"_created_at"), EscapeIdentifier(table))
	if _, err := tx.Exec(indexStmt); err != nil {
		return err
	}

	triggerStmt := fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s FOR EACH ROW
		WHEN NEW.updated_at = OLD.updated_at
		BEGIN UPDATE %s SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id; END`,
		EscapeIdentifier("trg_"+table+"_updated_at"), EscapeIdentifier(table), EscapeIdentifier(table))
	_, err := tx.Exec(triggerStmt)
	return err
}

// AddColumn adds a single new column to an existing collection table, for
// an additive schema update.
func AddColumn(tx *sql.Tx, collectionName string, field FieldDefinition) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		EscapeIdentifier(TableName(collectionName)), EscapeIdentifier(field.Name), sqlTypeFor(field.FieldType))
	_, err := tx.Exec(stmt)
	return err
}

// DropTable removes a collection's backing table along with its trigger
// and index. Called only for non-system collections after their metadata
// row has been deleted.
func DropTable(tx *sql.Tx, name string) error {
	table := TableName(name)
	if _, err := tx.Exec(fmt.Sprintf("DROP TRIGGER IF EXISTS %s", EscapeIdentifier("trg_"+table+"_updated_at"))); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("DROP INDEX IF EXISTS %s", EscapeIdentifier("idx_"+table+"_created_at"))); err != nil {
		return err
	}
	_, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", EscapeIdentifier(table)))
	return err
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
