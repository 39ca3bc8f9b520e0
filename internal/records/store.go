package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/query"
)

// Store performs CRUD against a single collection's physical table.
type Store struct {
	db        *sql.DB
	publisher EventPublisher
}

// NewStore builds a Store. publisher receives a RecordEvent after each
// write commits; pass NopPublisher{} where fan-out isn't wired.
func NewStore(db *sql.DB, publisher EventPublisher) *Store {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Store{db: db, publisher: publisher}
}

// Create validates payload against schema, inserts only the declared
// fields present (falling back to each field's default), and returns the
// stored record including system columns.
func (s *Store) Create(ctx context.Context, col collections.Collection, payload map[string]interface{}) (Record, error) {
	if err := Validate(col.Schema, payload); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	cols := []string{"id", "created_at", "updated_at"}
	args := []interface{}{id, now, now}
	placeholders := []string{"?", "?", "?"}

	for _, field := range col.Schema.Fields {
		value, present := payload[field.Name]
		if !present || value == nil {
			if field.Default == nil {
				continue
			}
			value = field.Default
		}
		cols = append(cols, field.Name)
		placeholders = append(placeholders, "?")
		args = append(args, toColumnValue(field, value))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		collections.EscapeIdentifier(collections.TableName(col.Name)), quoteList(cols), strings.Join(placeholders, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	record, err := s.getTx(ctx, tx, col, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record creation: %w", err)
	}

	s.publisher.Publish(ctx, Event{CollectionName: col.Name, Action: ActionCreate, RecordID: id, NewRecord: record})
	return record, nil
}

// Get loads a single record by id, projecting every declared field plus
// system columns.
func (s *Store) Get(ctx context.Context, col collections.Collection, id string) (Record, error) {
	return s.getTx(ctx, s.db, col, id)
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) getTx(ctx context.Context, q queryable, col collections.Collection, id string) (Record, error) {
	projection := projectionFor(col.Schema)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		quoteList(projection), collections.EscapeIdentifier(collections.TableName(col.Name)), collections.EscapeIdentifier("id"))

	row := q.QueryRowContext(ctx, stmt, id)
	record, err := scanRecord(row, col.Schema, projection)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("record")
	}
	return record, err
}

// Update applies a partial payload to an existing record. Only the
// fields present in the payload are validated. An empty payload is
// rejected; a payload targeting zero matching rows surfaces NotFound.
func (s *Store) Update(ctx context.Context, col collections.Collection, id string, payload map[string]interface{}) (Record, Record, error) {
	if len(payload) == 0 {
		return nil, nil, apperrors.Validation("update payload must not be empty")
	}
	var messages []string
	for _, field := range col.Schema.Fields {
		raw, present := payload[field.Name]
		if present && raw == nil && field.Required {
			messages = append(messages, fmt.Sprintf("%s is required", field.Name))
		} else if present && raw != nil {
			if msg := validateField(field, raw); msg != "" {
				messages = append(messages, msg)
			}
		}
	}
	if len(messages) > 0 {
		return nil, nil, apperrors.Validation(messages...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	oldRecord, err := s.getTx(ctx, tx, col, id)
	if err != nil {
		return nil, nil, err
	}

	var sets []string
	var args []interface{}
	for _, field := range col.Schema.Fields {
		value, present := payload[field.Name]
		if !present {
			continue
		}
		sets = append(sets, collections.EscapeIdentifier(field.Name)+" = ?")
		args = append(args, toColumnValue(field, value))
	}
	if len(sets) == 0 {
		return nil, nil, apperrors.Validation("update payload did not match any declared field")
	}

	now := time.Now().UTC()
	sets = append(sets, collections.EscapeIdentifier("updated_at")+" = ?")
	args = append(args, now)
	args = append(args, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		collections.EscapeIdentifier(collections.TableName(col.Name)), strings.Join(sets, ", "), collections.EscapeIdentifier("id"))

	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("update record: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, nil, apperrors.NotFound("record")
	}

	newRecord, err := s.getTx(ctx, tx, col, id)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit record update: %w", err)
	}

	s.publisher.Publish(ctx, Event{CollectionName: col.Name, Action: ActionUpdate, RecordID: id, NewRecord: newRecord, OldRecord: oldRecord})
	return newRecord, oldRecord, nil
}

// Delete removes a record by id, failing with NotFound when it doesn't
// exist.
func (s *Store) Delete(ctx context.Context, col collections.Collection, id string) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	oldRecord, err := s.getTx(ctx, tx, col, id)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		collections.EscapeIdentifier(collections.TableName(col.Name)), collections.EscapeIdentifier("id"))
	result, err := tx.ExecContext(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, apperrors.NotFound("record")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record delete: %w", err)
	}

	s.publisher.Publish(ctx, Event{CollectionName: col.Name, Action: ActionDelete, RecordID: id, OldRecord: oldRecord})
	return oldRecord, nil
}

// List compiles q against the collection's schema and returns the
// matching page plus a total count for pagination.
func (s *Store) List(ctx context.Context, col collections.Collection, q query.Query) (*ListResult, error) {
	projection := projectionFor(col.Schema)
	compiled := query.Compile(collections.TableName(col.Name), projection, q, textFields(col.Schema))

	rows, err := s.db.QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, col.Schema, projection)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countQuery := query.Compile(collections.TableName(col.Name), []string{"id"}, query.Query{Filters: q.Filters, Search: q.Search, Sort: []query.SortKey{{Field: "id"}}}, textFields(col.Schema))
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+countQuery.SQL+")", countQuery.Args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	return &ListResult{Records: out, TotalCount: total}, nil
}

func projectionFor(schema collections.Schema) []string {
	cols := []string{"id", "created_at", "updated_at"}
	for _, f := range schema.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

func textFields(schema collections.Schema) []string {
	var out []string
	for _, f := range schema.Fields {
		if f.FieldType == collections.FieldText {
			out = append(out, f.Name)
		}
	}
	return out
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = collections.EscapeIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// toColumnValue normalizes an interface{} decoded from JSON into a value
// the sqlite3 driver accepts for the field's declared type. JSON-typed
// fields are re-encoded to their canonical string form since they may
// arrive as nested maps/slices.
func toColumnValue(field collections.FieldDefinition, value interface{}) interface{} {
	if field.FieldType == collections.FieldJSON {
		switch value.(type) {
		case string:
			return value
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil
			}
			return string(encoded)
		}
	}
	return value
}

type rowsScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowsScanner, schema collections.Schema, projection []string) (Record, error) {
	dest := make([]interface{}, len(projection))
	holders := make([]interface{}, len(projection))
	for i := range dest {
		holders[i] = &dest[i]
	}
	if err := row.Scan(holders...); err != nil {
		return nil, err
	}

	record := Record{}
	for i, name := range projection {
		record[name] = normalizeScanned(schema, name, dest[i])
	}
	return record, nil
}

func normalizeScanned(schema collections.Schema, name string, value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	field, isDeclared := schema.FieldByName(name)
	if !isDeclared {
		return value
	}
	if field.FieldType == collections.FieldBoolean {
		switch v := value.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	}
	if field.FieldType == collections.FieldNumber {
		// Numbers round-trip as integers when they have no fractional
		// part, so a stored 5.0 comes back as 5.
		if f, ok := value.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	}
	if field.FieldType == collections.FieldJSON {
		if s, ok := value.(string); ok {
			var decoded interface{}
			if json.Unmarshal([]byte(s), &decoded) == nil {
				return decoded
			}
		}
	}
	return value
}
