package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
)

// marshalIDs serializes an id slice as JSONB. Nil/empty slices produce SQL
// NULL rather than a JSON "null" string.
func marshalIDs(ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal id list: %w", err)
	}
	return data, nil
}

// unmarshalIDs is the inverse of marshalIDs: NULL scans back to nil.
func unmarshalIDs(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal id list: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event struct.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var targetID sql.NullString

	err := row.Scan(
		&evt.IngestSeq,
		&evt.ID,
		&evt.TenantID,
		&evt.Verb,
		&evt.ActorID,
		&evt.ObjectID,
		&targetID,
		&evt.OccurredAt,
		&evt.IngestedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	evt.TargetID = targetID.String
	return &evt, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
