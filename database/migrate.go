package database

import (
	"database/sql"
	"fmt"
)

var (
	createSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_segments (
    ring_id       VARCHAR       NOT NULL,
    id            UUID          NOT NULL,
    owner         VARCHAR       NOT NULL,
    start_offset  BIGINT        NOT NULL,
    width         BIGINT        NOT NULL,
    created_at    TIMESTAMPTZ   NOT NULL,
    seq           BIGINT        NOT NULL,
    mode          SMALLINT      NOT NULL,

    PRIMARY KEY (ring_id, id)
);`

	createSegmentsOffsetIndexSQL = `
CREATE INDEX IF NOT EXISTS %s
ON %s_segments (ring_id, start_offset);`

	createSegmentsOwnerIndexSQL = `
CREATE INDEX IF NOT EXISTS %s
ON %s_segments (ring_id, owner);`
)

// Migrate creates the segments table with its offset and owner indexes.
func Migrate(db *sql.DB, tableName string) error {
	if err := createSegmentsTable(db, tableName); err != nil {
		return err
	}

	if err := createIndex(db, createSegmentsOffsetIndexSQL, tableName+"_segments_offset_idx", tableName); err != nil {
		return err
	}

	if err := createIndex(db, createSegmentsOwnerIndexSQL, tableName+"_segments_owner_idx", tableName); err != nil {
		return err
	}

	return nil
}

func createSegmentsTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createSegmentsTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create segments table: %w", err)
	}
	return nil
}

func createIndex(db *sql.DB, stmt, indexName, tableName string) error {
	var query = fmt.Sprintf(stmt, indexName, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}
	return nil
}
