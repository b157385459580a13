package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LoadStats summarizes one NDJSON load: how many records went into each
// resource table.
type LoadStats struct {
	Resources int            `json:"resources"`
	Tables    map[string]int `json:"tables"`
}

// resourceHeader is the slice of a record the loader needs; the full
// document is stored verbatim.
type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

// LoadNDJSON reads newline-delimited JSON resources and upserts each into
// the table named after its lowercased resourceType, creating tables on
// first sight. The whole load runs in one transaction: a malformed line
// aborts it and nothing is kept.
func (e *Executor) LoadNDJSON(ctx context.Context, r io.Reader) (*LoadStats, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	stats := &LoadStats{Tables: map[string]int{}}
	created := map[string]bool{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		doc := strings.TrimSpace(scanner.Text())
		if doc == "" {
			continue
		}

		var hdr resourceHeader
		if err := json.Unmarshal([]byte(doc), &hdr); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", line, err)
		}
		if hdr.ResourceType == "" {
			return nil, fmt.Errorf("line %d: missing resourceType", line)
		}
		if hdr.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", line)
		}

		table := strings.ToLower(hdr.ResourceType)
		if !created[table] {
			if _, err := tx.ExecContext(ctx, e.d.CreateResourceTable(table)); err != nil {
				return nil, fmt.Errorf("create table %s: %w", table, err)
			}
			created[table] = true
			slog.Debug("resource table created", "table", table)
		}
		if _, err := tx.ExecContext(ctx, e.d.UpsertResource(table), hdr.ID, doc); err != nil {
			return nil, fmt.Errorf("line %d: upsert %s/%s: %w", line, hdr.ResourceType, hdr.ID, err)
		}
		stats.Resources++
		stats.Tables[table]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit load: %w", err)
	}
	return stats, nil
}
