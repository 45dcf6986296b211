// Package persistence implements the Persistence Adapter (§4.13 of
// SPEC_FULL.md): reads the PRD/design-doc bundle from the upstream design
// job, and writes the five completed artifacts plus validation report and
// version number.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basegraph-labs/trdforge/core/db"
	"github.com/basegraph-labs/trdforge/internal/session"
	"github.com/jackc/pgx/v5"
)

// ErrUpstreamIncomplete is the typed error raised when the upstream design
// job has not reached "completed" (§4.13, §7).
var ErrUpstreamIncomplete = errors.New("persistence: upstream_incomplete")

// ErrNotFound is returned when no design job row exists for the given id.
var ErrNotFound = errors.New("persistence: design job not found")

// Upstream is the PRD/design-doc bundle read from the design stage
// (§6 "Upstream contract").
type Upstream struct {
	PRDText     string
	DesignDocs  map[string]string
	ArchivePath string
}

// Adapter implements the Persistence Adapter.
type Adapter struct {
	db *db.DB
}

// New constructs an Adapter backed by the given database wrapper.
func New(d *db.DB) *Adapter {
	return &Adapter{db: d}
}

// LoadUpstream reads the PRD and design documents for designJobID. It
// returns ErrUpstreamIncomplete if the job's status is not "completed",
// and never writes to the upstream table (§4.13, §6).
func (a *Adapter) LoadUpstream(ctx context.Context, designJobID string) (Upstream, error) {
	const q = `
		SELECT status, prd_text, design_docs, archive_path
		FROM design_jobs
		WHERE id = $1`

	var status string
	var prdText string
	var designDocsJSON []byte
	var archivePath *string

	err := a.db.Pool().QueryRow(ctx, q, designJobID).Scan(&status, &prdText, &designDocsJSON, &archivePath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Upstream{}, ErrNotFound
		}
		return Upstream{}, fmt.Errorf("persistence: load upstream: %w", err)
	}

	if status != "completed" {
		return Upstream{}, fmt.Errorf("%w: design job %s has status %q", ErrUpstreamIncomplete, designJobID, status)
	}

	var designDocs map[string]string
	if len(designDocsJSON) > 0 {
		if err := json.Unmarshal(designDocsJSON, &designDocs); err != nil {
			return Upstream{}, fmt.Errorf("persistence: decode design docs: %w", err)
		}
	}

	up := Upstream{PRDText: prdText, DesignDocs: designDocs}
	if archivePath != nil {
		up.ArchivePath = *archivePath
	}
	return up, nil
}

// Artifacts bundles the five generated artifacts plus their validation
// report, the downstream contract's single output record (§6).
type Artifacts struct {
	TRD                 string
	OpenAPIText         string
	SQLSchema           session.SQLSchema
	ArchitectureDiagram string
	TechStackDoc        string
	Validation          session.ValidationReport
}

// SaveArtifacts appends a new version row for sessionID. Version numbers
// are strictly increasing per session, the same server-side
// MAX(version)+1 pattern the Checkpoint Store uses for revisions, so two
// concurrent completions of the same session can never collide on a
// version number (§3's version invariant).
func (a *Adapter) SaveArtifacts(ctx context.Context, sessionID string, artifacts Artifacts) (int64, error) {
	validationJSON, err := json.Marshal(artifacts.Validation)
	if err != nil {
		return 0, fmt.Errorf("persistence: encode validation report: %w", err)
	}

	const q = `
		INSERT INTO trd_artifacts
			(session_id, version, trd, openapi_text, sql_ddl, sql_erd, architecture_diagram, tech_stack_doc, validation_report, completed_at)
		VALUES
			($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM trd_artifacts WHERE session_id = $1), $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, version) DO NOTHING
		RETURNING version`

	var version int64
	err = a.db.Pool().QueryRow(ctx, q,
		sessionID, artifacts.TRD, artifacts.OpenAPIText, artifacts.SQLSchema.DDL, artifacts.SQLSchema.ERD,
		artifacts.ArchitectureDiagram, artifacts.TechStackDoc, validationJSON, time.Now().UTC(),
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			v, latestErr := a.latestVersion(ctx, sessionID)
			if latestErr != nil {
				return 0, fmt.Errorf("persistence: save raced and reload failed: %w", latestErr)
			}
			return v, nil
		}
		return 0, fmt.Errorf("persistence: save artifacts: %w", err)
	}
	return version, nil
}

func (a *Adapter) latestVersion(ctx context.Context, sessionID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(version), 0) FROM trd_artifacts WHERE session_id = $1`
	var version int64
	if err := a.db.Pool().QueryRow(ctx, q, sessionID).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
