// Package jx provides a minimal public API for running extractions from Go
// programs and for reading the database an extraction writes.
//
// The jx command is a thin layer over this package.
package jx

import (
	"fmt"

	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/extract"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/storage/sqlite"
	"github.com/jirametrics/jx/internal/types"
)

// Storage is the interface of the relational store
type Storage = storage.Storage

// NewSQLiteStorage opens (creating if needed) an extraction database at the given path
func NewSQLiteStorage(dbPath string) (Storage, error) {
	return sqlite.New(dbPath, sqlite.Options{})
}

// Extraction types from internal/extract
type (
	Config          = extract.Config
	Runner          = extract.Runner
	Report          = extract.Report
	ProjectVersions = extract.ProjectVersions
)

// NewRunner returns a runner for cfg.
var NewRunner = extract.NewRunner

// Core types from internal/types
type (
	Issue      = types.Issue
	Version    = types.Version
	Sprint     = types.Sprint
	Task       = types.Task
	TaskResult = types.TaskResult
	Record     = types.Record
	Field      = types.Field
)

// Unversioned is the version name of the task extracting issues without a fix version.
const Unversioned = types.Unversioned

// Output modes
const (
	OutputCSV    = configfile.OutputCSV
	OutputSQLite = configfile.OutputSQLite
)

// Load reads the manifest at manifestPath together with the access and field
// mapping files it names. Worker count, JIRA and sink options are left at their
// defaults.
func Load(manifestPath string) (*Config, error) {
	m, err := configfile.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	access, err := configfile.LoadAccess(m.AccessPath())
	if err != nil {
		return nil, err
	}
	fields, err := mapping.Load(m.MapperPath())
	if err != nil {
		return nil, fmt.Errorf("loading field mapping: %w", err)
	}
	return &Config{Manifest: m, Mapping: fields, Access: access}, nil
}
