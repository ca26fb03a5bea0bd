package testutil

import (
	"database/sql"
	"dropcarter/lib/telemetry"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// a file name inside the test's temp dir, `:memory:` if unspecified
	DbFile string
}

type ServiceResult struct {
	DB *sql.DB
}

// SetupService sets up test telemetry and, when a schema is given, a sqlite
// database with the schema applied. the returned func tears both down.
func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanupTelemetry := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))
	if params.DbSchema == "" {
		return ServiceResult{}, cleanupTelemetry
	}

	dbpath := ":memory:"
	if params.DbFile != "" {
		dbpath = filepath.Join(t.TempDir(), params.DbFile)
	}
	sqlite, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is its own database
	sqlite.SetMaxOpenConns(1)

	_, err = sqlite.Exec(params.DbSchema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		t.Fatal(err)
	}

	return ServiceResult{DB: sqlite}, func() {
		sqlite.Close()
		cleanupTelemetry()
	}
}
