package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct selects a database: a remote libsql server when Url is set, a local
// sqlite file otherwise.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// Location is where the database lives, safe to log.
func (config Struct) Location() string {
	if config.Url != "" {
		return config.Url
	}
	return config.File
}

func (config Struct) dsn() (string, error) {
	if config.Url != "" {
		if config.AuthToken == "" {
			return config.Url, nil
		}
		return config.Url + "?" + url.Values{"authToken": {config.AuthToken}}.Encode(), nil
	}
	if config.File == "" {
		return "", fmt.Errorf("neither a database file nor url was specified")
	}
	dbpath, err := filepath.Abs(config.File)
	if err != nil {
		return "", err
	}
	return "file:" + dbpath, nil
}

func (config Struct) OpenDB() (*sql.DB, error) {
	dsn, err := config.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}
	if config.Url == "" {
		// a local file takes one writer at a time
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
