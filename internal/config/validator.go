// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` right after unmarshal.  Struct tags cover
// the simple rules; `postgresDSN` adds the one check a tag cannot express,
// that the master DSN parses as a Postgres URL.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/yanizio/tenantdb/internal/dsn"
)

var v = validator.New()

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	if _, err := dsn.Parse(c.Master.DSN); err != nil {
		return fmt.Errorf("master.dsn: %w", err)
	}
	return nil
}
