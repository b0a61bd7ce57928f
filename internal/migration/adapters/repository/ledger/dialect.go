package ledger

import (
	"fmt"
	"regexp"

	"github.com/studiobook/studiobook/internal/platform/config"
)

// DefaultTable is the ledger table used when none is configured
const DefaultTable = "schema_migrations"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// dialect holds the driver-specific ledger statements
type dialect struct {
	name        string
	createTable string
	insert      string
	selectAll   string
}

func newDialect(driver, table string) (dialect, error) {
	if !tableNamePattern.MatchString(table) {
		return dialect{}, fmt.Errorf("invalid ledger table name %q", table)
	}

	d := dialect{
		name:      driver,
		selectAll: fmt.Sprintf(`SELECT filename, checksum, applied_at FROM %s ORDER BY applied_at ASC, filename ASC`, table),
	}

	switch driver {
	case config.DriverPostgres:
		d.createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			filename VARCHAR(255) PRIMARY KEY,
			checksum CHAR(64) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, table)
		d.insert = fmt.Sprintf(`INSERT INTO %s (filename, checksum) VALUES ($1, $2)`, table)
	case config.DriverMySQL:
		d.createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			filename VARCHAR(255) NOT NULL PRIMARY KEY,
			checksum CHAR(64) NOT NULL,
			applied_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		)`, table)
		d.insert = fmt.Sprintf(`INSERT INTO %s (filename, checksum) VALUES (?, ?)`, table)
	case config.DriverSQLite:
		d.createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			filename TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, table)
		d.insert = fmt.Sprintf(`INSERT INTO %s (filename, checksum) VALUES (?, ?)`, table)
	default:
		return dialect{}, fmt.Errorf("no ledger dialect for driver %q", driver)
	}

	return d, nil
}
