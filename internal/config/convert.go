package config

import (
	"strings"
	"time"

	"github.com/koustreak/sqlpoll/internal/cursor"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/koustreak/sqlpoll/internal/statement"
)

// DatabaseConfig returns the driver settings. An unknown timezone is
// rejected by Validate, so it is left unset here.
func (c *Config) DatabaseConfig() *database.Config {
	conn := c.Connection
	db := database.DefaultConfig(database.Driver(conn.Driver), conn.DSN)
	db.User = conn.User
	db.Password = conn.Password
	db.FetchSize = conn.FetchSize
	db.Options = conn.Options
	db.Location, _ = c.Location()
	if conn.ConnectTimeout > 0 {
		db.ConnectTimeout = conn.ConnectTimeout
	}
	if conn.MaxLifetime > 0 {
		db.MaxConnLifetime = conn.MaxLifetime
	}
	return db
}

// DriverLibraries splits connection.driver_library.
func (c *Config) DriverLibraries() []string {
	var libs []string
	for _, p := range strings.Split(c.Connection.DriverLibrary, ",") {
		if p = strings.TrimSpace(p); p != "" {
			libs = append(libs, p)
		}
	}
	return libs
}

// TrackingConfig returns the cursor settings. loc comes from Location.
func (c *Config) TrackingConfig(loc *time.Location) cursor.Config {
	return cursor.Config{
		Mode:       cursor.Mode(c.Tracking.Mode),
		Column:     c.Tracking.Column,
		ColumnType: cursor.ColumnType(c.Tracking.ColumnType),
		Location:   loc,
		CleanRun:   c.State.CleanRun,
	}
}

// StatementConfig returns the statement settings.
func (c *Config) StatementConfig() statement.Config {
	st := c.Statement
	return statement.Config{
		Text:       st.Text,
		Params:     st.Parameters,
		Prepared:   st.Prepared.Enabled,
		Name:       st.Prepared.Name,
		BindValues: st.Prepared.BindValues,
		Paging:     c.Paging.Enabled,
	}
}

// DecoratorConfig returns the row normalization settings.
func (c *Config) DecoratorConfig(loc *time.Location) record.DecoratorConfig {
	return record.DecoratorConfig{
		Casing:         record.Casing(c.Encoding.ColumnCasing),
		Location:       loc,
		Charset:        c.Encoding.Charset,
		ColumnCharsets: c.Encoding.ColumnCharsets,
	}
}
