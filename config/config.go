// Package config parses the mailstore configuration file, in the same
// tab-indented "sconf" format mox uses for its own mox.conf.
package config

import (
	"fmt"

	"github.com/mjl-/sconf"
)

// Backend selects which storage adapter a process should open.
type Backend string

const (
	BackendBolt    Backend = "bolt"    // Tree/document backend over bstore.
	BackendSQL     Backend = "sql"     // Relational backend over database/sql.
	BackendMaildir Backend = "maildir" // Filesystem maildir backend.
)

// Config is the parsed form of mailstore.conf.
type Config struct {
	LogLevel         string            `sconf-doc:"Default log level, one of: error, info, debug, trace."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package, e.g. store, boltstore, sqlstore, maildirstore."`

	Backend Backend `sconf-doc:"Storage backend to use: bolt, sql, or maildir."`

	Bolt struct {
		Path string `sconf-doc:"Path to the bstore database file."`
	} `sconf:"optional" sconf-doc:"Settings for the bolt (tree/document) backend."`

	SQL struct {
		Driver string `sconf-doc:"database/sql driver name: postgres or sqlite3."`
		DSN    string `sconf-doc:"Data source name / connection string passed to sql.Open."`
	} `sconf:"optional" sconf-doc:"Settings for the sql (relational) backend."`

	Maildir struct {
		Root string `sconf-doc:"Filesystem root under which each mailbox gets a maildir (cur/new/tmp)."`
	} `sconf:"optional" sconf-doc:"Settings for the maildir (filesystem) backend."`
}

// ParseFile reads and validates a mailstore.conf file.
func ParseFile(path string) (Config, error) {
	var c Config
	if err := sconf.ParseFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.check(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) check() error {
	switch c.Backend {
	case BackendBolt:
		if c.Bolt.Path == "" {
			return fmt.Errorf("bolt backend requires Bolt.Path")
		}
	case BackendSQL:
		if c.SQL.Driver == "" || c.SQL.DSN == "" {
			return fmt.Errorf("sql backend requires SQL.Driver and SQL.DSN")
		}
	case BackendMaildir:
		if c.Maildir.Root == "" {
			return fmt.Errorf("maildir backend requires Maildir.Root")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}
