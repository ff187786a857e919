package source

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/mattn/go-sqlite3"

	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// Driver describes how to reach one kind of backing database through
// database/sql.
type Driver struct {
	// Name is the database/sql driver name.
	Name string
	// FileBacked drivers take a path that must exist before connecting.
	FileBacked bool

	dsn         func(location string) string
	placeholder func(n int) string
	// transient reports driver errors that mean "locked or unreachable"
	// rather than "bad query".
	transient func(err error) bool
}

// DSN converts a configured location (file path or connection string) into
// the data source name handed to sql.Open.
func (d Driver) DSN(location string) string {
	if d.dsn == nil {
		return location
	}
	return d.dsn(location)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Driver) Placeholder(n int) string {
	if d.placeholder == nil {
		return "?"
	}
	return d.placeholder(n)
}

// IsTransient reports whether err from this driver is a connection-class
// failure.
func (d Driver) IsTransient(err error) bool {
	if d.transient == nil {
		return false
	}
	return d.transient(err)
}

// DefaultDriver is the file-backed driver used when none is configured.
const DefaultDriver = "sqlite3"

var drivers = map[string]Driver{
	"sqlite3": {
		Name:       "sqlite3",
		FileBacked: true,
		dsn:        sqliteDSN,
		transient: func(err error) bool {
			var serr sqlite3.Error
			if !errors.As(err, &serr) {
				return false
			}
			switch serr.Code {
			case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
				return true
			}
			return false
		},
	},
	"pgx": {
		Name:        "pgx",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	},
	"mysql": {
		Name: "mysql",
		transient: func(err error) bool {
			if errors.Is(err, mysql.ErrInvalidConn) {
				return true
			}
			var merr *mysql.MySQLError
			if errors.As(err, &merr) {
				// 1205 lock wait timeout, 1213 deadlock
				return merr.Number == 1205 || merr.Number == 1213
			}
			return false
		},
	},
}

// LookupDriver returns the registered driver with the given name. An empty
// name selects DefaultDriver.
func LookupDriver(name string) (Driver, error) {
	if name == "" {
		name = DefaultDriver
	}
	d, ok := drivers[name]
	if !ok {
		return Driver{}, linkerrors.Newf(linkerrors.ErrorTypeConfig, "unknown source driver %q", name).
			WithDetail("available", DriverNames())
	}
	return d, nil
}

// DriverNames lists the registered driver names in sorted order.
func DriverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sqliteDSN opens the file read-only so a poll can never create or modify
// the source database.
func sqliteDSN(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_busy_timeout", "5000")
	u.RawQuery = q.Encode()
	return u.String()
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return linkerrors.Wrap(err, linkerrors.ErrorTypeConnection, "source file not accessible").
			WithDetail("path", path)
	}
	if info.IsDir() {
		return linkerrors.New(linkerrors.ErrorTypeConnection, fmt.Sprintf("source path %s is a directory", path))
	}
	return nil
}
