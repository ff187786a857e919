// Package source reads order records from one business unit's database.
//
// Every call opens its own connection and closes it before returning, so no
// connection is held between poll cycles: other programs keep exclusive
// locks on the source files while they write.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// Order is one row of the orders table. It is immutable once read.
type Order struct {
	TypeCode     string
	ID           int64
	CustomerName string
}

// Table names the orders table and its columns.
type Table struct {
	Name           string
	IDColumn       string
	TypeColumn     string
	CustomerColumn string
}

// DefaultTable is the customer order table layout of the accounting
// databases FactuLink was written for.
func DefaultTable() Table {
	return Table{
		Name:           "F_PCL",
		IDColumn:       "CODPCL",
		TypeColumn:     "TIPPCL",
		CustomerColumn: "CNOPCL",
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every name is a plain SQL identifier. Names are
// interpolated into queries, so anything else is refused.
func (t Table) Validate() error {
	for field, value := range map[string]string{
		"table":           t.Name,
		"id_column":       t.IDColumn,
		"type_column":     t.TypeColumn,
		"customer_column": t.CustomerColumn,
	} {
		if !identifierRe.MatchString(value) {
			return linkerrors.Newf(linkerrors.ErrorTypeValidation, "invalid %s identifier %q", field, value)
		}
	}
	return nil
}

// Connector runs read-only queries against a single source.
type Connector struct {
	business string
	location string
	driver   Driver
	table    Table
	logger   *zap.Logger

	maxIDQuery     string
	allOrdersQuery string
	afterQuery     string
}

// NewConnector creates a connector for the source of the given business.
// location is a file path for file-backed drivers and a DSN otherwise.
func NewConnector(business, location string, driver Driver, table Table, logger *zap.Logger) (*Connector, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if location == "" {
		return nil, linkerrors.New(linkerrors.ErrorTypeConfig, "source location is required").
			WithDetail("business", business)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	selectCols := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		table.TypeColumn, table.IDColumn, table.CustomerColumn, table.Name)

	return &Connector{
		business: business,
		location: location,
		driver:   driver,
		table:    table,
		logger:   logger,

		maxIDQuery:     fmt.Sprintf("SELECT MAX(%s) FROM %s", table.IDColumn, table.Name),
		allOrdersQuery: selectCols + " ORDER BY " + table.IDColumn + " ASC",
		afterQuery: selectCols + " WHERE " + table.IDColumn + " > " + driver.Placeholder(1) +
			" ORDER BY " + table.IDColumn + " ASC",
	}, nil
}

// Business returns the business name the connector reads for.
func (c *Connector) Business() string {
	return c.business
}

// Location returns the configured file path or DSN.
func (c *Connector) Location() string {
	return c.location
}

// connect opens a live connection. The caller must close the returned handle.
func (c *Connector) connect(ctx context.Context) (*sql.DB, error) {
	if c.driver.FileBacked {
		if err := checkFile(c.location); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(c.driver.Name, c.driver.DSN(c.location))
	if err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConnection, "failed to open source").
			WithDetail("business", c.business)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConnection, "failed to connect to source").
			WithDetail("business", c.business)
	}
	return db, nil
}

// withConn runs fn on a fresh connection and closes it afterwards,
// whatever fn returns.
func (c *Connector) withConn(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			c.logger.Warn("failed to close source connection", zap.Error(cerr))
		}
	}()
	return fn(db)
}

// classify turns a driver error raised after connecting into a connection
// or query error.
func (c *Connector) classify(err error, message string) error {
	errType := linkerrors.ErrorTypeQuery
	if c.driver.IsTransient(err) {
		errType = linkerrors.ErrorTypeConnection
	}
	return linkerrors.Wrap(err, errType, message).WithDetail("business", c.business)
}

// MaxID returns the highest order identifier present. ok is false when the
// table has no rows.
func (c *Connector) MaxID(ctx context.Context) (id int64, ok bool, err error) {
	err = c.withConn(ctx, func(db *sql.DB) error {
		var maxID sql.NullInt64
		if err := db.QueryRowContext(ctx, c.maxIDQuery).Scan(&maxID); err != nil {
			return c.classify(err, "failed to query max order id")
		}
		id, ok = maxID.Int64, maxID.Valid
		return nil
	})
	return id, ok, err
}

// AllOrders returns every order in ascending identifier order.
func (c *Connector) AllOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := c.withConn(ctx, func(db *sql.DB) error {
		var err error
		orders, err = c.query(ctx, db, c.allOrdersQuery)
		return err
	})
	return orders, err
}

// OrdersAfter returns the orders whose identifier is strictly greater than
// id, in ascending identifier order.
func (c *Connector) OrdersAfter(ctx context.Context, id int64) ([]Order, error) {
	var orders []Order
	err := c.withConn(ctx, func(db *sql.DB) error {
		var err error
		orders, err = c.query(ctx, db, c.afterQuery, id)
		return err
	})
	return orders, err
}

func (c *Connector) query(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.classify(err, "failed to query orders")
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			typeCode sql.NullString
			id       int64
			customer sql.NullString
		)
		if err := rows.Scan(&typeCode, &id, &customer); err != nil {
			return nil, c.classify(err, "failed to scan order row")
		}
		orders = append(orders, Order{
			TypeCode:     strings.TrimSpace(typeCode.String),
			ID:           id,
			CustomerName: customer.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, c.classify(err, "error iterating order rows")
	}
	return orders, nil
}
