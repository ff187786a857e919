package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
	"github.com/stretchr/testify/require"
)

// Row is one order row of the default F_PCL layout.
type Row struct {
	TypeCode string
	ID       int64
	Customer string
}

// OrdersDB is a sqlite orders database on disk with the default table
// layout.
type OrdersDB struct {
	t    *testing.T
	Path string
}

// CreateOrdersDB creates dir/name with an empty F_PCL table and the given
// rows.
func CreateOrdersDB(t *testing.T, dir, name string, rows ...Row) *OrdersDB {
	t.Helper()

	db := &OrdersDB{t: t, Path: filepath.Join(dir, name)}
	db.exec(`CREATE TABLE F_PCL (TIPPCL TEXT, CODPCL INTEGER PRIMARY KEY, CNOPCL TEXT)`)
	db.Insert(rows...)
	return db
}

// Insert adds rows. Each call opens and closes its own connection, like a
// separate accounting application would.
func (d *OrdersDB) Insert(rows ...Row) {
	d.t.Helper()
	for _, r := range rows {
		d.exec(`INSERT INTO F_PCL (TIPPCL, CODPCL, CNOPCL) VALUES (?, ?, ?)`, r.TypeCode, r.ID, r.Customer)
	}
}

// Exec runs an arbitrary statement, for layouts the helpers do not cover.
func (d *OrdersDB) Exec(query string, args ...interface{}) {
	d.t.Helper()
	d.exec(query, args...)
}

func (d *OrdersDB) exec(query string, args ...interface{}) {
	d.t.Helper()

	conn, err := sql.Open("sqlite3", d.Path)
	require.NoError(d.t, err)
	defer conn.Close()

	_, err = conn.Exec(query, args...)
	require.NoError(d.t, err)
}

// Installation is a data directory holding one orders database per
// business and the .env file describing them.
type Installation struct {
	DataPath string
	EnvFile  string
	DBs      map[string]*OrdersDB
}

// Business describes one business of an Installation.
type Business struct {
	Name   string
	Code   string
	Serial string
	Rows   []Row
}

// NewInstallation lays out the databases of businesses for exercise and
// writes the .env file. The first business is the main one. extra lines
// are appended to the .env file verbatim.
func NewInstallation(t *testing.T, exercise string, businesses []Business, extra ...string) *Installation {
	t.Helper()
	require.NotEmpty(t, businesses)

	root := t.TempDir()
	inst := &Installation{
		DataPath: filepath.Join(root, "data"),
		EnvFile:  filepath.Join(root, ".env"),
		DBs:      make(map[string]*OrdersDB, len(businesses)),
	}
	require.NoError(t, os.Mkdir(inst.DataPath, 0o755))

	codes := make([]string, 0, len(businesses))
	serials := make([]string, 0, len(businesses))
	for _, b := range businesses {
		inst.DBs[b.Name] = CreateOrdersDB(t, inst.DataPath, b.Code+exercise+".db", b.Rows...)
		codes = append(codes, b.Name+":"+b.Code)
		if b.Serial != "" {
			serials = append(serials, b.Name+":"+b.Serial)
		}
	}

	lines := []string{
		"DATA_PATH=" + inst.DataPath,
		"EXERCISE=" + exercise,
		"BUSINESS_CODE=" + strings.Join(codes, ","),
		"MAIN_BUSINESS=" + businesses[0].Name,
	}
	if len(serials) > 0 {
		lines = append(lines, "BUSINESS_SERIALS="+strings.Join(serials, ","))
	}
	lines = append(lines, extra...)

	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(inst.EnvFile, []byte(content), 0o600))
	return inst
}

// DB returns the database of business.
func (i *Installation) DB(business string) *OrdersDB {
	db, ok := i.DBs[business]
	if !ok {
		panic(fmt.Sprintf("testutil: unknown business %q", business))
	}
	return db
}
