// Package seed builds the Northwind-style demo database that askdb answers
// questions about, and publishes it to the object store.
package seed

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	_ "modernc.org/sqlite"

	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// CreateSQLite writes data into a new SQLite file at dbPath. An existing file
// is replaced only when overwrite is set.
func CreateSQLite(ctx context.Context, dbPath string, data Dataset, overwrite bool) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := os.Stat(dbPath); err == nil {
		if !overwrite {
			return fmt.Errorf("database %q already exists", dbPath)
		}
		if err := os.Remove(dbPath); err != nil {
			return fmt.Errorf("remove existing database: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat database: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	for _, statement := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range data.Customers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customers (customer_id, company_name, contact_name, city, country) VALUES (?, ?, ?, ?, ?)`,
			c.CustomerID, c.CompanyName, c.ContactName, c.City, c.Country,
		); err != nil {
			return fmt.Errorf("insert customer %s: %w", c.CustomerID, err)
		}
	}
	for _, p := range data.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO products (product_id, product_name, category_name, unit_price, discontinued) VALUES (?, ?, ?, ?, ?)`,
			p.ProductID, p.ProductName, p.CategoryName, p.UnitPrice, p.Discontinued,
		); err != nil {
			return fmt.Errorf("insert product %d: %w", p.ProductID, err)
		}
	}
	for _, o := range data.Orders {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (order_id, customer_id, order_date, ship_country, freight) VALUES (?, ?, ?, ?, ?)`,
			o.OrderID, o.CustomerID, o.OrderDate, o.ShipCountry, o.Freight,
		); err != nil {
			return fmt.Errorf("insert order %d: %w", o.OrderID, err)
		}
	}
	for _, d := range data.OrderDetails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_details (order_id, product_id, unit_price, quantity, discount) VALUES (?, ?, ?, ?, ?)`,
			d.OrderID, d.ProductID, d.UnitPrice, d.Quantity, d.Discount,
		); err != nil {
			return fmt.Errorf("insert order detail %d/%d: %w", d.OrderID, d.ProductID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

// EncodeParquet renders every table of data as one parquet file, keyed by
// table name.
func EncodeParquet(data Dataset) (map[string][]byte, error) {
	files := map[string][]byte{}
	var err error
	if files["customers"], err = encodeRows(data.Customers); err != nil {
		return nil, fmt.Errorf("encode customers: %w", err)
	}
	if files["products"], err = encodeRows(data.Products); err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}
	if files["orders"], err = encodeRows(data.Orders); err != nil {
		return nil, fmt.Errorf("encode orders: %w", err)
	}
	if files["order_details"], err = encodeRows(data.OrderDetails); err != nil {
		return nil, fmt.Errorf("encode order_details: %w", err)
	}
	return files, nil
}

func encodeRows[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

type Published struct {
	SnapshotKey string
	ParquetKeys []string
	// ParquetViews is the value for ASKDB_DATABASE_PARQUET_VIEWS.
	ParquetViews string
}

type Publisher struct {
	Store  storage.ObjectStore
	Logger *slog.Logger
	Now    func() time.Time
}

// Publish uploads the SQLite file at dbPath as a snapshot named name, plus
// each parquet export under exports/<name>/<table>/.
func (p *Publisher) Publish(ctx context.Context, name, dbPath string, exports map[string][]byte) (Published, error) {
	if p.Store == nil {
		return Published{}, fmt.Errorf("object store is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	createdAt := now().UTC()

	snapshotKey, err := storage.BuildSnapshotKey(name, createdAt)
	if err != nil {
		return Published{}, err
	}
	file, err := os.Open(dbPath)
	if err != nil {
		return Published{}, fmt.Errorf("open database file: %w", err)
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return Published{}, fmt.Errorf("stat database file: %w", err)
	}
	if _, err := p.Store.Put(ctx, snapshotKey, file, stat.Size(), storage.PutOptions{ContentType: "application/vnd.sqlite3"}); err != nil {
		return Published{}, fmt.Errorf("upload snapshot: %w", err)
	}
	logger.InfoContext(ctx, "uploaded database snapshot", slog.String("key", snapshotKey), slog.Int64("bytes", stat.Size()))

	published := Published{SnapshotKey: snapshotKey}
	tables := make([]string, 0, len(exports))
	for table := range exports {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	views := make([]string, 0, len(tables))
	for _, table := range tables {
		prefix := path.Join("exports", name, table) + "/"
		key := prefix + fmt.Sprintf("part-%d.parquet", createdAt.Unix())
		body := exports[table]
		if _, err := p.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
			return Published{}, fmt.Errorf("upload %s export: %w", table, err)
		}
		published.ParquetKeys = append(published.ParquetKeys, key)
		views = append(views, table+"="+prefix)
		logger.InfoContext(ctx, "uploaded parquet export", slog.String("table", table), slog.String("key", key), slog.Int("bytes", len(body)))
	}
	published.ParquetViews = strings.Join(views, ",")
	return published, nil
}
