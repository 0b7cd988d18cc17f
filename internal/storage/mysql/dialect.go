// Package mysql wires MySQL (github.com/go-sql-driver/mysql) into the
// storage factory as a sqlstore.Dialect.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/mysql/ddl"
	"dbtidy/internal/storage/sqlgen"
)

// Dialect is the MySQL sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Kind() string       { return "mysql" }
func (Dialect) DriverName() string { return "mysql" }
func (Dialect) AddKeyword() string { return "ADD COLUMN" }

func (Dialect) Quote(id string) string      { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }
func (Dialect) Placeholder(int) string      { return "?" }
func (Dialect) TextCast(expr string) string { return "CAST(" + expr + " AS CHAR)" }
func (Dialect) Trim(expr string) string     { return "TRIM(" + expr + ")" }
func (Dialect) Limit(q string, n int) string {
	return fmt.Sprintf("%s LIMIT %d", q, n)
}

func (Dialect) MapType(kind string) string { return ddl.MapType(kind) }

// DSN parses endpoint as a driver DSN, injects the credential and enables
// time parsing.
func (Dialect) DSN(endpoint, credential string) (string, error) {
	cfg, err := mysql.ParseDSN(endpoint)
	if err != nil {
		return "", err
	}
	if credential != "" {
		user, pass := storage.SplitCredential(credential)
		if user != "" {
			cfg.User = user
		}
		cfg.Passwd = pass
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// ColumnsQuery lists columns from information_schema. Unqualified tables
// resolve against the connection's current database.
func (Dialect) ColumnsQuery(table string) (string, []any) {
	schema, name := sqlgen.SplitFQN(table)
	var schemaArg any
	if schema != "" {
		schemaArg = schema
	}
	const q = "SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS " +
		"WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
	return q, []any{schemaArg, name}
}

// Classify maps MySQL error numbers onto storage errors.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return storage.Transient(err)
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case 1146:
		return fmt.Errorf("%w: %w", storage.ErrTableMissing, err)
	case 1054, 1091:
		return fmt.Errorf("%w: %w", storage.ErrColumnMissing, err)
	case 1060:
		return fmt.Errorf("%w: %w", storage.ErrColumnExists, err)
	case 1044, 1045, 1142, 1143:
		return fmt.Errorf("%w: %w", storage.ErrPermission, err)
	case 1205, 1213, 2006, 2013:
		return storage.Transient(err)
	}
	return err
}

// Bind renders documents as JSON text.
func (Dialect) Bind(v any) any {
	switch t := v.(type) {
	case storage.JSON:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return v
	}
}

// Normalize converts text-protocol byte slices by declared column type.
func (Dialect) Normalize(ct *sql.ColumnType, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "JSON":
		return storage.JSON(b)
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}
