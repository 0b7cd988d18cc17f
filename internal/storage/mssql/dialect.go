// Package mssql wires Microsoft SQL Server (github.com/microsoft/go-mssqldb)
// into the storage factory as a sqlstore.Dialect.
package mssql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"dbtidy/internal/storage"
	"dbtidy/internal/storage/mssql/ddl"
	"dbtidy/internal/storage/sqlgen"
)

// Dialect is the SQL Server sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Kind() string       { return "mssql" }
func (Dialect) DriverName() string { return "sqlserver" }
func (Dialect) AddKeyword() string { return "ADD" }

// Quote uses bracket syntax, escaping closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func (Dialect) Quote(id string) string { return "[" + strings.ReplaceAll(id, "]", "]]") + "]" }

func (Dialect) Placeholder(n int) string    { return fmt.Sprintf("@p%d", n) }
func (Dialect) TextCast(expr string) string { return "CAST(" + expr + " AS NVARCHAR(4000))" }
func (Dialect) Trim(expr string) string     { return "LTRIM(RTRIM(" + expr + "))" }

// Limit uses OFFSET/FETCH, which requires the ORDER BY every select has.
func (Dialect) Limit(q string, n int) string {
	return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", q, n)
}

func (Dialect) MapType(kind string) string { return ddl.MapType(kind) }

// DSN injects the credential into a sqlserver:// URL or an ADO-style
// connection string and validates the result with msdsn.
func (Dialect) DSN(endpoint, credential string) (string, error) {
	dsn := strings.TrimSpace(endpoint)
	if credential != "" {
		user, pass := storage.SplitCredential(credential)
		if strings.HasPrefix(dsn, "sqlserver://") {
			u, err := url.Parse(dsn)
			if err != nil {
				return "", err
			}
			if user == "" && u.User != nil {
				user = u.User.Username()
			}
			u.User = url.UserPassword(user, pass)
			dsn = u.String()
		} else {
			dsn = strings.TrimRight(dsn, ";")
			if user != "" {
				dsn += ";user id=" + user
			}
			dsn += ";password=" + pass
		}
	}
	if _, err := msdsn.Parse(dsn); err != nil {
		return "", err
	}
	return dsn, nil
}

// ColumnsQuery lists columns from INFORMATION_SCHEMA; unqualified tables
// resolve against dbo.
func (Dialect) ColumnsQuery(table string) (string, []any) {
	schema, name := sqlgen.SplitFQN(table)
	if schema == "" {
		schema = "dbo"
	}
	const q = "SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION"
	return q, []any{schema, name}
}

// Classify maps SQL Server error numbers onto storage errors.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var me mssql.Error
	if !errors.As(err, &me) {
		return err
	}
	switch me.SQLErrorNumber() {
	case 208:
		return fmt.Errorf("%w: %w", storage.ErrTableMissing, err)
	case 207, 4924:
		return fmt.Errorf("%w: %w", storage.ErrColumnMissing, err)
	case 2705:
		return fmt.Errorf("%w: %w", storage.ErrColumnExists, err)
	case 229, 262, 18456:
		return fmt.Errorf("%w: %w", storage.ErrPermission, err)
	case 1205, 1222, 40197, 40501, 40613:
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

// Normalize renders UNIQUEIDENTIFIER and DECIMAL byte values as text.
func (Dialect) Normalize(ct *sql.ColumnType, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "UNIQUEIDENTIFIER":
		var u mssql.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return u.String()
		}
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return string(b)
	}
	return v
}
