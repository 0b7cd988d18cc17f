// Package all wires every built-in storage backend into the storage
// factory. Import it for side effects only:
//
//	import _ "dbtidy/internal/storage/all"
//
// after which storage.New accepts Kind "postgres", "sqlite", "mysql" and
// "mssql".
package all

import (
	_ "dbtidy/internal/storage/mssql"
	_ "dbtidy/internal/storage/mysql"
	_ "dbtidy/internal/storage/postgres"
	_ "dbtidy/internal/storage/sqlite"
)
