package lucia

import (
	"embed"
	"io/fs"

	"github.com/juho05/log"
)

//go:embed migrations/postgres
var postgresMigrationsFS embed.FS

//go:embed migrations/sqlite
var sqliteMigrationsFS embed.FS

// Migration sources for the canonical table shapes. They are applied by the
// backend Connect functions when AUTO_MIGRATE is enabled and by the test
// harness; no adapter operation touches them.
var (
	PostgresMigrationsFS fs.FS
	SQLiteMigrationsFS   fs.FS
)

func init() {
	var err error
	PostgresMigrationsFS, err = fs.Sub(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		log.Fatal(err)
	}
	SQLiteMigrationsFS, err = fs.Sub(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		log.Fatal(err)
	}
}
