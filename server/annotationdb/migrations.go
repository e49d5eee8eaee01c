package annotationdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE region(
			id INTEGER PRIMARY KEY,
			parent_id INT NOT NULL,
			image TEXT NOT NULL,
			name TEXT NOT NULL,
			class TEXT NOT NULL,
			confidence REAL NOT NULL,
			merged INT NOT NULL,
			roi TEXT,
			created_at INT NOT NULL
		);

		CREATE INDEX idx_region_parent_id ON region(parent_id);
		CREATE INDEX idx_region_image ON region(image);
	`))

	return migs
}
