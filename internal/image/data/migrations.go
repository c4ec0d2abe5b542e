package data

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/lk2023060901/vision-backend/internal/pkg/database"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Migrations 返回指定数据库驱动的迁移脚本
func Migrations(driver string) (fs.FS, error) {
	switch driver {
	case database.DriverPostgres:
		return fs.Sub(migrations, "migrations/postgres")
	case database.DriverSQLite:
		return fs.Sub(migrations, "migrations/sqlite")
	}
	return nil, fmt.Errorf("no migrations for driver %q", driver)
}
