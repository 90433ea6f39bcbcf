// Package dbcontainer поднимает временный PostgreSQL в контейнере для интеграционных тестов.
// Нужен доступный Docker (или podman с DOCKER_HOST). Без него тесты пропускаются.
package dbcontainer

import (
	"context"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"kidride-backend/internal/db"
)

const postgresVersion = "16"

// New запускает контейнер и подключается к нему. dfrs нужно вызвать в defer
// даже при ok == false.
func New(ctx context.Context, timeout time.Duration, t *testing.T) (
	database *gorm.DB,
	dfrs []func(),
	ok bool,
) {
	if testing.Short() {
		t.Skip("интеграционный тест с PostgreSQL пропущен в режиме -short")
	}

	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pg, err := sqltestutil.StartPostgresContainer(startCtx, postgresVersion)
	if err != nil {
		t.Skipf("Docker недоступен, PostgreSQL не запущен: %v", err)
	}
	dfrs = append(dfrs, func() {
		assert.NoError(t, pg.Shutdown(ctx), "не удалось остановить контейнер")
	})

	// База принимает подключения не сразу после старта контейнера
	for {
		database, err = db.Open(pg.ConnectionString())
		if err == nil {
			break
		}
		if startCtx.Err() != nil {
			ok = assert.NoError(t, err, "не удалось подключиться к тестовой базе")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	dfrs = append(dfrs, func() {
		if sqlDB, err := database.DB(); err == nil {
			assert.NoError(t, sqlDB.Close(), "не удалось закрыть пул соединений")
		}
	})
	return database, dfrs, true
}
