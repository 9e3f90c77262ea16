// Пакет dbtest — PostgreSQL в контейнере для интеграционных тестов.
// Тесты запускаются только при TEST_INTEGRATION=1.
package dbtest

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/memberhub/access-module/internal/config"
)

const (
	image    = "docker.io/postgres:17-alpine"
	dbName   = "memberhub_test"
	user     = "memberhub"
	password = "test-password"
)

// Start поднимает чистый PostgreSQL на время теста и возвращает конфигурацию
// для подключения к нему. Без TEST_INTEGRATION тест пропускается.
func Start(t *testing.T) *config.Config {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase(dbName),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		// Сообщение выводится дважды: после initdb и после перезапуска
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Port контейнера: %v", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Port контейнера %q: %v", port.Port(), err)
	}

	return &config.Config{
		RoleSource: config.RoleSourcePostgres,
		DBHost:     host,
		DBPort:     portNum,
		DBName:     dbName,
		DBUser:     user,
		DBPassword: password,
		DBSSLMode:  "disable",
	}
}
