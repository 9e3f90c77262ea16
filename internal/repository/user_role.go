// Пакет repository — чтение назначенных ролей из PostgreSQL (pgx, чистый SQL).
// Назначением ролей управляет внешняя система: модуль только читает user_roles.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
)

// Querier — чтение через *pgxpool.Pool, *pgx.Conn или pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// UserRoleRepository — чтение таблицы user_roles.
type UserRoleRepository interface {
	// ListByUserID возвращает записи о ролях пользователя в порядке назначения.
	// Нет записей — пустой срез, не ошибка. Значения ролей не фильтруются.
	ListByUserID(ctx context.Context, userID string) ([]model.UserRole, error)
	// CountByRole — число пользователей с каждой ролью (страница system).
	CountByRole(ctx context.Context) (map[string]int, error)
}

type userRoleRepo struct {
	db Querier
}

// NewUserRoleRepository создаёт репозиторий user_roles.
func NewUserRoleRepository(db Querier) UserRoleRepository {
	return &userRoleRepo{db: db}
}

const listUserRolesSQL = `
	SELECT id, user_id, role, created_at
	FROM user_roles
	WHERE user_id = $1
	ORDER BY created_at, role`

func (r *userRoleRepo) ListByUserID(ctx context.Context, userID string) ([]model.UserRole, error) {
	rows, err := r.db.Query(ctx, listUserRolesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ролей пользователя: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.UserRole])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ролей пользователя: %w", err)
	}
	if records == nil {
		records = []model.UserRole{}
	}
	return records, nil
}

// roleCount — строка агрегата по ролям.
type roleCount struct {
	Role  string `db:"role"`
	Users int    `db:"users"`
}

const countByRoleSQL = `
	SELECT role, COUNT(DISTINCT user_id) AS users
	FROM user_roles
	GROUP BY role`

func (r *userRoleRepo) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, countByRoleSQL)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта ролей: %w", err)
	}
	counts, err := pgx.CollectRows(rows, pgx.RowToStructByName[roleCount])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения счётчиков ролей: %w", err)
	}

	result := make(map[string]int, len(counts))
	for _, c := range counts {
		result[c.Role] = c.Users
	}
	return result, nil
}
