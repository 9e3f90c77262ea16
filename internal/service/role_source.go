// role_source.go — источники записей о ролях пользователя.
//
// Источник выбирается AC_ROLE_SOURCE:
//   - postgres — таблица user_roles
//   - keycloak — группы пользователя в realm, отображённые на роли через AC_ROLE_*_GROUPS
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/keycloak"
	"github.com/bigkaa/memberhub/access-module/internal/repository"
)

// RoleRecordSource — внешнее хранилище назначенных ролей.
type RoleRecordSource interface {
	// ListUserRoles возвращает записи о ролях пользователя.
	// Пустой срез — у пользователя нет записей.
	ListUserRoles(ctx context.Context, userID string) ([]model.UserRole, error)
}

// PostgresRoleSource читает роли из таблицы user_roles.
type PostgresRoleSource struct {
	repo repository.UserRoleRepository
}

// NewPostgresRoleSource создаёт источник ролей поверх репозитория.
func NewPostgresRoleSource(repo repository.UserRoleRepository) *PostgresRoleSource {
	return &PostgresRoleSource{repo: repo}
}

// ListUserRoles реализует RoleRecordSource.
func (s *PostgresRoleSource) ListUserRoles(ctx context.Context, userID string) ([]model.UserRole, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// GroupsClient — часть Keycloak Admin API, нужная источнику ролей.
type GroupsClient interface {
	UserGroups(ctx context.Context, userID string) ([]keycloak.Group, error)
}

// KeycloakRoleSource строит записи о ролях из групп пользователя в Keycloak.
type KeycloakRoleSource struct {
	client     GroupsClient
	groupRoles map[rbac.Role][]string
}

// NewKeycloakRoleSource создаёт источник ролей на основе групп Keycloak.
// groupRoles — какие группы (имя или путь) дают какую роль.
func NewKeycloakRoleSource(client GroupsClient, groupRoles map[rbac.Role][]string) *KeycloakRoleSource {
	return &KeycloakRoleSource{client: client, groupRoles: groupRoles}
}

// ListUserRoles реализует RoleRecordSource.
// Пользователь, которого Keycloak не знает, даёт ErrUserUnknown.
func (s *KeycloakRoleSource) ListUserRoles(ctx context.Context, userID string) ([]model.UserRole, error) {
	groups, err := s.client.UserGroups(ctx, userID)
	if err != nil {
		if errors.Is(err, keycloak.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserUnknown, userID)
		}
		return nil, fmt.Errorf("ошибка получения групп пользователя: %w", err)
	}

	// Группа сопоставляется и по имени, и по полному пути:
	// для вложенных групп с одинаковыми именами в AC_ROLE_*_GROUPS указывается путь.
	names := make([]string, 0, 2*len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
		if g.Path != "" {
			names = append(names, g.Path)
		}
	}

	roles := rbac.MapGroupsToRoles(names, s.groupRoles)
	records := make([]model.UserRole, 0, roles.Len())
	for _, r := range roles.Slice() {
		records = append(records, model.UserRole{UserID: userID, Role: string(r)})
	}
	return records, nil
}
