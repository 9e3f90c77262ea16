package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/keycloak"
)

type fakeGroupsClient struct {
	groups []keycloak.Group
	err    error
}

func (f *fakeGroupsClient) UserGroups(context.Context, string) ([]keycloak.Group, error) {
	return f.groups, f.err
}

var testGroupRoles = map[rbac.Role][]string{
	rbac.RoleAdmin:     {"memberhub-admins"},
	rbac.RoleCollector: {"memberhub-collectors"},
	rbac.RoleMember:    {"memberhub-members"},
}

func TestKeycloakRoleSource_MapsGroups(t *testing.T) {
	src := NewKeycloakRoleSource(&fakeGroupsClient{groups: []keycloak.Group{
		{ID: "g1", Name: "memberhub-collectors", Path: "/memberhub-collectors"},
		{ID: "g2", Name: "unrelated", Path: "/unrelated"},
	}}, testGroupRoles)

	recs, err := src.ListUserRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListUserRoles() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Role != "collector" || recs[0].UserID != "u1" {
		t.Errorf("записи = %+v, ожидается одна запись collector", recs)
	}
}

func TestKeycloakRoleSource_MapsNestedGroupByPath(t *testing.T) {
	roles := map[rbac.Role][]string{
		rbac.RoleAdmin:  {"/staff/admins"},
		rbac.RoleMember: {"memberhub-members"},
	}
	src := NewKeycloakRoleSource(&fakeGroupsClient{groups: []keycloak.Group{
		{ID: "g1", Name: "admins", Path: "/staff/admins"},
		{ID: "g2", Name: "admins", Path: "/guests/admins"},
		{ID: "g3", Name: "memberhub-members", Path: "/memberhub-members"},
	}}, roles)

	recs, err := src.ListUserRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListUserRoles() error = %v", err)
	}
	got := map[string]bool{}
	for _, r := range recs {
		got[r.Role] = true
	}
	if len(recs) != 2 || !got["admin"] || !got["member"] {
		t.Errorf("записи = %+v, ожидаются admin и member без повторов", recs)
	}
}

func TestKeycloakRoleSource_NoGroups(t *testing.T) {
	src := NewKeycloakRoleSource(&fakeGroupsClient{}, testGroupRoles)

	recs, err := src.ListUserRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListUserRoles() error = %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("записи = %v, ожидается пустой не-nil срез", recs)
	}
}

func TestKeycloakRoleSource_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantUnknown bool
	}{
		{"пользователь не найден", fmt.Errorf("UserGroups: %w", keycloak.ErrNotFound), true},
		{"сбой Keycloak", errors.New("HTTP 502"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewKeycloakRoleSource(&fakeGroupsClient{err: tt.err}, testGroupRoles)

			_, err := src.ListUserRoles(context.Background(), "u1")
			if err == nil {
				t.Fatal("ожидается ошибка")
			}
			if got := errors.Is(err, ErrUserUnknown); got != tt.wantUnknown {
				t.Errorf("errors.Is(ErrUserUnknown) = %v, хотели %v", got, tt.wantUnknown)
			}
		})
	}
}

type fakeUserRoleRepo struct {
	byUser map[string][]model.UserRole
}

func (f *fakeUserRoleRepo) ListByUserID(_ context.Context, userID string) ([]model.UserRole, error) {
	if recs, ok := f.byUser[userID]; ok {
		return recs, nil
	}
	return []model.UserRole{}, nil
}

func (f *fakeUserRoleRepo) CountByRole(context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func TestPostgresRoleSource(t *testing.T) {
	src := NewPostgresRoleSource(&fakeUserRoleRepo{byUser: map[string][]model.UserRole{
		"u1": records("u1", "admin", "member"),
	}})

	recs, err := src.ListUserRoles(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListUserRoles() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("записей = %d, ожидается 2", len(recs))
	}

	recs, _ = src.ListUserRoles(context.Background(), "u2")
	if len(recs) != 0 {
		t.Errorf("записей для u2 = %d, ожидается 0", len(recs))
	}
}
