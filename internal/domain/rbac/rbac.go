// Пакет rbac — роли пользователей дашборда и политика доступа к вкладкам.
// Иерархия ролей плоская и фиксированная: admin > collector > member.
// Функции пакета чистые: без I/O и без состояния.
package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// Role — уровень доступа пользователя.
type Role string

// Роли в порядке возрастания привилегий.
const (
	RoleMember    Role = "member"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

// ErrUnknownRole — значение не входит в закрытый набор ролей.
var ErrUnknownRole = errors.New("неизвестная роль: допустимые значения — admin, collector, member")

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[Role]int{
	RoleMember:    1,
	RoleCollector: 2,
	RoleAdmin:     3,
}

// ParseRole преобразует строку из хранилища в Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	return Role(role).Valid()
}

// Valid сообщает, входит ли роль в закрытый набор.
func (r Role) Valid() bool {
	_, ok := roleWeight[r]
	return ok
}

// String реализует fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// RoleSet — набор ролей пользователя в текущей сессии.
// nil означает «роли ещё не загружены»; пустой не-nil набор — «загружены, ролей нет».
type RoleSet map[Role]struct{}

// NewRoleSet создаёт загруженный набор (не nil даже без аргументов).
// Недопустимые значения игнорируются.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if r.Valid() {
			s[r] = struct{}{}
		}
	}
	return s
}

// Loaded сообщает, загружен ли набор.
func (s RoleSet) Loaded() bool {
	return s != nil
}

// Has проверяет наличие роли. Для nil-набора всегда false.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// Len возвращает количество ролей.
func (s RoleSet) Len() int {
	return len(s)
}

// Slice возвращает роли, упорядоченные по убыванию привилегий.
// Для nil-набора возвращает nil.
func (s RoleSet) Slice() []Role {
	if s == nil {
		return nil
	}
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return roleWeight[out[i]] > roleWeight[out[j]]
	})
	return out
}

// Strings — то же, что Slice, но строками (для JSON и логов).
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	if roles == nil {
		return nil
	}
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Clone возвращает независимую копию. nil остаётся nil.
func (s RoleSet) Clone() RoleSet {
	if s == nil {
		return nil
	}
	c := make(RoleSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Equal сравнивает наборы с учётом различия nil / пустой.
func (s RoleSet) Equal(o RoleSet) bool {
	if (s == nil) != (o == nil) || len(s) != len(o) {
		return false
	}
	for r := range s {
		if !o.Has(r) {
			return false
		}
	}
	return true
}

// Primary возвращает роль с максимальными привилегиями.
// Для пустого или nil-набора возвращает "", false.
func (s RoleSet) Primary() (Role, bool) {
	var best Role
	for r := range s {
		if roleWeight[r] > roleWeight[best] {
			best = r
		}
	}
	return best, best != ""
}

// HasRole — true, если role входит в набор; false для nil-набора.
func HasRole(set RoleSet, role Role) bool {
	return set.Has(role)
}

// HasAnyRole — true, если в наборе есть хотя бы одна из ролей.
func HasAnyRole(set RoleSet, roles ...Role) bool {
	for _, r := range roles {
		if HasRole(set, r) {
			return true
		}
	}
	return false
}

// PrimaryRole вычисляет основную роль по фиксированному приоритету admin > collector > member.
func PrimaryRole(set RoleSet) (Role, bool) {
	return set.Primary()
}

// MapGroupsToRoles определяет роли пользователя по его группам IdP.
// Группа может давать несколько ролей; пустой результат — не-nil пустой набор.
func MapGroupsToRoles(groups []string, groupRoles map[Role][]string) RoleSet {
	byGroup := make(map[string][]Role)
	for role, gs := range groupRoles {
		for _, g := range gs {
			byGroup[g] = append(byGroup[g], role)
		}
	}

	set := NewRoleSet()
	for _, g := range groups {
		for _, r := range byGroup[g] {
			set[r] = struct{}{}
		}
	}
	return set
}
