package gate

import "github.com/bigkaa/memberhub/access-module/internal/domain/rbac"

// State — состояние шлюза доступа.
type State int

const (
	// StateAuthChecking — сессия ещё не проверена.
	StateAuthChecking State = iota
	// StateLoading — сессия есть, роли загружаются впервые.
	StateLoading
	// StateAuthorized — текущая вкладка разрешена.
	StateAuthorized
	// StateDenied — доступ к текущему маршруту закрыт.
	StateDenied
	// StateUnauthenticated — сессии нет, пользователь отправлен на /login.
	StateUnauthenticated
)

var stateNames = map[State]string{
	StateAuthChecking:    "auth_checking",
	StateLoading:         "loading",
	StateAuthorized:      "authorized",
	StateDenied:          "denied",
	StateUnauthenticated: "unauthenticated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText — состояние в JSON API отдаётся строкой.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind — тип события аутентификации.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Session — подтверждённая сессия пользователя.
type Session struct {
	UserID string
}

// AuthEvent — изменение состояния аутентификации.
// Session == nil означает, что сессии после события нет.
type AuthEvent struct {
	Kind    EventKind
	Session *Session
}

// Outcome — итог проверки навигации.
type Outcome string

const (
	// OutcomeAllow — переход разрешён.
	OutcomeAllow Outcome = "allow"
	// OutcomeRedirect — перейти на Decision.Path вместо запрошенного маршрута.
	OutcomeRedirect Outcome = "redirect"
	// OutcomePending — роли загружаются, показать экран ожидания.
	OutcomePending Outcome = "pending"
	// OutcomeStay — запрос отклонён, маршрут не меняется.
	OutcomeStay Outcome = "stay"
	// OutcomeUnavailable — роли не подтверждены (загрузка не удалась).
	OutcomeUnavailable Outcome = "unavailable"
)

// Decision — результат Navigate / RequestTab.
type Decision struct {
	Outcome Outcome  `json:"outcome"`
	Path    string   `json:"path,omitempty"`
	Tab     rbac.Tab `json:"tab,omitempty"`
}

// Snapshot — согласованное состояние шлюза и кэша ролей.
type Snapshot struct {
	State   State
	Tab     rbac.Tab
	Route   string
	UserID  string
	Roles   rbac.RoleSet
	Role    *rbac.Role
	Loading bool
	Err     error
}
