package model

// Severity — уровень уведомления пользователю.
type Severity string

const (
	SeverityInfo        Severity = "info"
	SeverityDestructive Severity = "destructive"
)

// Ключи уведомлений. Тексты лежат в локалях UI (notify.*).
const (
	NotifyRolesFetchFailed  = "roles_fetch_failed"
	NotifyAccessDenied      = "access_denied"
	NotifyRolesLoading      = "roles_loading"
	NotifyAccessUnavailable = "access_unavailable"
	NotifySignedOut         = "signed_out"
	NotifyAuthFailed        = "auth_failed"
)

// Notification — уведомление для показа пользователю (toast).
// Ядро только формирует его; показ — забота UI.
type Notification struct {
	// Key — ключ сообщения, из него строятся notify.<key>.title и notify.<key>.description
	Key      string   `json:"key"`
	Severity Severity `json:"severity"`
}
