// Пакет model — доменные модели Access Module.
package model

import "time"

// UserRole — запись о назначенной пользователю роли.
// Хранится в таблице user_roles; модуль только читает её.
type UserRole struct {
	// ID — UUID записи
	ID string `db:"id"`
	// UserID — идентификатор пользователя в IdP (sub)
	UserID string `db:"user_id"`
	// Role — значение роли как оно лежит в хранилище (admin, collector, member).
	// Может содержать недопустимое значение: проверка выполняется синхронизатором.
	Role string `db:"role"`
	// CreatedAt — время назначения роли
	CreatedAt time.Time `db:"created_at"`
}

// Member — пользователь дашборда, прошедший аутентификацию.
// Не хранится в БД — формируется из claims токена.
type Member struct {
	// ID — идентификатор пользователя в IdP (sub)
	ID string `json:"id"`
	// Username — preferred_username
	Username string `json:"username"`
	// Email — адрес электронной почты
	Email string `json:"email,omitempty"`
	// Name — отображаемое имя
	Name string `json:"name,omitempty"`
}
