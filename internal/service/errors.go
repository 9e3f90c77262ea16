// errors.go — ошибки сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionChanged — сессия, для которой шла загрузка, уже неактуальна
	// (выход или смена пользователя). Результат такой загрузки отброшен.
	ErrSessionChanged = errors.New("сессия изменилась, результат загрузки ролей отброшен")
	// ErrUserUnknown — источник ролей не знает пользователя. Повторять бессмысленно.
	ErrUserUnknown = errors.New("пользователь не найден в источнике ролей")
)

// FetchError — загрузка ролей не удалась после всех попыток.
type FetchError struct {
	UserID   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("загрузка ролей пользователя %s не удалась после %d попыток: %v", e.UserID, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
