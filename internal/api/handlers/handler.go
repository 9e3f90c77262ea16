// Пакет handlers — обработчики JSON API Access Module.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
)

// RoleResolver — получение подтверждённого набора ролей пользователя.
type RoleResolver interface {
	Resolve(ctx context.Context, userID string) (rbac.RoleSet, error)
}

// APIHandler — обработчик JSON API: служебные endpoints и проверка доступа.
type APIHandler struct {
	*HealthHandler
	resolver RoleResolver
	logger   *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(health *HealthHandler, resolver RoleResolver, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		HealthHandler: health,
		resolver:      resolver,
		logger:        logger.With(slog.String("component", "api")),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
