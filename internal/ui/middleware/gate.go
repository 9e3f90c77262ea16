// gate.go — проверка доступа к вкладке дашборда через шлюз доступа сессии.
package middleware

import (
	"context"
	"net/http"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
)

// ContextKeyDecision — решение шлюза для текущего запроса.
const ContextKeyDecision contextKey = "gate_decision"

// TabGuard пропускает запрос к вкладке только при решении allow.
// pending — роли ещё загружаются, unavailable — роли получить не удалось.
// Оба обработчика получают решение через DecisionFromContext.
// Должен использоваться ПОСЛЕ UIAuth.Middleware().
func TabGuard(pending, unavailable http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			srv := ServerSessionFromContext(r.Context())
			if srv == nil {
				http.Redirect(w, r, rbac.LoginURL(r.URL.Path), http.StatusFound)
				return
			}

			decision := srv.Gate.Navigate(r.URL.Path)
			ctx := context.WithValue(r.Context(), ContextKeyDecision, decision)
			r = r.WithContext(ctx)

			switch decision.Outcome {
			case gate.OutcomeAllow:
				next.ServeHTTP(w, r)
			case gate.OutcomeRedirect:
				http.Redirect(w, r, decision.Path, http.StatusFound)
			case gate.OutcomePending:
				pending.ServeHTTP(w, r)
			default:
				unavailable.ServeHTTP(w, r)
			}
		})
	}
}

// DecisionFromContext возвращает решение шлюза для запроса.
func DecisionFromContext(ctx context.Context) (gate.Decision, bool) {
	d, ok := ctx.Value(ContextKeyDecision).(gate.Decision)
	return d, ok
}
