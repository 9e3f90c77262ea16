package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "access_module_active_sessions",
	Help: "Число активных сессий дашборда",
})

// RegistryConfig — ограничения реестра сессий.
type RegistryConfig struct {
	// Size — максимум одновременных сессий (AC_SESSION_CACHE_SIZE)
	Size int
	// IdleTTL — время жизни сессии без обращений (AC_SESSION_IDLE_TTL)
	IdleTTL time.Duration
}

// Registry — реестр серверных сессий.
// При вытеснении (переполнение или простой) сессия закрывается:
// поллер останавливается, SSE-подписки закрываются.
type Registry struct {
	lru    *expirable.LRU[string, *Session]
	deps   Deps
	ctx    context.Context
	logger *slog.Logger
}

// NewRegistry создаёт реестр. ctx ограничивает фоновую работу всех сессий.
func NewRegistry(ctx context.Context, cfg RegistryConfig, deps Deps) *Registry {
	r := &Registry{
		deps:   deps,
		ctx:    ctx,
		logger: deps.Logger.With(slog.String("component", "session_registry")),
	}
	r.lru = expirable.NewLRU[string, *Session](cfg.Size, r.onEvict, cfg.IdleTTL)
	return r
}

func (r *Registry) onEvict(id string, s *Session) {
	activeSessions.Dec()
	r.logger.Debug("Сессия закрыта",
		slog.String("session_id", shortID(id)),
		slog.String("user_id", s.Member().ID),
	)
	// onEvict вызывается под блокировкой LRU, закрытие ждёт фоновые горутины.
	go s.close()
}

// Open создаёт сессию для вошедшего пользователя и запускает проверку доступа к path.
func (r *Registry) Open(member model.Member, path string) *Session {
	s := newSession(uuid.New().String(), member, r.deps)
	r.lru.Add(s.ID, s)
	activeSessions.Inc()

	r.logger.Info("Сессия открыта",
		slog.String("session_id", shortID(s.ID)),
		slog.String("user_id", member.ID),
	)
	s.start(r.ctx, path)
	return s
}

// Get возвращает сессию и продлевает её время жизни.
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.lru.Get(id)
	if !ok {
		return nil, false
	}
	r.lru.Add(id, s)
	return s, true
}

// SignIn — повторный вход в существующей сессии (возможно, другим пользователем).
func (r *Registry) SignIn(id string, member model.Member) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	s.setMember(member)
	s.Gate.HandleAuthEvent(gate.AuthEvent{
		Kind:    gate.EventSignedIn,
		Session: &gate.Session{UserID: member.ID},
	})
	return true
}

// TokenRefreshed передаёт шлюзу результат обновления токена.
// member == nil — после обновления сессии нет.
func (r *Registry) TokenRefreshed(id string, member *model.Member) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	ev := gate.AuthEvent{Kind: gate.EventTokenRefreshed}
	if member != nil {
		s.setMember(*member)
		ev.Session = &gate.Session{UserID: member.ID}
	}
	s.Gate.HandleAuthEvent(ev)
}

// SignOut завершает сессию: шлюз получает SIGNED_OUT, сессия удаляется из реестра.
func (r *Registry) SignOut(id string) {
	s, ok := r.lru.Peek(id)
	if !ok {
		return
	}
	s.Gate.HandleAuthEvent(gate.AuthEvent{Kind: gate.EventSignedOut})
	r.lru.Remove(id)
}

// Len возвращает число активных сессий.
func (r *Registry) Len() int {
	return r.lru.Len()
}

// Shutdown закрывает все сессии и дожидается остановки их фоновой работы.
func (r *Registry) Shutdown() {
	sessions := r.lru.Values()
	r.lru.Purge()
	for _, s := range sessions {
		s.close()
	}
}
