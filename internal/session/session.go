// Пакет session — серверные сессии дашборда.
//
// Каждая сессия владеет собственным набором компонентов контроля доступа:
// кэшем ролей, синхронизатором, поллером, шлюзом доступа и очередью эффектов.
// Сессии хранятся в Registry (LRU с временем жизни простоя).
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
	"github.com/bigkaa/memberhub/access-module/internal/rolestore"
	"github.com/bigkaa/memberhub/access-module/internal/service"
)

// Session — сессия пользователя дашборда.
type Session struct {
	ID        string
	CreatedAt time.Time

	Store   *rolestore.Store
	Sync    *service.RoleSynchronizer
	Poller  *service.RolePoller
	Gate    *gate.Gate
	Effects *EffectQueue

	mu     sync.RWMutex
	member model.Member

	closeOnce sync.Once
}

// Deps — общие для всех сессий зависимости.
type Deps struct {
	Source       service.RoleRecordSource
	SyncConfig   service.RoleSyncConfig
	PollInterval time.Duration
	Logger       *slog.Logger
}

// newSession собирает компоненты сессии. Шлюз ещё не запущен.
func newSession(id string, member model.Member, deps Deps) *Session {
	logger := deps.Logger.With(slog.String("session_id", shortID(id)))

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Store:     rolestore.New(),
		Effects:   NewEffectQueue(),
		member:    member,
	}
	s.Sync = service.NewRoleSynchronizer(deps.Source, s.Store, s.Effects, deps.SyncConfig, logger)
	s.Poller = service.NewRolePoller(s.Sync, deps.PollInterval, func(userID string, roles rbac.RoleSet, err error) {
		s.Gate.HandlePollResult(userID, roles, err)
	}, logger)
	s.Gate = gate.New(s.Store, s.Sync, s.Poller, s.Effects, logger)
	return s
}

// start запускает шлюз для текущего пользователя сессии.
func (s *Session) start(ctx context.Context, path string) {
	member := s.Member()
	var sess *gate.Session
	if member.ID != "" {
		sess = &gate.Session{UserID: member.ID}
	}
	s.Gate.Start(ctx, sess, path)
}

// Member возвращает профиль пользователя сессии.
func (s *Session) Member() model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member
}

// setMember обновляет профиль (после обновления токена).
func (s *Session) setMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.member = m
}

// close останавливает фоновую работу сессии. Повторный вызов безопасен.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.Gate.Close()
		s.Effects.Close()
	})
}

// shortID — префикс идентификатора сессии для логов.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
