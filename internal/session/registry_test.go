package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/gate"
	"github.com/bigkaa/memberhub/access-module/internal/service"
)

type mapSource map[string][]string

func (m mapSource) ListUserRoles(_ context.Context, userID string) ([]model.UserRole, error) {
	recs := make([]model.UserRole, 0)
	for _, r := range m[userID] {
		recs = append(recs, model.UserRole{UserID: userID, Role: r})
	}
	return recs, nil
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	r := NewRegistry(context.Background(), cfg, Deps{
		Source: mapSource{
			"u-admin":     {"admin"},
			"u-collector": {"collector"},
		},
		SyncConfig:   service.RoleSyncConfig{Attempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		PollInterval: time.Hour,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegistry_OpenAndGet(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 10, IdleTTL: time.Minute})

	s := r.Open(model.Member{ID: "u-admin", Username: "admin"}, "/system")
	s.Gate.Wait()

	got, ok := r.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Get() должен вернуть открытую сессию")
	}
	snap := got.Gate.Snapshot()
	if snap.State != gate.StateAuthorized || snap.Tab != rbac.TabSystem {
		t.Errorf("состояние = %s/%s, ожидается authorized/system", snap.State, snap.Tab)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, ожидается 1", r.Len())
	}
}

func TestRegistry_SignOut(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 10, IdleTTL: time.Minute})

	s := r.Open(model.Member{ID: "u-collector"}, "/users")
	s.Gate.Wait()
	events, cancel := s.Effects.Subscribe()
	defer cancel()

	r.SignOut(s.ID)

	if _, ok := r.Get(s.ID); ok {
		t.Error("сессия должна быть удалена после выхода")
	}
	if got := s.Gate.State(); got != gate.StateUnauthenticated {
		t.Errorf("State() = %s, ожидается unauthenticated", got)
	}
	if s.Store.Roles() != nil {
		t.Error("кэш ролей должен быть сброшен")
	}

	var sawLogin bool
	timeout := time.After(time.Second)
	for !sawLogin {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("подписка закрыта раньше, чем пришла навигация на /login")
			}
			if e.Kind == EffectNavigate && e.Path == "/login" {
				sawLogin = true
			}
		case <-timeout:
			t.Fatal("не дождались навигации на /login")
		}
	}
}

func TestRegistry_EvictsOldestWhenFull(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 1, IdleTTL: time.Minute})

	first := r.Open(model.Member{ID: "u-admin"}, "/")
	second := r.Open(model.Member{ID: "u-collector"}, "/")
	second.Gate.Wait()

	if _, ok := r.Get(first.ID); ok {
		t.Error("старая сессия должна быть вытеснена")
	}
	if _, ok := r.Get(second.ID); !ok {
		t.Error("новая сессия должна остаться")
	}
}

func TestRegistry_IdleExpiry(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 10, IdleTTL: 30 * time.Millisecond})

	s := r.Open(model.Member{ID: "u-admin"}, "/")
	time.Sleep(80 * time.Millisecond)

	if _, ok := r.Get(s.ID); ok {
		t.Error("сессия без обращений должна истечь")
	}
}

func TestRegistry_SignInSwitchesUser(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 10, IdleTTL: time.Minute})

	s := r.Open(model.Member{ID: "u-admin"}, "/")
	s.Gate.Wait()

	if !r.SignIn(s.ID, model.Member{ID: "u-collector"}) {
		t.Fatal("SignIn() = false для существующей сессии")
	}
	s.Gate.Wait()

	snap := s.Gate.Snapshot()
	if snap.UserID != "u-collector" || snap.Roles.Has(rbac.RoleAdmin) {
		t.Errorf("после смены пользователя: user=%s roles=%v", snap.UserID, snap.Roles.Strings())
	}
	if s.Member().ID != "u-collector" {
		t.Errorf("Member().ID = %q, ожидается u-collector", s.Member().ID)
	}
}

func TestRegistry_TokenRefreshedWithoutSession(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{Size: 10, IdleTTL: time.Minute})

	s := r.Open(model.Member{ID: "u-admin"}, "/")
	s.Gate.Wait()

	r.TokenRefreshed(s.ID, nil)
	if got := s.Gate.State(); got != gate.StateUnauthenticated {
		t.Errorf("State() = %s, ожидается unauthenticated", got)
	}
}
