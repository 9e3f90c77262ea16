// Пакет rolestore — кэш ролей одной пользовательской сессии.
//
// Store хранит набор ролей, флаг загрузки и последнюю ошибку загрузки.
// Писать в него может только синхронизатор ролей, причём каждая запись
// сопровождается билетом (Ticket): пользователь + эпоха привязки.
// Смена пользователя или выход из сессии увеличивают эпоху, и все
// запоздавшие записи со старым билетом отбрасываются.
package rolestore

import (
	"sync"

	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
)

// Ticket — метка привязки, под которой выполняется загрузка ролей.
type Ticket struct {
	UserID string
	Epoch  uint64
}

// State — снимок состояния кэша.
// Role вычисляется из Roles при чтении и равен nil, пока основной роли нет.
type State struct {
	UserID  string
	Role    *rbac.Role
	Roles   rbac.RoleSet
	Loading bool
	Err     error
}

// Store — потокобезопасный кэш ролей сессии.
type Store struct {
	mu       sync.RWMutex
	userID   string
	epoch    uint64
	inflight int
	roles    rbac.RoleSet
	err      error
}

// New создаёт Store в начальном состоянии (нет пользователя, роли не загружены).
func New() *Store {
	return &Store{}
}

// Bind привязывает кэш к пользователю после входа.
// Прежнее состояние сбрасывается целиком, эпоха увеличивается.
func (s *Store) Bind(userID string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.userID = userID
	return Ticket{UserID: userID, Epoch: s.epoch}
}

// Reset возвращает кэш в начальное состояние (выход из сессии).
// После возврата ни одно чтение не увидит роли прежнего пользователя.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.epoch++
	s.userID = ""
	s.inflight = 0
	s.roles = nil
	s.err = nil
}

// Ticket возвращает текущий билет, если кэш привязан к userID.
func (s *Store) Ticket(userID string) (Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.userID == "" || s.userID != userID {
		return Ticket{}, false
	}
	return Ticket{UserID: s.userID, Epoch: s.epoch}, true
}

// Valid сообщает, соответствует ли билет текущей привязке.
func (s *Store) Valid(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.validLocked(t)
}

func (s *Store) validLocked(t Ticket) bool {
	return s.userID != "" && t.UserID == s.userID && t.Epoch == s.epoch
}

// BeginFetch отмечает начало загрузки. Возвращает false для устаревшего билета.
func (s *Store) BeginFetch(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(t) {
		return false
	}
	s.inflight++
	return true
}

// EndFetch отмечает завершение загрузки.
// Загрузки могут перекрываться: флаг Loading снимается, когда завершится последняя.
func (s *Store) EndFetch(t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(t) {
		return
	}
	if s.inflight > 0 {
		s.inflight--
	}
}

// SetRoles атомарно записывает набор ролей и сбрасывает ошибку.
// Запись с устаревшим билетом отбрасывается (возвращает false).
func (s *Store) SetRoles(t Ticket, roles rbac.RoleSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(t) {
		return false
	}
	roles = roles.Clone()
	if roles == nil {
		roles = rbac.NewRoleSet()
	}
	s.roles = roles
	s.err = nil
	return true
}

// SetError записывает ошибку загрузки. Ранее загруженный набор ролей не трогается.
func (s *Store) SetError(t Ticket, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validLocked(t) {
		return false
	}
	s.err = err
	return true
}

// Snapshot возвращает согласованный снимок состояния.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		UserID:  s.userID,
		Roles:   s.roles.Clone(),
		Loading: s.inflight > 0,
		Err:     s.err,
	}
	if primary, ok := rbac.PrimaryRole(s.roles); ok {
		st.Role = &primary
	}
	return st
}

// Roles возвращает копию набора ролей (nil — не загружены).
func (s *Store) Roles() rbac.RoleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roles.Clone()
}

// PrimaryRole возвращает основную роль, вычисленную из текущего набора.
func (s *Store) PrimaryRole() (rbac.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return rbac.PrimaryRole(s.roles)
}

// Loading сообщает, идёт ли загрузка ролей.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.inflight > 0
}

// Err возвращает последнюю ошибку загрузки.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// UserID возвращает пользователя текущей привязки ("" — сессии нет).
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID
}
