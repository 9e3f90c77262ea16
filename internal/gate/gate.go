// Пакет gate — шлюз доступа сессии дашборда.
//
// Gate объединяет состояние аутентификации, кэш ролей и политику вкладок:
//
//	AuthChecking ──session──▶ Loading ──roles──▶ Authorized(tab)
//	     │                       │                   │  ▲
//	     └──no session──▶ Unauthenticated ◀─SIGNED_OUT┘  │ navigate
//	                                                  Denied
//
// События аутентификации применяются строго в порядке поступления.
// SIGNED_OUT из любого состояния переводит шлюз в Unauthenticated,
// и никакая запоздавшая загрузка ролей этого не отменит.
//
// Навигация и уведомления выполняются через Effects. Реализация Effects
// не должна блокироваться: шлюз вызывает её под своей блокировкой.
//
// Prometheus-метрики:
//   - access_module_gate_decisions_total — решения по навигации
//   - access_module_gate_transitions_total — переходы между состояниями
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
	"github.com/bigkaa/memberhub/access-module/internal/domain/rbac"
	"github.com/bigkaa/memberhub/access-module/internal/rolestore"
	"github.com/bigkaa/memberhub/access-module/internal/service"
)

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_module_gate_decisions_total",
		Help: "Решения шлюза доступа по запросам навигации",
	}, []string{"outcome"})
	gateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_module_gate_transitions_total",
		Help: "Переходы шлюза доступа между состояниями",
	}, []string{"to"})
)

// ErrNoSession — операция требует активной сессии.
var ErrNoSession = errors.New("нет активной сессии")

// Effects — побочные эффекты шлюза: навигация и уведомления.
type Effects interface {
	NavigateTo(path string)
	Notify(n model.Notification)
}

// Syncer загружает роли пользователя в кэш.
type Syncer interface {
	SyncRoles(ctx context.Context, userID string) (rbac.RoleSet, error)
}

// Poller — периодическое обновление ролей пользователя.
type Poller interface {
	Start(ctx context.Context, userID string)
	Stop()
}

// Gate — шлюз доступа одной сессии.
type Gate struct {
	store   *rolestore.Store
	syncer  Syncer
	poller  Poller
	effects Effects
	logger  *slog.Logger

	// events сериализует события аутентификации вместе с запуском/остановкой поллера.
	events sync.Mutex

	mu          sync.Mutex
	state       State
	tab         rbac.Tab
	route       string
	userID      string
	epoch       uint64
	unavailable bool
	// deniedRoute — маршрут, об отказе в котором уже сообщено.
	deniedRoute string
	// applied — роли, по которым шлюз принимал решение последний раз.
	applied rbac.RoleSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт шлюз в состоянии AuthChecking.
func New(store *rolestore.Store, syncer Syncer, poller Poller, effects Effects, logger *slog.Logger) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		store:   store,
		syncer:  syncer,
		poller:  poller,
		effects: effects,
		logger:  logger.With(slog.String("component", "access_gate")),
		state:   StateAuthChecking,
		route:   "/",
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start выполняет первичную проверку сессии для маршрута path.
// ctx ограничивает фоновые загрузки и поллинг этой сессии.
func (g *Gate) Start(ctx context.Context, session *Session, path string) {
	g.events.Lock()
	defer g.events.Unlock()

	g.mu.Lock()
	g.cancel()
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.route = normalizeRoute(path)
	g.mu.Unlock()

	if session == nil || session.UserID == "" {
		g.signOut(false)
		return
	}
	g.signIn(session.UserID, true)
}

// HandleAuthEvent применяет событие аутентификации.
func (g *Gate) HandleAuthEvent(ev AuthEvent) {
	g.events.Lock()
	defer g.events.Unlock()

	g.logger.Debug("Событие аутентификации",
		slog.String("kind", string(ev.Kind)),
		slog.Bool("session", ev.Session != nil),
	)

	noSession := ev.Session == nil || ev.Session.UserID == ""
	switch ev.Kind {
	case EventSignedOut:
		g.signOut(true)
	case EventTokenRefreshed:
		if noSession {
			g.signOut(false)
			return
		}
		g.signIn(ev.Session.UserID, false)
	case EventSignedIn:
		if noSession {
			g.signOut(false)
			return
		}
		g.signIn(ev.Session.UserID, true)
	default:
		g.logger.Warn("Неизвестное событие аутентификации", slog.String("kind", string(ev.Kind)))
	}
}

// HandleAuthError — проверка сессии не удалась.
// Шлюз переходит в Unauthenticated и показывает уведомление.
func (g *Gate) HandleAuthError(err error) {
	g.events.Lock()
	defer g.events.Unlock()

	g.logger.Warn("Ошибка проверки сессии", slog.String("error", err.Error()))
	g.effects.Notify(model.Notification{Key: model.NotifyAuthFailed, Severity: model.SeverityDestructive})
	g.signOut(false)
}

// signIn привязывает шлюз к пользователю. Вызывается под g.events.
// Для уже привязанного пользователя resync запускает внеочередную загрузку.
func (g *Gate) signIn(userID string, resync bool) {
	g.mu.Lock()
	if g.userID == userID && g.state != StateUnauthenticated && g.state != StateAuthChecking {
		epoch, ctx := g.epoch, g.ctx
		g.mu.Unlock()
		if resync {
			g.launchSync(ctx, epoch, userID)
		}
		return
	}

	g.epoch++
	epoch, ctx := g.epoch, g.ctx
	g.userID = userID
	g.tab = ""
	g.unavailable = false
	g.applied = nil
	g.setStateLocked(StateAuthChecking)
	g.store.Bind(userID)
	g.setStateLocked(StateLoading)
	g.mu.Unlock()

	g.poller.Start(ctx, userID)
	g.launchSync(ctx, epoch, userID)
}

// signOut сбрасывает кэш и переводит шлюз в Unauthenticated. Вызывается под g.events.
func (g *Gate) signOut(notify bool) {
	g.mu.Lock()
	g.epoch++
	g.store.Reset()
	g.userID = ""
	g.tab = ""
	g.unavailable = false
	g.applied = nil
	g.setStateLocked(StateUnauthenticated)
	g.mu.Unlock()

	// Stop ждёт завершения горутины поллера, которая может ждать g.mu.
	g.poller.Stop()

	if notify {
		g.effects.Notify(model.Notification{Key: model.NotifySignedOut, Severity: model.SeverityInfo})
	}
	g.effects.NavigateTo(rbac.LoginPath)
}

func (g *Gate) launchSync(ctx context.Context, epoch uint64, userID string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		roles, err := g.syncer.SyncRoles(ctx, userID)
		g.applyResult(epoch, userID, roles, err)
	}()
}

// HandlePollResult принимает результат периодической загрузки ролей.
func (g *Gate) HandlePollResult(userID string, roles rbac.RoleSet, err error) {
	g.mu.Lock()
	epoch := g.epoch
	g.mu.Unlock()

	g.applyResult(epoch, userID, roles, err)
}

// applyResult применяет результат загрузки к состоянию шлюза.
// Результаты для прежней привязки игнорируются.
func (g *Gate) applyResult(epoch uint64, userID string, roles rbac.RoleSet, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.epoch || userID != g.userID || g.state == StateUnauthenticated {
		return
	}
	if errors.Is(err, service.ErrSessionChanged) || errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		// Роли не подтверждены: решаем по тому, что осталось в кэше.
		roles = g.store.Roles()
	}
	changed := !roles.Equal(g.applied)
	if err == nil && changed && g.applied != nil {
		g.logger.Info("Роли пользователя изменились",
			slog.String("user_id", userID),
			slog.Any("from", g.applied.Strings()),
			slog.Any("to", roles.Strings()),
		)
	}
	g.applied = roles.Clone()

	switch g.state {
	case StateLoading:
		g.evaluateLocked(roles)
	case StateAuthorized:
		if err == nil && changed && !rbac.CanAccessTab(roles, string(rbac.TabFromPath(g.route))) {
			// Роли понизили, текущая вкладка больше недоступна.
			g.evaluateLocked(roles)
		}
	case StateDenied:
		if g.unavailable && roles.Len() > 0 {
			g.evaluateLocked(roles)
		}
	}
}

// evaluateLocked проверяет текущий маршрут по набору ролей.
func (g *Gate) evaluateLocked(roles rbac.RoleSet) {
	if roles.Len() == 0 {
		// Доступ закрыт, но сессия сохраняется: из неё выводит только SIGNED_OUT.
		g.unavailable = true
		g.tab = ""
		g.deniedRoute = ""
		g.setStateLocked(StateDenied)
		return
	}
	g.unavailable = false

	tab := rbac.TabFromPath(g.route)
	if rbac.CanAccessTab(roles, string(tab)) {
		g.tab = tab
		g.setStateLocked(StateAuthorized)
		return
	}

	g.tab = ""
	g.setStateLocked(StateDenied)
	g.deniedRoute = g.route
	g.effects.Notify(model.Notification{Key: model.NotifyAccessDenied, Severity: model.SeverityDestructive})
	g.effects.NavigateTo(rbac.DefaultRoute(roles))
}

// Navigate проверяет переход на path (загрузка страницы дашборда).
func (g *Gate) Navigate(path string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.navigateLocked(normalizeRoute(path))
	gateDecisions.WithLabelValues(string(d.Outcome)).Inc()
	return d
}

func (g *Gate) navigateLocked(path string) Decision {
	switch g.state {
	case StateUnauthenticated:
		return Decision{Outcome: OutcomeRedirect, Path: rbac.LoginPath}
	case StateAuthChecking, StateLoading:
		g.route = path
		return Decision{Outcome: OutcomePending, Tab: rbac.TabFromPath(path)}
	}

	roles := g.store.Roles()
	if roles.Len() == 0 {
		g.route = path
		return Decision{Outcome: OutcomeUnavailable}
	}

	tab := rbac.TabFromPath(path)
	if rbac.CanAccessTab(roles, string(tab)) {
		g.route = path
		g.tab = tab
		g.setStateLocked(StateAuthorized)
		return Decision{Outcome: OutcomeAllow, Path: path, Tab: tab}
	}

	redirect := Decision{Outcome: OutcomeRedirect, Path: rbac.DefaultRoute(roles)}
	if g.state == StateDenied && g.deniedRoute == path {
		// Страница запрошена повторно (перезагрузка после ожидания): отказ уже показан.
		return redirect
	}
	g.setStateLocked(StateDenied)
	g.deniedRoute = path
	g.effects.Notify(model.Notification{Key: model.NotifyAccessDenied, Severity: model.SeverityDestructive})
	return redirect
}

// RequestTab обрабатывает переключение вкладки из навигационной панели.
// Отклонённый запрос не меняет маршрут и даёт уведомление.
func (g *Gate) RequestTab(tab string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.requestTabLocked(tab)
	gateDecisions.WithLabelValues(string(d.Outcome)).Inc()
	return d
}

func (g *Gate) requestTabLocked(tab string) Decision {
	if g.state == StateUnauthenticated {
		return Decision{Outcome: OutcomeRedirect, Path: rbac.LoginPath}
	}

	roles := g.store.Roles()
	if roles.Len() == 0 {
		key := model.NotifyAccessUnavailable
		if g.state == StateAuthChecking || g.state == StateLoading || g.store.Loading() {
			key = model.NotifyRolesLoading
		}
		g.effects.Notify(model.Notification{Key: key, Severity: model.SeverityDestructive})
		return Decision{Outcome: OutcomeStay}
	}

	if !rbac.CanAccessTab(roles, tab) {
		g.effects.Notify(model.Notification{Key: model.NotifyAccessDenied, Severity: model.SeverityDestructive})
		return Decision{Outcome: OutcomeStay}
	}

	t := rbac.Tab(tab)
	path := rbac.TabPath(t)
	g.route = path
	g.tab = t
	g.unavailable = false
	g.setStateLocked(StateAuthorized)
	g.effects.NavigateTo(path)
	return Decision{Outcome: OutcomeAllow, Path: path, Tab: t}
}

// Refresh синхронно перезагружает роли текущего пользователя.
func (g *Gate) Refresh(ctx context.Context) (rbac.RoleSet, error) {
	g.mu.Lock()
	if g.state == StateUnauthenticated || g.userID == "" {
		g.mu.Unlock()
		return nil, ErrNoSession
	}
	userID, epoch := g.userID, g.epoch
	g.mu.Unlock()

	roles, err := g.syncer.SyncRoles(ctx, userID)
	g.applyResult(epoch, userID, roles, err)
	return roles, err
}

// Snapshot возвращает текущее состояние шлюза и кэша ролей.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.store.Snapshot()
	return Snapshot{
		State:   g.state,
		Tab:     g.tab,
		Route:   g.route,
		UserID:  g.userID,
		Roles:   st.Roles,
		Role:    st.Role,
		Loading: st.Loading,
		Err:     st.Err,
	}
}

// State возвращает текущее состояние.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Wait дожидается завершения запущенных загрузок.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Close останавливает фоновую работу сессии.
func (g *Gate) Close() {
	g.events.Lock()
	defer g.events.Unlock()

	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()

	g.poller.Stop()
	g.wg.Wait()
}

func (g *Gate) setStateLocked(s State) {
	if g.state == s {
		return
	}
	g.logger.Debug("Переход шлюза доступа",
		slog.String("from", g.state.String()),
		slog.String("to", s.String()),
		slog.String("user_id", g.userID),
	)
	if s != StateDenied {
		g.deniedRoute = ""
	}
	g.state = s
	gateTransitions.WithLabelValues(s.String()).Inc()
}

// normalizeRoute оставляет от пути только маршрут без query и fragment.
func normalizeRoute(path string) string {
	for i, c := range path {
		if c == '?' || c == '#' {
			path = path[:i]
			break
		}
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return path
}
