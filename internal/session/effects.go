package session

import (
	"sync"
	"time"

	"github.com/bigkaa/memberhub/access-module/internal/domain/model"
)

// EffectKind — тип эффекта для браузера.
type EffectKind string

const (
	EffectNavigate EffectKind = "navigate"
	EffectNotify   EffectKind = "notify"
)

// Effect — команда браузеру: перейти на маршрут или показать уведомление.
type Effect struct {
	Kind         EffectKind          `json:"kind"`
	Path         string              `json:"path,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
	At           time.Time           `json:"at"`
}

// maxPending — сколько уведомлений хранится, пока нет подписчиков.
const maxPending = 16

// subscriberBuffer — буфер канала одного подписчика.
const subscriberBuffer = 32

// EffectQueue доставляет эффекты сессии подписчикам (SSE-соединениям).
// Пока подписчиков нет, уведомления копятся и отдаются при рендере страницы,
// а навигация отбрасывается: следующая загрузка страницы всё равно пройдёт через шлюз.
// Ни один метод не блокируется на медленном подписчике.
type EffectQueue struct {
	mu      sync.Mutex
	pending []Effect
	subs    map[int]chan Effect
	nextID  int
	closed  bool
	now     func() time.Time
}

// NewEffectQueue создаёт пустую очередь эффектов.
func NewEffectQueue() *EffectQueue {
	return &EffectQueue{
		subs: make(map[int]chan Effect),
		now:  time.Now,
	}
}

// NavigateTo реализует gate.Effects.
func (q *EffectQueue) NavigateTo(path string) {
	q.push(Effect{Kind: EffectNavigate, Path: path})
}

// Notify реализует gate.Effects и service.Notifier.
func (q *EffectQueue) Notify(n model.Notification) {
	q.push(Effect{Kind: EffectNotify, Notification: &n})
}

func (q *EffectQueue) push(e Effect) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	e.At = q.now()

	if len(q.subs) == 0 {
		if e.Kind == EffectNotify {
			q.pending = append(q.pending, e)
			if len(q.pending) > maxPending {
				q.pending = q.pending[len(q.pending)-maxPending:]
			}
		}
		return
	}
	for _, ch := range q.subs {
		select {
		case ch <- e:
		default:
			// Подписчик не успевает — эффект для него теряется.
		}
	}
}

// Subscribe регистрирует подписчика. Накопленные уведомления
// сразу попадают в его канал. cancel обязательно вызвать.
func (q *EffectQueue) Subscribe() (<-chan Effect, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan Effect, subscriberBuffer)
	if q.closed {
		close(ch)
		return ch, func() {}
	}

	for _, e := range q.pending {
		ch <- e
	}
	q.pending = nil

	id := q.nextID
	q.nextID++
	q.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if c, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(c)
			}
		})
	}
}

// Drain забирает накопленные уведомления (для рендера страницы без SSE).
func (q *EffectQueue) Drain() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Notification, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, *e.Notification)
	}
	q.pending = nil
	return out
}

// Close закрывает все подписки; дальнейшие эффекты отбрасываются.
func (q *EffectQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
	q.pending = nil
}
