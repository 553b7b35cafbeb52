// Package push содержит реализации канала push-событий комментариев.
package push

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oziev02/CommentSync/internal/domain"
)

// Envelope конверт события на проводе
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registration struct {
	id int
	fn domain.EventHandler
}

// registry хранит обработчики входящих событий и хуки переподключения
type registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   int
	handlers map[string][]registration
	hooks    map[int]func()
}

func newRegistry(logger *slog.Logger) *registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{
		logger:   logger,
		handlers: make(map[string][]registration),
		hooks:    make(map[int]func()),
	}
}

// On регистрирует обработчик события
func (r *registry) On(event string, h domain.EventHandler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], registration{id: id, fn: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.handlers[event]
			for i, reg := range list {
				if reg.id == id {
					r.handlers[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
		})
	}
}

// OnReconnect регистрирует хук, вызываемый после восстановления соединения
func (r *registry) OnReconnect(fn func()) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.hooks[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.hooks, id)
		r.mu.Unlock()
	}
}

// dispatch передает полезную нагрузку всем обработчикам события
func (r *registry) dispatch(event string, payload json.RawMessage) int {
	r.mu.RLock()
	list := make([]domain.EventHandler, 0, len(r.handlers[event]))
	for _, reg := range r.handlers[event] {
		list = append(list, reg.fn)
	}
	r.mu.RUnlock()

	if len(list) == 0 {
		r.logger.Debug("push event without handlers", "event", event)
	}
	for _, h := range list {
		r.call(event, h, payload)
	}
	return len(list)
}

func (r *registry) call(event string, h domain.EventHandler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push handler panicked", "event", event, "panic", rec)
		}
	}()
	h(payload)
}

func (r *registry) reconnected() {
	r.mu.RLock()
	hooks := make([]func(), 0, len(r.hooks))
	for _, fn := range r.hooks {
		hooks = append(hooks, fn)
	}
	r.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}

// decodeEnvelope разбирает конверт и проверяет имя события
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	if env.Event == "" {
		return env, domain.ErrMalformedEvent
	}
	return env, nil
}
