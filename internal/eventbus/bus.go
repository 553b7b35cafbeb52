// Package eventbus реализует типизированную шину сообщений между компонентами.
//
// Каждая тема связана с типом полезной нагрузки на этапе компиляции:
//
//	var ReplyComment = eventbus.NewTopic[ReplyTarget]("REPLY_COMMENT")
//	sub := eventbus.Subscribe(bus, ReplyComment, func(t ReplyTarget) { ... })
//	defer sub.Unsubscribe()
package eventbus

import (
	"log/slog"
	"sync"
)

// Topic именованная тема с полезной нагрузкой типа T
type Topic[T any] struct {
	name string
}

// NewTopic создает тему
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name возвращает имя темы
func (t Topic[T]) Name() string {
	return t.name
}

type handler func(payload any)

// Bus синхронная шина сообщений
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]handler
}

// New создает шину
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string]map[uint64]handler),
	}
}

// Subscription подписка на тему
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

// Unsubscribe отменяет подписку. Повторный вызов безопасен.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		delete(s.bus.subs[s.topic], s.id)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
	})
}

// Subscribe регистрирует fn для сообщений темы topic
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic.name] == nil {
		b.subs[topic.name] = make(map[uint64]handler)
	}
	b.subs[topic.name][id] = func(payload any) {
		fn(payload.(T))
	}

	return &Subscription{bus: b, topic: topic.name, id: id}
}

// Publish доставляет payload всем подписчикам темы в вызывающей горутине
func Publish[T any](b *Bus, topic Topic[T], payload T) {
	b.mu.RLock()
	handlers := make([]handler, 0, len(b.subs[topic.name]))
	for _, h := range b.subs[topic.name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(topic.name, h, payload)
	}
}

func (b *Bus) deliver(topic string, h handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus subscriber panicked", "topic", topic, "panic", r)
		}
	}()
	h(payload)
}
