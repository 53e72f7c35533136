// Package engine реализует ядро маршрутизации распределённого графа:
// двухуровневую таблицу удалённых каналов, асинхронное создание каналов
// через реестр аддонов, разрешение одновременных встречных дозвонов и
// многошаговый протокол start_graph. Всё состояние защищено единственным
// мьютексом движка — модель, близкая к однопоточной кооперативной, в
// которой обратные вызовы транспорта обязаны получить этот мьютекс перед
// тем, как тронуть таблицы.
package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

// DurationSink — необязательный приёмник гистограмм длительности дозвона,
// аналог внешнего телеметрического фасада. Нулевое значение — no-op.
type DurationSink interface {
	ObserveDialDuration(uri string, d time.Duration, ok bool)
}

type noopDurationSink struct{}

func (noopDurationSink) ObserveDialDuration(string, time.Duration, bool) {}

// Dispatcher доставляет сообщение локальному обработчику хоста — аналог
// engine.dispatch_msg во внешнем движке. Ядро не содержит диспетчеризацию
// расширений; он лишь гарантирует доставку ровно одного результата.
type Dispatcher func(*message.Message)

// Option настраивает Engine при создании.
type Option func(*Engine)

// WithLongRunningMode отключает автоматическое закрытие движка при потере
// последнего сильного удалённого канала.
func WithLongRunningMode(v bool) Option {
	return func(e *Engine) { e.longRunningMode = v }
}

// WithDurationSink подключает приёмник длительности дозвона.
func WithDurationSink(sink DurationSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.durationSink = sink
		}
	}
}

// WithDialLimiter подключает ограничитель темпа исходящих дозвонов.
func WithDialLimiter(l *DialLimiter) Option {
	return func(e *Engine) { e.dialLimiter = l }
}

// WithPredefinedGraphs задаёт таблицу "имя графа → uri назначения",
// используемую receive_msg_from_remote для подстановки dest_graph, когда
// сообщение его не содержит.
func WithPredefinedGraphs(graphs map[string]string) Option {
	return func(e *Engine) {
		if graphs != nil {
			e.predefinedGraphs = graphs
		}
	}
}

// Engine — один экземпляр графа: владеет таблицей удалённых каналов и
// координирует их жизненный цикл. Поля от mu и ниже защищены mu; поля над
// ним (адреса, коллаборации и настройки опций) задаются в New и далее не меняются.
type Engine struct {
	uri     string
	graphID string

	registry protocol.Registry
	dispatch Dispatcher

	longRunningMode  bool
	durationSink     DurationSink
	dialLimiter      *DialLimiter
	predefinedGraphs map[string]string

	mu                sync.Mutex
	table             remoteTable
	isClosing         bool
	pendingAsyncTasks int
	closed            bool

	graphBuilt            bool
	originalStartGraphCmd *message.Message
	hopsPending           int
	hopsFailed            int

	onFinalized []func()
}

// New создаёт движок для локального uri/graphID поверх реестра аддонов
// registry. dispatch доставляет сообщения, адресованные самому хосту
// (синтетические cmd_result, локальный трафик после маршрутизации).
func New(uri, graphID string, registry protocol.Registry, dispatch Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		uri:          uri,
		graphID:      graphID,
		registry:     registry,
		dispatch:     dispatch,
		durationSink: noopDurationSink{},
		table:        newRemoteTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// URI возвращает локальный адрес приложения — якорь тайбрейка дедупликации.
func (e *Engine) URI() string { return e.uri }

// GraphID возвращает идентификатор графа этого экземпляра движка.
func (e *Engine) GraphID() string { return e.graphID }

// IsClosing сообщает, начат ли процесс останова.
func (e *Engine) IsClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isClosing
}

// OnFinalized регистрирует обратный вызов, срабатывающий ровно один раз,
// когда движок полностью завершил останов (см. shutdown.go).
func (e *Engine) OnFinalized(cb func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cb()
		return
	}
	e.onFinalized = append(e.onFinalized, cb)
	e.mu.Unlock()
}

// dispatchLocal доставляет сообщение локальному обработчику хоста, если он
// задан; иначе тихо логирует — маршрут существует только для диагностики.
func (e *Engine) dispatchLocal(msg *message.Message) {
	if e.dispatch != nil {
		e.dispatch(msg)
		return
	}
	logger.Debug("engine: no dispatcher configured, dropping message", zap.String("name", msg.Name))
}
