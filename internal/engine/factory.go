package engine

import (
	"time"

	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

// pendingCreateCtx переживает сам вызов CreateRemoteAsync и освобождается
// ровно один раз, когда onProtocolCreated доставляет результат.
type pendingCreateCtx struct {
	cb    func(*Remote, error)
	start time.Time
}

// CreateRemoteAsync реализует create_remote_async: просит реестр аддонов
// создать Protocol для uri и возвращает управление немедленно. cb срабатывает
// ровно один раз с (remote, nil) при успехе, (nil, err) при ошибке создания
// и (nil, nil) если движок уже закрывается к моменту готовности протокола.
//
// Возвращает false без побочных эффектов, если ограничитель темпа дозвона
// отказал немедленно (DialLimiter настроен и не допускает вызов сейчас).
func (e *Engine) CreateRemoteAsync(uri string, cb func(*Remote, error)) bool {
	if e.dialLimiter != nil && !e.dialLimiter.Allow() {
		return false
	}

	ctx := &pendingCreateCtx{cb: cb, start: time.Now()}

	e.mu.Lock()
	e.pendingAsyncTasks++
	e.mu.Unlock()

	e.registry.CreateProtocolWithURI(uri, protocol.RoleOutDefault, func(p protocol.Protocol, err error) {
		e.onProtocolCreated(uri, p, err, ctx)
	})
	return true
}

// onProtocolCreated — continuation вызываемая реестром аддонов ровно один
// раз. Реализует on_protocol_created: очищает has_uncompleted_async_task,
// а затем либо отказывается от только что созданного протокола (движок
// закрывается), либо строит Connection+Remote и передаёт его в ctx.cb.
func (e *Engine) onProtocolCreated(uri string, p protocol.Protocol, err error, ctx *pendingCreateCtx) {
	e.mu.Lock()
	e.pendingAsyncTasks--
	closing := e.isClosing
	e.mu.Unlock()

	e.durationSink.ObserveDialDuration(uri, time.Since(ctx.start), err == nil)
	e.checkFinalize()

	if err != nil {
		ctx.cb(nil, err)
		return
	}

	rc := protocol.NewRefCounted(p)

	if closing {
		ctx.cb(nil, nil)
		rc.AddOnClosed(func() { e.onProtocolClosed(rc) })
		rc.Close()
		return
	}

	conn := protocol.NewConnection(uri, rc)
	remote := &Remote{URI: uri, engine: e, conn: conn, state: StateDialing}
	conn.SetOnClosed(func() { e.onRemoteClosed(remote) })
	conn.SetOnMessage(func(msg *message.Message) { e.ReceiveMsgFromRemote(remote, msg) })
	rc.AddOnClosed(func() { e.onProtocolClosed(rc) })

	ctx.cb(remote, nil)
}

// onProtocolClosed снимает с протокола собственный счёт ссылки движка и
// перепроверяет условие финального останова. Счётчик незавершённых задач
// он не меняет: закрытие протокола гейтом останова не учитывается, гейт
// держат только создания протокола. Срабатывает независимо от судьбы Remote — тот
// мог уже быть уничтожен раньше, если промотирование обнаружило дубликат.
func (e *Engine) onProtocolClosed(rc *protocol.RefCounted) {
	remaining := rc.Unref()
	logger.Debug("engine: protocol closed", zap.Int32("remaining_refs", remaining))
	e.checkFinalize()
}
