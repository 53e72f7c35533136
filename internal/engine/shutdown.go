package engine

import (
	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
)

// CloseAsync начинает останов движка: помечает is_closing и просит каждый
// принадлежащий remote закрыться. Завершение асинхронно — каждый закрытый
// remote в конце концов вызовет onRemoteClosed, который повторно войдёт в
// onClose и продвинет прогресс останова. Идемпотентно.
func (e *Engine) CloseAsync() {
	e.mu.Lock()
	if e.isClosing {
		e.mu.Unlock()
		return
	}
	e.isClosing = true

	remotes := make([]*Remote, 0, len(e.table.strong)+len(e.table.weak))
	for _, r := range e.table.strong {
		remotes = append(remotes, r)
	}
	remotes = append(remotes, e.table.weak...)
	e.mu.Unlock()

	logger.Info("engine: close requested", zap.String("uri", e.uri), zap.Int("remotes", len(remotes)))

	if len(remotes) == 0 {
		e.checkFinalize()
		return
	}
	for _, r := range remotes {
		r.Close()
	}
}

// onClose — повторный вход, запускаемый после каждого onRemoteClosed, пока
// движок закрывается. Его единственная работа — проверить, готов ли финал.
func (e *Engine) onClose() {
	e.checkFinalize()
}

// checkFinalize реализует правило финального останова: remotes и
// weak_remotes пусты, и нет ни одной незавершённой асинхронной задачи.
// Срабатывает ровно один раз — дальнейшие вызовы после финализации no-op.
func (e *Engine) checkFinalize() {
	e.mu.Lock()
	if e.closed || !e.isClosing {
		e.mu.Unlock()
		return
	}
	if !e.table.isEmpty() || e.pendingAsyncTasks > 0 {
		e.mu.Unlock()
		return
	}
	e.closed = true
	callbacks := e.onFinalized
	e.onFinalized = nil
	e.mu.Unlock()

	logger.Info("engine: closed", zap.String("uri", e.uri))
	for _, cb := range callbacks {
		cb()
	}
}

// HasUncompletedAsyncTask сообщает, блокирует ли движок финализацию
// останова на незавершённых созданиях протокола (CreateRemoteAsync, чей
// onProtocolCreated ещё не сработал). Закрытия протокола не учитываются.
func (e *Engine) HasUncompletedAsyncTask() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingAsyncTasks > 0
}

// Closed сообщает, завершил ли движок останов.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
