package engine

import (
	"fmt"

	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/shared"
)

// StartGraph реализует connect_to_graph_remote для весь набор пиров,
// названных в соединениях верхнеуровневого графа. original — единственный
// внешне полученный start_graph, чей результат должен быть возвращён
// ровно один раз после того, как все per-hop исходы накопятся.
//
// original_start_graph_cmd устанавливается до начала первого дозвона и
// снимается только после ответа оригиналу (инвариант 5).
func (e *Engine) StartGraph(original *message.Message, peerURIs []string) {
	// Дедуплицируем uri: повторный hop на тот же адрес удвоил бы hopsPending
	// и ответил бы на original дважды (или не ответил бы вовсе).
	peerURIs = shared.Unique(peerURIs)

	e.mu.Lock()
	e.originalStartGraphCmd = original
	e.hopsPending = len(peerURIs)
	e.hopsFailed = 0
	e.mu.Unlock()

	if len(peerURIs) == 0 {
		e.finishStartGraphIfDone()
		return
	}
	for _, uri := range peerURIs {
		e.connectToGraphRemote(uri, original)
	}
}

// connectToGraphRemote — точка входа на один хоп: клонирует original в
// per-hop команду c_u, нацеленную на uri, и запускает асинхронное создание
// remote для неё.
func (e *Engine) connectToGraphRemote(uri string, original *message.Message) bool {
	hopCmd := message.NewStartGraph(message.Dest{AppURI: uri}, original.Properties)

	ok := e.CreateRemoteAsync(uri, func(remote *Remote, err error) {
		e.onGraphRemoteCreated(uri, remote, err, hopCmd)
	})
	if !ok {
		e.onGraphRemoteCreated(uri, nil, nil, hopCmd)
	}
	return ok
}

// onGraphRemoteCreated — on_created продолжение §4.6: нет remote → ошибка
// хопа; remote есть, но покрыт встречным дозвоном → закрыть и ответить OK;
// иначе добавить в слабую таблицу и начать соединение.
func (e *Engine) onGraphRemoteCreated(uri string, remote *Remote, _ error, hopCmd *message.Message) {
	if remote == nil {
		e.dispatchLocal(message.NewErrorResult(hopCmd.ID, fmt.Sprintf("Failed to create remote (%s)", uri)))
		e.recordHopDone(true)
		return
	}

	if e.CheckRemoteIsDuplicated(uri) {
		remote.Close()
		e.dispatchLocal(message.NewOKResult(hopCmd.ID))
		e.recordHopDone(false)
		return
	}

	e.ConnectTo(remote, hopCmd,
		func(r *Remote) { e.onGraphRemoteConnected(r, hopCmd) },
		func(r *Remote, err error) { e.onGraphRemoteConnectError(r, uri, hopCmd, err) },
	)
}

// onGraphRemoteConnected — on_graph_connected: отправка c_u уже выполнена
// централизованно в Engine.OnConnected; nil remote здесь означает, что
// продвижение обнаружило дубликат уже на этапе Weak→Strong (см.
// Engine.OnConnected), и OK за этот хоп отправляется здесь.
func (e *Engine) onGraphRemoteConnected(r *Remote, hopCmd *message.Message) {
	if r == nil {
		e.dispatchLocal(message.NewOKResult(hopCmd.ID))
		e.recordHopDone(false)
		return
	}
	logger.Debug("engine: graph hop connected", zap.String("uri", r.URI))
	e.recordHopDone(false)
}

// onGraphRemoteConnectError — on_graph_connect_error: отвечает ERROR и
// закрывает remote (уже закрыт внутри Engine.OnConnectError).
func (e *Engine) onGraphRemoteConnectError(_ *Remote, uri string, hopCmd *message.Message, _ error) {
	e.dispatchLocal(message.NewErrorResult(hopCmd.ID, fmt.Sprintf("Failed to connect to %s", uri)))
	e.recordHopDone(true)
}

// recordHopDone учитывает завершение одного хопа и, если это был последний,
// отвечает на original_start_graph_cmd ровно один раз и помечает граф
// построенным.
func (e *Engine) recordHopDone(failed bool) {
	e.mu.Lock()
	if failed {
		e.hopsFailed++
	}
	e.hopsPending--
	done := e.hopsPending <= 0
	original := e.originalStartGraphCmd
	failedCount := e.hopsFailed
	if done {
		e.originalStartGraphCmd = nil
	}
	e.mu.Unlock()

	if !done || original == nil {
		return
	}
	e.answerStartGraph(original, failedCount)
}

func (e *Engine) finishStartGraphIfDone() {
	e.mu.Lock()
	original := e.originalStartGraphCmd
	e.originalStartGraphCmd = nil
	e.mu.Unlock()
	if original != nil {
		e.answerStartGraph(original, 0)
	}
}

func (e *Engine) answerStartGraph(original *message.Message, failedCount int) {
	if failedCount > 0 {
		e.dispatchLocal(message.NewErrorResult(original.ID, fmt.Sprintf("%d hop(s) failed to start", failedCount)))
	} else {
		e.dispatchLocal(message.NewOKResult(original.ID))
	}
	e.MarkGraphBuilt()
}
