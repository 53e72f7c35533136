package engine

import (
	"fmt"

	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

// errPostBuildStartGraph — текст ошибки, фиксированный спецификацией
// протокола: полученный повторно start_graph после того, как граф уже
// построен, не меняет ни одной таблицы.
const errPostBuildStartGraph = "Receive a start_graph cmd after graph is built."

// RouteMsgToRemote реализует route_msg_to_remote для сообщений с ровно
// одним назначением. Слабые remote намеренно игнорируются: пользовательский
// трафик они ещё не имеют права переносить (инвариант 3).
func (e *Engine) RouteMsgToRemote(msg *message.Message) {
	destURI := msg.DestURI()

	e.mu.Lock()
	remote := e.table.findStrong(destURI)
	e.mu.Unlock()

	if remote == nil {
		if msg.IsCmd() {
			e.dispatchLocal(message.NewErrorResult(msg.ID,
				fmt.Sprintf("Could not find suitable remote based on uri: %s", destURI)))
		}
		return
	}

	if err := remote.Send(msg); err != nil {
		logger.Warn("engine: send to remote failed", zap.String("uri", destURI), zap.Error(err))
		if msg.IsCmd() {
			e.dispatchLocal(message.NewErrorResult(msg.ID, err.Error()))
		}
	}
}

// ReceiveMsgFromRemote реализует receive_msg_from_remote: аннотирует
// src/dest graph, если они были пусты, после чего либо отвергает повторный
// start_graph (граф уже построен), либо передаёт сообщение в локальный
// диспетчер хоста.
func (e *Engine) ReceiveMsgFromRemote(remote *Remote, msg *message.Message) {
	if msg.SrcGraphID == "" {
		msg.SrcGraphID = e.graphID
	}
	e.setDestGraphIfEmpty(msg)

	if msg.Type == message.CmdStartGraph {
		e.mu.Lock()
		built := e.graphBuilt
		e.mu.Unlock()

		if built {
			result := message.NewErrorResult(msg.ID, errPostBuildStartGraph)
			if err := remote.Send(result); err != nil {
				logger.Warn("engine: failed to send post-build start_graph rejection",
					zap.String("uri", remote.URI), zap.Error(err))
			}
			return
		}
	}

	e.dispatchLocal(msg)
}

// setDestGraphIfEmpty подставляет dest_graph по таблице предопределённых
// графов, когда сообщение его не указывает явно (WithPredefinedGraphs).
func (e *Engine) setDestGraphIfEmpty(msg *message.Message) {
	if len(msg.Dest) == 0 || msg.Dest[0].GraphID != "" || len(e.predefinedGraphs) == 0 {
		return
	}
	if graphID, ok := e.predefinedGraphs[msg.Name]; ok {
		msg.Dest[0].GraphID = graphID
	}
}

// LinkOrphanConnectionToRemote реализует link_orphan_connection_to_remote:
// продвигает принятое входящее соединение напрямую в сильную таблицу.
// Предусловие: для uri ещё нет сильного remote (вызывающая сторона обязана
// проверить через CheckRemoteIsExisted, если это не гарантировано иначе).
func (e *Engine) LinkOrphanConnectionToRemote(uri string, rc *protocol.RefCounted) *Remote {
	conn := protocol.NewConnection(uri, rc)
	remote := &Remote{URI: uri, engine: e, conn: conn, state: StateStrong}
	conn.SetOnClosed(func() { e.onRemoteClosed(remote) })
	conn.SetOnMessage(func(msg *message.Message) { e.ReceiveMsgFromRemote(remote, msg) })
	rc.AddOnClosed(func() { e.onProtocolClosed(rc) })

	e.mu.Lock()
	e.table.addStrong(remote)
	e.mu.Unlock()

	return remote
}

// MarkGraphBuilt помечает граф этого движка как полностью построенный —
// после этого момента повторные start_graph, принятые от remote, отвергаются.
func (e *Engine) MarkGraphBuilt() {
	e.mu.Lock()
	e.graphBuilt = true
	e.mu.Unlock()
}
