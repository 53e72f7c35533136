package engine

import (
	"go.uber.org/zap"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

// State — состояние одного Remote в его жизненном цикле.
type State int

const (
	// StateDialing — remote сконструирован, соединение ещё не устанавливалось,
	// ни в одной таблице не числится.
	StateDialing State = iota
	// StateWeak — помещён в слабую последовательность, ждёт разрешения дубликата.
	StateWeak
	// StateStrong — в сильной карте, полноценно участвует в маршрутизации.
	StateStrong
	// StateClosing — закрытие начато, ждём подтверждения от транспорта.
	StateClosing
	// StateClosed — терминальное состояние.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateWeak:
		return "weak"
	case StateStrong:
		return "strong"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Remote — хэндл движка на один удалённый канал к одноранговому приложению.
// Владеет ровно одним Connection; обратная ссылка на Engine не владеющая
// (engine переживает remote по построению — он живёт в таблицах engine).
type Remote struct {
	URI    string
	engine *Engine
	conn   *protocol.Connection
	state  State

	// onServerConnectedCmd — команда, которую нужно отправить, как только
	// сработает on_connected (как правило, клонированный per-hop start_graph).
	onServerConnectedCmd *message.Message

	onConnected      func(*Remote)
	onConnectError   func(*Remote, error)
	wasWeak          bool
	connectErrorSent bool
}

// Send отправляет сообщение через владеемое Connection.
func (r *Remote) Send(msg *message.Message) error {
	return r.conn.SendMsg(msg)
}

// State возвращает текущее состояние remote. Не синхронизировано отдельно —
// вызывающая сторона уже действует под защитой движка либо читает для логов.
func (r *Remote) State() State { return r.state }

// Close закрывает владеемое соединение; Connection доведёт закрытие до
// OnRemoteClosed асинхронно (или синхронно для loopback-пайпа).
func (r *Remote) Close() {
	r.state = StateClosing
	r.conn.Close()
}

// ConnectTo переводит Dialing → Weak: remote помещается в слабую
// последовательность, pendingCmd запоминается для отправки при успешном
// соединении. onConnected/onConnectError — продолжения, специфичные для
// вызывающего сценария (обычно StartGraphOrchestrator).
//
// Протокол в этом ядре — уже установленный дуплексный канал (см. §6
// внешних интерфейсов: ни одна операция дозвона/рукопожатия не названа
// отдельно от send_msg/close/set_on_closed), поэтому отдельной асинхронной
// фазы "соединение устанавливается" у него нет: связь либо уже жива, либо
// транспорт успел оборваться в окне между созданием протокола и вызовом
// ConnectTo. OnConnected/OnConnectError остаются полноценной частью API
// движка для адресатов с более сложным транспортом.
func (e *Engine) ConnectTo(r *Remote, pendingCmd *message.Message, onConnected func(*Remote), onConnectError func(*Remote, error)) {
	e.mu.Lock()
	r.onServerConnectedCmd = pendingCmd
	r.onConnected = onConnected
	r.onConnectError = onConnectError
	r.state = StateWeak
	e.table.addWeak(r)
	e.mu.Unlock()

	if r.conn.Closed() {
		e.OnConnectError(r, protocol.ErrClosed)
		return
	}
	e.OnConnected(r)
}

// OnConnected — continuation, вызываемая транспортом, когда исходящий
// канал готов передавать сообщения. Реализует продвижение Weak → Strong
// с разрешением дубликата (RemoteLifecycle promotion).
func (e *Engine) OnConnected(r *Remote) {
	e.mu.Lock()

	// r сам лежит в слабой последовательности с момента ConnectTo; снимаем
	// его до проверки, чтобы она видела только другие каналы к тому же uri.
	e.table.removeWeak(r)
	if e.checkRemoteIsDuplicatedLocked(r.URI) {
		r.state = StateClosed
		cmd := r.onServerConnectedCmd
		r.onServerConnectedCmd = nil
		cb := r.onConnected
		e.mu.Unlock()

		logger.Debug("engine: dropping duplicate outbound remote", zap.String("uri", r.URI))
		r.conn.Close()
		if cb != nil {
			cb(nil) // сигнал вызывающему: канал уже покрыт встречным дозвоном, ответ — OK
		}
		_ = cmd
		return
	}

	// Мы выигрываем тайбрейк. Если uri уже занят в сильной карте (встречный
	// канал пришёл раньше нашего и был продвинут напрямую через
	// LinkOrphanConnectionToRemote), этот более ранний remote — проигравшая
	// сторона, и его нужно вытеснить, а не паниковать в addStrong.
	loser := e.table.findStrong(r.URI)
	if loser != nil {
		e.table.removeStrong(loser)
	}
	e.table.addStrong(r)
	r.state = StateStrong
	cmd := r.onServerConnectedCmd
	r.onServerConnectedCmd = nil
	cb := r.onConnected
	e.mu.Unlock()

	if loser != nil {
		logger.Debug("engine: outbound won tiebreak, closing earlier remote for same uri",
			zap.String("uri", r.URI))
		loser.Close()
	}

	if cmd != nil {
		if err := r.Send(cmd); err != nil {
			logger.Warn("engine: failed to send pending command after connect",
				zap.String("uri", r.URI), zap.Error(err))
		}
	}
	if cb != nil {
		cb(r)
	}
}

// OnConnectError — continuation для неудачного дозвона: Weak → Closed,
// немедленное закрытие канала, ошибка прокидывается вызывающему ровно один раз.
func (e *Engine) OnConnectError(r *Remote, err error) {
	e.mu.Lock()
	if r.connectErrorSent {
		e.mu.Unlock()
		return
	}
	r.connectErrorSent = true
	e.table.removeWeak(r)
	r.state = StateClosed
	cb := r.onConnectError
	e.mu.Unlock()

	r.conn.Close()
	if cb != nil {
		cb(r, err)
	}
}

// onRemoteClosed — обратный вызов Connection.SetOnClosed, реализующий
// on_remote_closed: удаляет remote из таблиц, решает, нужно ли поднимать
// engine.OnClose() или engine.CloseAsync().
func (e *Engine) onRemoteClosed(r *Remote) {
	e.mu.Lock()

	wasWeak := e.table.removeWeak(r)
	wasStrong := false
	if !wasWeak {
		wasStrong = e.table.removeStrong(r)
		if !wasStrong {
			// Не найден ни в одной таблице: либо уже удалён, либо в сильной
			// карте стоит другой remote с тем же uri (окно дедупликации).
			// Логируем и уничтожаем этот remote, таблицу не трогаем.
			if existing := e.table.findStrong(r.URI); existing != nil && existing != r {
				logger.Debug("engine: closed remote replaced by a different instance with same uri, leaving table untouched",
					zap.String("uri", r.URI))
			}
			r.state = StateClosed
			e.mu.Unlock()
			return
		}
	}

	r.state = StateClosed
	closing := e.isClosing
	longRunning := e.longRunningMode
	e.mu.Unlock()

	if closing {
		e.onClose()
		return
	}

	if wasStrong && !longRunning {
		e.CloseAsync()
	}
}
