// Package protocol описывает opaque-интерфейс транспорта, который движок
// использует для связи с одноранговыми приложениями. Конкретная реализация
// кодека и приёма соединений (см. internal/protocol/loopback) подключается
// через Registry — сам пакет framing'ом и сетью не занимается.
package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"tenengine/internal/message"
)

// ErrClosed возвращается Connection.SendMsg, если соединение уже закрыто.
var ErrClosed = errors.New("protocol: closed")

// Role задаёт направление, в котором реестр аддонов должен создать протокол.
type Role int

const (
	// RoleOutDefault — исходящее соединение к удалённому URI (единственная роль,
	// которую использует RemoteFactory).
	RoleOutDefault Role = iota
)

// Protocol — дескриптор канала ввода-вывода с одним хозяином-счётчиком ссылок.
// Движок держит ровно один счёт от создания до своего OnProtocolClosed.
type Protocol interface {
	// URI — адрес удалённого приложения, с которым установлен канал.
	URI() string
	// SendMsg отправляет сообщение через канал. Возвращает ошибку при обрыве
	// или если канал уже закрывается.
	SendMsg(payload any) error
	// Close инициирует закрытие; OnClosed может сработать асинхронно позже.
	Close()
	// SetOnClosed регистрирует обратный вызов, срабатывающий ровно один раз,
	// когда канал окончательно закрыт (в т.ч. после ошибки соединения).
	SetOnClosed(cb func())
	// SetOnMessage регистрирует обратный вызов для каждого входящего
	// сообщения, декодированного каналом. Вызывается на собственной
	// горутине чтения аддона.
	SetOnMessage(cb func(*message.Message))
}

// RefCounted оборачивает Protocol разделяемым счётчиком ссылок и позволяет
// нескольким независимым подписчикам узнать о закрытии ровно один раз каждый —
// движок вешает свой OnProtocolClosed (управление счётчиком и гейтом останова)
// отдельно от Connection, которое вешает закрытие, видимое Remote.
type RefCounted struct {
	Protocol
	refs atomic.Int32

	mu        sync.Mutex
	observers []func()
	fired     bool
}

// NewRefCounted оборачивает p со стартовым счётчиком ссылок, равным 1 —
// счёт, который достаётся движку в момент создания. Единственная подписка
// на событие закрытия базового Protocol устанавливается здесь; дальнейшие
// подписчики добавляются через AddOnClosed.
func NewRefCounted(p Protocol) *RefCounted {
	rc := &RefCounted{Protocol: p}
	rc.refs.Store(1)
	p.SetOnClosed(rc.fanOut)
	return rc
}

// Ref увеличивает счётчик ссылок и возвращает новое значение.
func (r *RefCounted) Ref() int32 { return r.refs.Add(1) }

// Unref уменьшает счётчик ссылок и возвращает новое значение. Вызывается
// движком из OnProtocolClosed ровно один раз на собственный счёт.
func (r *RefCounted) Unref() int32 { return r.refs.Add(-1) }

// AddOnClosed регистрирует дополнительного подписчика на закрытие. Если
// закрытие уже произошло, cb вызывается немедленно.
func (r *RefCounted) AddOnClosed(cb func()) {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		cb()
		return
	}
	r.observers = append(r.observers, cb)
	r.mu.Unlock()
}

func (r *RefCounted) fanOut() {
	r.mu.Lock()
	r.fired = true
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	for _, cb := range observers {
		cb()
	}
}

// Connection — единоличный владелец одного Protocol; посредник между
// движком и транспортом для отправки сообщений и обработки закрытия.
// Состояние миграции для всех соединений, созданных по исходящему пути,
// зафиксировано как завершённое — здесь нет отдельного поля, так как
// незавершённых миграций в этой реализации не бывает.
type Connection struct {
	URI       string
	protocol  *RefCounted
	onClosed  func()
	onMessage func(*message.Message)
	closed    atomic.Bool
}

// NewConnection оборачивает protocol во владеющее Connection с адресом uri.
func NewConnection(uri string, protocol *RefCounted) *Connection {
	c := &Connection{URI: uri, protocol: protocol}
	protocol.AddOnClosed(c.handleClosed)
	protocol.SetOnMessage(c.handleMessage)
	return c
}

// SetOnClosed регистрирует обратный вызов, который сработает ровно один
// раз при закрытии нижележащего протокола.
func (c *Connection) SetOnClosed(cb func()) { c.onClosed = cb }

// SetOnMessage регистрирует обратный вызов для каждого сообщения, принятого
// через нижележащий протокол, пока соединение не закрыто.
func (c *Connection) SetOnMessage(cb func(*message.Message)) { c.onMessage = cb }

// SendMsg пересылает сообщение в протокол, если соединение ещё не закрыто.
func (c *Connection) SendMsg(payload any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.protocol.SendMsg(payload)
}

// Close закрывает нижележащий протокол. Идемпотентно.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.protocol.Close()
	}
}

// Protocol возвращает владеемый протокол с учётом счётчика ссылок — нужен
// движку для OnProtocolClosed.
func (c *Connection) Protocol() *RefCounted { return c.protocol }

// Closed сообщает, закрыт ли канал уже сейчас. Используется движком, чтобы
// отличить успешное соединение от гонки, в которой протокол умер между
// своим созданием и вызовом ConnectTo (см. RemoteLifecycle).
func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) handleClosed() {
	c.closed.Store(true)
	if c.onClosed != nil {
		c.onClosed()
	}
}

func (c *Connection) handleMessage(msg *message.Message) {
	if c.closed.Load() {
		return
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// Registry создаёт протоколы асинхронно по запросу RemoteFactory. Ровно
// один из (Protocol, error) должен быть ненулевым в завершении cb.
type Registry interface {
	CreateProtocolWithURI(uri string, role Role, cb func(Protocol, error))
}
