// Package loopback реализует конкретный аддон протокола поверх net.Pipe —
// он существует, чтобы по-настоящему упражнять RemoteFactory и дуплексный
// обмен сообщениями без кодека и сети, которые остаются вне области ядра.
// Формат проводного протокола по-прежнему не определяется: по каждому Pipe
// пересылаются закодированные gob-значением сообщения одного типа.
package loopback

import (
	"bufio"
	"encoding/gob"
	"net"
	"sync"

	"github.com/go-faster/errors"

	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol"
)


// ErrNoListener возвращается, когда реестр не знает, как дозвониться до uri.
var ErrNoListener = errors.New("loopback: no listener for uri")

// Registry — реестр аддонов в пределах одного процесса: каждый зарегистрированный
// URI соответствует "приложению", готовому принять входящий net.Pipe.
// Используется и инициатором дозвона (через CreateProtocolWithURI), и
// стороной-слушателем (через Listen), что позволяет воспроизводить настоящие
// гонки одновременного A→B/B→A соединения в тестах и CLI-демо.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]func(net.Conn)
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]func(net.Conn))}
}

// Listen регистрирует uri как принимающую сторону: каждый дозвон на uri
// получает свой конец net.Pipe через onAccept, выполняемый в новой горутине.
func (r *Registry) Listen(uri string, onAccept func(net.Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[uri] = onAccept
}

// CreateProtocolWithURI реализует protocol.Registry: синхронно находит
// слушателя uri (если есть) и асинхронно уведомляет обе стороны о готовом
// канале. Отсутствие слушателя — ошибка создания, как отказ аддона в сети.
func (r *Registry) CreateProtocolWithURI(uri string, _ protocol.Role, cb func(protocol.Protocol, error)) {
	r.mu.Lock()
	onAccept, ok := r.listeners[uri]
	r.mu.Unlock()

	if !ok {
		go cb(nil, ErrNoListener)
		return
	}

	clientConn, serverConn := net.Pipe()
	go onAccept(serverConn)
	go cb(newPipeProtocol(uri, clientConn), nil)
}

// NewAcceptedProtocol оборачивает принятый net.Conn (переданный в onAccept
// через Listen) в protocol.Protocol с той же кодировкой, что и дозванивающаяся
// сторона. Результат можно передать в Engine.LinkOrphanConnectionToRemote,
// чтобы продвинуть входящее соединение; internal/app этого не делает.
func NewAcceptedProtocol(uri string, nc net.Conn) protocol.Protocol {
	return newPipeProtocol(uri, nc)
}

// pipeProtocol — реализация минимального protocol.Protocol поверх net.Conn,
// кодирующая каждое сообщение через gob. Ошибка чтения (в том числе после
// Close) завершает цикл чтения, и onClosed срабатывает ровно один раз;
// ошибка записи возвращается из SendMsg и канал не закрывает.
type pipeProtocol struct {
	uri string
	mu  sync.Mutex
	enc *gob.Encoder
	dec *gob.Decoder
	nc  net.Conn

	closeOnce sync.Once
	onClosed  func()
	onMessage func(*message.Message)
}

func newPipeProtocol(uri string, nc net.Conn) *pipeProtocol {
	p := &pipeProtocol{
		uri: uri,
		nc:  nc,
		enc: gob.NewEncoder(nc),
		dec: gob.NewDecoder(bufio.NewReader(nc)),
	}
	go p.readLoop()
	return p
}

func (p *pipeProtocol) URI() string { return p.uri }

func (p *pipeProtocol) SendMsg(payload any) error {
	msg, ok := payload.(*message.Message)
	if !ok {
		return errors.Newf("loopback: unsupported payload type %T", payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(msg); err != nil {
		return errors.Wrap(err, "loopback: send")
	}
	return nil
}

func (p *pipeProtocol) Close() {
	_ = p.nc.Close()
}

func (p *pipeProtocol) SetOnClosed(cb func()) { p.onClosed = cb }

func (p *pipeProtocol) SetOnMessage(cb func(*message.Message)) { p.onMessage = cb }

func (p *pipeProtocol) readLoop() {
	for {
		var msg message.Message
		if err := p.dec.Decode(&msg); err != nil {
			p.closeOnce.Do(func() {
				logger.Debugf("loopback[%s]: read loop ended: %v", p.uri, err)
				if p.onClosed != nil {
					p.onClosed()
				}
			})
			return
		}
		if p.onMessage != nil {
			p.onMessage(&msg)
		} else {
			logger.Debugf("loopback[%s]: received %q with no subscriber yet", p.uri, msg.Name)
		}
	}
}
