package engine_test

import (
	"sync"

	"tenengine/internal/message"
	"tenengine/internal/protocol"
)

// fakeProtocol — минимальный protocol.Protocol для тестов: без сети и
// кодека, опционально связывается с другим fakeProtocol, чтобы SendMsg на
// одной стороне доставлялся через SetOnMessage на другой. SetOnClosed,
// как и protocol.RefCounted.AddOnClosed, вызывает cb немедленно, если канал
// уже закрыт к моменту подписки — это нужно, чтобы смоделировать обрыв
// транспорта в окне между созданием протокола и его обёртыванием движком.
type fakeProtocol struct {
	uri string

	mu        sync.Mutex
	closed    bool
	onClosed  func()
	onMessage func(*message.Message)
	sent      []*message.Message
	peer      *fakeProtocol
	sendErr   error
}

func (p *fakeProtocol) URI() string { return p.uri }

func (p *fakeProtocol) SendMsg(payload any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return protocol.ErrClosed
	}
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return err
	}
	msg, _ := payload.(*message.Message)
	p.sent = append(p.sent, msg)
	peer := p.peer
	p.mu.Unlock()

	if peer != nil {
		peer.deliver(msg)
	}
	return nil
}

func (p *fakeProtocol) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cb := p.onClosed
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (p *fakeProtocol) SetOnClosed(cb func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb()
		return
	}
	p.onClosed = cb
	p.mu.Unlock()
}

func (p *fakeProtocol) SetOnMessage(cb func(*message.Message)) { p.onMessage = cb }

func (p *fakeProtocol) sentMessages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func (p *fakeProtocol) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeProtocol) deliver(msg *message.Message) {
	p.mu.Lock()
	cb := p.onMessage
	p.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// fakeRegistry — protocol.Registry, синхронный по умолчанию:
// CreateProtocolWithURI вызывает cb до возврата, что делает большинство
// тестов детерминированными без sleep/wait. holdURI/release(Closed) дают
// управляемое "асинхронное" создание там, где тест должен сам выбрать
// момент, в который on_protocol_created срабатывает.
type fakeRegistry struct {
	mu      sync.Mutex
	failing map[string]error
	created map[string]*fakeProtocol
	held    map[string]bool
	heldCb  map[string]func(protocol.Protocol, error)
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		failing: make(map[string]error),
		created: make(map[string]*fakeProtocol),
		held:    make(map[string]bool),
		heldCb:  make(map[string]func(protocol.Protocol, error)),
	}
}

func (r *fakeRegistry) failURI(uri string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[uri] = err
}

// holdURI withholds the registry callback for uri until release/releaseClosed is called.
func (r *fakeRegistry) holdURI(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[uri] = true
}

// release hands a freshly-created, open protocol to the held callback for uri.
func (r *fakeRegistry) release(uri string) {
	r.deliverHeld(uri, false)
}

// releaseClosed hands a protocol that is already closed to the held callback
// for uri, simulating the transport dying before the engine finishes wiring it.
func (r *fakeRegistry) releaseClosed(uri string) {
	r.deliverHeld(uri, true)
}

func (r *fakeRegistry) deliverHeld(uri string, closed bool) {
	r.mu.Lock()
	cb := r.heldCb[uri]
	delete(r.heldCb, uri)
	delete(r.held, uri)
	r.mu.Unlock()
	if cb == nil {
		return
	}

	p := &fakeProtocol{uri: uri}
	if closed {
		p.Close()
	}
	r.mu.Lock()
	r.created[uri] = p
	r.mu.Unlock()
	cb(p, nil)
}

func (r *fakeRegistry) protocolFor(uri string) *fakeProtocol {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created[uri]
}

func (r *fakeRegistry) CreateProtocolWithURI(uri string, _ protocol.Role, cb func(protocol.Protocol, error)) {
	r.mu.Lock()
	err := r.failing[uri]
	held := r.held[uri]
	r.mu.Unlock()

	if err != nil {
		cb(nil, err)
		return
	}
	if held {
		r.mu.Lock()
		r.heldCb[uri] = cb
		r.mu.Unlock()
		return
	}

	p := &fakeProtocol{uri: uri}
	r.mu.Lock()
	r.created[uri] = p
	r.mu.Unlock()
	cb(p, nil)
}
