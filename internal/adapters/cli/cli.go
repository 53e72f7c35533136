// Package cli — интерактивная командная консоль для управления ядром
// движка. Сервис стартует фоном, читает команды из readline и
// взаимодействует с internal/engine: дозвон, запуск графа, отправка
// сообщений, диагностика. Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"tenengine/internal/engine"
	"tenengine/internal/infra/graphstore"
	"tenengine/internal/infra/logger"
	"tenengine/internal/infra/pr"
	"tenengine/internal/message"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена команд с аргументами здесь только для отображения;
// фактический разбор делает handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "connect <uri>", description: "Dial a peer and promote it to the strong remote table"},
	{name: "startgraph <uri1,uri2,...>", description: "Fan out start_graph to a list of peer uris"},
	{name: "send <uri> <name>", description: "Send a named command to an already-connected remote"},
	{name: "close <uri>", description: "Close the remote at uri"},
	{name: "graphs list", description: "List predefined graphs from the graphstore"},
	{name: "graphs export <path>", description: "Atomically dump predefined graphs to a JSON file"},
	{name: "graphs import <path>", description: "Load predefined graphs from a JSON file"},
	{name: "status", description: "Show engine uri, graph id and closing state"},
	{name: "version", description: "Print engine version"},
	{name: "exit", description: "Stop CLI and initiate engine shutdown"},
}

const commandTimeout = 15 * time.Second

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop(). Потокобезопасность обеспечивается
// дисциплиной запуска/остановки и отсутствием внешних мутаций.
type Service struct {
	eng     *engine.Engine
	graphs  *graphstore.Store
	stopApp context.CancelFunc

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once

	mu      sync.Mutex
	pending map[string]chan *message.Message
}

// NewService создаёт CLI-сервис поверх уже сконструированного движка и
// хранилища предопределённых графов. stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(eng *engine.Engine, graphs *graphstore.Store, stopApp context.CancelFunc) *Service {
	return &Service{
		eng:     eng,
		graphs:  graphs,
		stopApp: stopApp,
		pending: make(map[string]chan *message.Message),
	}
}

// Dispatch реализует engine.Dispatcher: сопоставляет входящие cmd_result с
// командами, ожидающими ответа через send/startgraph, остальное печатает как
// диагностический трафик, адресованный хосту.
func (s *Service) Dispatch(msg *message.Message) {
	if msg.Type == message.CmdResult && msg.Result != nil {
		s.mu.Lock()
		ch, ok := s.pending[msg.Result.ForCmdID]
		if ok {
			delete(s.pending, msg.Result.ForCmdID)
		}
		s.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	pr.Printf("[recv] type=%s name=%q src_graph=%s\n", msg.Type, msg.Name, msg.SrcGraphID)
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки и в цикле читает
// команды построчно, передавая их в handleCommand(). Промпт зависит от того,
// подключён ли stdin к терминалу: в скриптовом режиме (pipe) readline не
// рисует приглашение с адресом движка.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pr.SetPrompt(fmt.Sprintf("%s> ", s.eng.URI()))
	} else {
		pr.SetPrompt("")
	}
	pr.Println("Engine CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Type 'help' for detailed descriptions.")

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую команду и выполняет соответствующее действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		printCommandHelp()
	case "connect":
		s.handleConnect(fields)
	case "startgraph":
		s.handleStartGraph(fields)
	case "send":
		s.handleSend(fields)
	case "close":
		s.handleClose(fields)
	case "graphs":
		s.handleGraphs(fields)
	case "status":
		s.handleStatus()
	case "version":
		pr.Println("tenengine dev build")
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", fields[0])
	}
	return false
}

func (s *Service) handleConnect(fields []string) {
	if len(fields) != 2 {
		pr.ErrPrintln("usage: connect <uri>")
		return
	}
	uri := fields[1]

	ok := s.eng.CreateRemoteAsync(uri, func(remote *engine.Remote, err error) {
		if err != nil {
			pr.ErrPrintln("connect: create remote failed:", err)
			return
		}
		s.eng.ConnectTo(remote, nil,
			func(r *engine.Remote) {
				if r == nil {
					pr.Println("connect: duplicate inbound already covers", uri)
					return
				}
				pr.Println("connected:", uri)
			},
			func(_ *engine.Remote, connErr error) {
				pr.ErrPrintln("connect: failed to connect:", connErr)
			},
		)
	})
	if !ok {
		pr.ErrPrintln("connect: rejected by dial limiter")
	}
}

func (s *Service) handleStartGraph(fields []string) {
	if len(fields) != 2 {
		pr.ErrPrintln("usage: startgraph <uri1,uri2,...>")
		return
	}
	peers := strings.Split(fields[1], ",")

	original := message.NewStartGraph(message.Dest{AppURI: s.eng.URI(), GraphID: s.eng.GraphID()}, nil)
	result, err := s.awaitResultAfter(original.ID, func() { s.eng.StartGraph(original, peers) })
	if err != nil {
		pr.ErrPrintln("startgraph:", err)
		return
	}
	printResult("startgraph", result)
}

func (s *Service) handleSend(fields []string) {
	if len(fields) < 3 {
		pr.ErrPrintln("usage: send <uri> <name>")
		return
	}
	uri, name := fields[1], fields[2]

	cmd := message.NewCmd(name, message.Dest{AppURI: uri, GraphID: s.eng.GraphID()})
	result, err := s.awaitResultAfter(cmd.ID, func() { s.eng.RouteMsgToRemote(cmd) })
	if err != nil {
		pr.ErrPrintln("send:", err)
		return
	}
	printResult("send", result)
}

// awaitResultAfter регистрирует канал ожидания cmd_result для cmdID, затем
// запускает fire (которое в конце концов приводит к вызову Dispatch с этим
// cmdID) и блокирует вызывающего до ответа или истечения таймаута.
func (s *Service) awaitResultAfter(cmdID string, fire func()) (*message.Message, error) {
	ch := make(chan *message.Message, 1)
	s.mu.Lock()
	s.pending[cmdID] = ch
	s.mu.Unlock()

	fire()

	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(commandTimeout):
		s.mu.Lock()
		delete(s.pending, cmdID)
		s.mu.Unlock()
		return nil, fmt.Errorf("timed out waiting for cmd_result")
	}
}

func (s *Service) handleClose(fields []string) {
	if len(fields) != 2 {
		pr.ErrPrintln("usage: close <uri>")
		return
	}
	remote, ok := s.eng.CheckRemoteIsExisted(fields[1])
	if !ok {
		pr.ErrPrintln("close: no remote for", fields[1])
		return
	}
	remote.Close()
	pr.Println("close: requested for", fields[1])
}

// handleGraphs обслуживает "graphs list|export <path>|import <path>" поверх
// graphstore.Store, атомарная запись которого используется только здесь.
func (s *Service) handleGraphs(fields []string) {
	if len(fields) < 2 {
		pr.ErrPrintln("usage: graphs list|export <path>|import <path>")
		return
	}
	switch fields[1] {
	case "list":
		for _, g := range s.graphs.Graphs() {
			pr.Printf("  %s -> %s\n", g.Name, strings.Join(g.PeerURIs, ","))
		}
	case "export":
		if len(fields) != 3 {
			pr.ErrPrintln("usage: graphs export <path>")
			return
		}
		if err := s.graphs.ExportJSON(fields[2]); err != nil {
			pr.ErrPrintln("graphs export:", err)
			return
		}
		pr.Println("graphs export: wrote", fields[2])
	case "import":
		if len(fields) != 3 {
			pr.ErrPrintln("usage: graphs import <path>")
			return
		}
		n, err := s.graphs.ImportJSON(fields[2])
		if err != nil {
			pr.ErrPrintln("graphs import:", err)
			return
		}
		pr.Printf("graphs import: loaded %d graph(s)\n", n)
	default:
		pr.ErrPrintln("unknown graphs subcommand:", fields[1])
	}
}

func (s *Service) handleStatus() {
	pr.Printf("uri=%s graph_id=%s closing=%t closed=%t pending_async=%t\n",
		s.eng.URI(), s.eng.GraphID(), s.eng.IsClosing(), s.eng.Closed(), s.eng.HasUncompletedAsyncTask())
}

func printResult(label string, msg *message.Message) {
	if msg.Result == nil {
		pr.Println(label, "result: <empty>")
		return
	}
	status := "OK"
	if msg.Result.Status == message.StatusError {
		status = "ERROR"
	}
	pr.Printf("%s result: %s %s\n", label, status, msg.Result.Detail)
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-26s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
