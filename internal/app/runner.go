// Package app реализует верхний уровень управления жизненным циклом
// процесса ядра движка. Файл runner.go — точка оркестрации: узлы
// запускаются и останавливаются через internal/infra/lifecycle.Manager в
// порядке их объявленных зависимостей, а основной цикл блокируется до
// отмены внешнего контекста (Ctrl+C/SIGTERM, либо команда "exit" из CLI).
package app

import (
	"context"

	"tenengine/internal/adapters/cli"
	"tenengine/internal/engine"
	"tenengine/internal/infra/config"
	"tenengine/internal/infra/concurrency"
	"tenengine/internal/infra/graphstore"
	"tenengine/internal/infra/lifecycle"
	"tenengine/internal/infra/logger"
	"tenengine/internal/protocol/loopback"
)

// Узлы lifecycle.Manager, в порядке объявления зависимостей.
const (
	nodeGraphstore = "graphstore"
	nodeEngine     = "engine"
	nodeCLI        = "cli"
)

// Runner инкапсулирует сценарий запуска и остановки процесса движка.
// Отвечает за:
//   - регистрацию узлов (graphstore, engine, cli) в lifecycle.Manager,
//   - опциональный таймер автоматического останова (SHUTDOWN_TIMEOUT_SEC),
//   - блокировку до завершения внешнего контекста и корректный Shutdown.
type Runner struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc

	eng        *engine.Engine
	registry   *loopback.Registry
	graphs     *graphstore.Store
	cliService *cli.Service

	manager *lifecycle.Manager
}

// NewRunner подготавливает Runner с переданными зависимостями. Возвращает
// объект, готовый к запуску Run().
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	eng *engine.Engine,
	registry *loopback.Registry,
	graphs *graphstore.Store,
	cliService *cli.Service,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		eng:        eng,
		registry:   registry,
		graphs:     graphs,
		cliService: cliService,
	}
}

// Run — главный цикл процесса движка. Регистрирует узлы, запускает их через
// lifecycle.Manager, опционально взводит таймер автоостанова и блокируется
// до отмены mainCtx, после чего выполняет обратный порядок остановки.
func (r *Runner) Run() error {
	r.manager = lifecycle.New(r.mainCtx)

	if err := r.manager.Register(nodeGraphstore, "", nil, r.startGraphstore, r.stopGraphstore); err != nil {
		return err
	}
	if err := r.manager.Register(nodeEngine, "", []string{nodeGraphstore}, r.startEngine, nil); err != nil {
		return err
	}
	if err := r.manager.Register(nodeCLI, "", []string{nodeEngine}, r.startCLI, r.stopCLI); err != nil {
		return err
	}

	if err := r.manager.StartAll(); err != nil {
		r.manager.Shutdown()
		return err
	}

	if err := concurrency.StartTimeoutTimer(r.mainCtx, config.Env().ShutdownTimeoutSec, r.mainCancel); err != nil {
		logger.Errorf("failed to start auto-shutdown timer: %v", err)
	}

	logger.Info("Engine running...")
	<-r.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping runner...")

	if err := r.manager.Shutdown(); err != nil {
		logger.Errorf("lifecycle shutdown returned errors: %v", err)
		return err
	}
	return nil
}

func (r *Runner) startGraphstore(ctx context.Context) (context.Context, error) {
	logger.Debug("node graphstore: nothing to start, storage already opened during app.Init")
	return nil, nil
}

func (r *Runner) stopGraphstore(_ context.Context) error {
	if r.graphs == nil {
		return nil
	}
	return r.graphs.Close()
}

// startEngine ничего не поднимает в фоне: Engine реактивен и управляется
// обратными вызовами реестра протокола. Его останов идёт через
// Engine.CloseAsync, запускаемый из stopCLI после закрытия консоли.
func (r *Runner) startEngine(ctx context.Context) (context.Context, error) {
	logger.Debug("node engine: ready, awaiting dials/commands")
	return nil, nil
}

func (r *Runner) startCLI(ctx context.Context) (context.Context, error) {
	r.cliService.Start(ctx)
	return nil, nil
}

func (r *Runner) stopCLI(_ context.Context) error {
	r.cliService.Stop()

	done := make(chan struct{})
	r.eng.OnFinalized(func() { close(done) })
	r.eng.CloseAsync()
	<-done
	return nil
}
