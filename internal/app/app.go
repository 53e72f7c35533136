// Package app — верхний уровень сборки и инициализации процесса ядра
// движка. Здесь связываются конфигурация, протокольный аддон (loopback),
// хранилище предопределённых графов и сам Engine. Порядок запуска/остановки
// узлов делегирован internal/infra/lifecycle.Manager.
package app

import (
	"context"
	"fmt"

	"tenengine/internal/adapters/cli"
	"tenengine/internal/engine"
	"tenengine/internal/infra/config"
	"tenengine/internal/infra/graphstore"
	"tenengine/internal/infra/logger"
	"tenengine/internal/message"
	"tenengine/internal/protocol/loopback"
)

// App агрегирует зависимости процесса движка и управляет их связью.
// Отвечает за:
//   - открытие хранилища предопределённых графов,
//   - создание реестра аддонов протокола,
//   - конструирование Engine с ограничителем темпа дозвона и таблицей
//     предопределённых графов,
//   - запуск Runner, оркеструющего жизненный цикл и CLI.
type App struct {
	graphs   *graphstore.Store
	registry *loopback.Registry
	eng      *engine.Engine
	runner   *Runner

	ctx  context.Context
	stop context.CancelFunc
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация выполняется в Init().
func NewApp() *App {
	return &App{}
}

// Init связывает компоненты приложения и подготавливает их к запуску:
//  1. открывает graphstore (предопределённые графы),
//  2. создаёт реестр аддонов протокола,
//  3. конструирует Engine поверх реестра, лимитера дозвона и таблицы
//     графов — Engine и CLI-сервис взаимно ссылаются друг на друга (Engine
//     шлёт входящий трафик в CLI через Dispatcher, CLI шлёт команды через
//     Engine), поэтому dispatch передаётся замыканием поверх переменной,
//     которой присваивается готовый cliService сразу после конструирования Engine,
//  4. конструирует Runner, который поднимет узлы через lifecycle.Manager.
func (a *App) Init(ctx context.Context, stop context.CancelFunc) error {
	logger.Info("Engine initializing...")

	a.ctx = ctx
	a.stop = stop

	env := config.Env()

	graphs, err := graphstore.Open(env.GraphstoreFile)
	if err != nil {
		return fmt.Errorf("open graphstore: %w", err)
	}
	a.graphs = graphs

	a.registry = loopback.NewRegistry()

	var dialLimiter *engine.DialLimiter
	if env.DialRatePerSec > 0 {
		dialLimiter = engine.NewDialLimiter(env.DialRatePerSec, 1)
	}

	var cliService *cli.Service
	dispatch := func(msg *message.Message) {
		if cliService != nil {
			cliService.Dispatch(msg)
		}
	}

	a.eng = engine.New(env.AppURI, env.GraphID, a.registry, dispatch,
		engine.WithLongRunningMode(env.LongRunningMode),
		engine.WithDialLimiter(dialLimiter),
		engine.WithPredefinedGraphs(a.graphs.PredefinedGraphMap()),
	)

	cliService = cli.NewService(a.eng, a.graphs, a.stop)

	a.runner = NewRunner(a.ctx, a.stop, a.eng, a.registry, a.graphs, cliService)

	return nil
}

// Run делегирует запуск основного цикла Runner'у.
func (a *App) Run() error {
	return a.runner.Run()
}
