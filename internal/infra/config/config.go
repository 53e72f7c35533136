// Пакет config отвечает за сбор и предоставление конфигурации процесса
// движка. Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет потокобезопасный доступ к результату через R/W мьютекс.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры запуска движка, приходящие из окружения.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	AppURI            string
	GraphID           string
	LongRunningMode   bool
	LogLevel          string
	LogFile           string
	ListenAddr        string
	GraphstoreFile    string
	DialRatePerSec    float64
	ShutdownTimeoutSec int
}

// Config хранит конфигурацию процесса.
//
// Потокобезопасность: публичные геттеры берут RLock.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultLogLevel           = "info"
	defaultListenAddr         = "127.0.0.1:0"
	defaultGraphstoreFile     = "data/graphstore.bbolt"
	defaultDialRatePerSec     = 0
	defaultShutdownTimeoutSec = 0
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации процесса.
// При первом вызове:
//  1. читает .env,
//  2. формирует EnvConfig,
//  3. фиксирует результат в singleton cfgInstance.
//
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	appURI := strings.TrimSpace(os.Getenv("APP_URI"))
	if appURI == "" {
		return nil, errors.New("env APP_URI must be set")
	}

	var warnings []string

	graphID := strings.TrimSpace(os.Getenv("GRAPH_ID"))
	if graphID == "" {
		graphID = uuid.NewString()
		appendWarningf(&warnings, "env GRAPH_ID is not set; generated %q", graphID)
	}

	longRunning := strings.EqualFold(strings.TrimSpace(os.Getenv("LONG_RUNNING_MODE")), "true")
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	listenAddr := sanitizeFile("LISTEN_ADDR", os.Getenv("LISTEN_ADDR"), defaultListenAddr, &warnings)
	graphstoreFile := sanitizeFile("GRAPHSTORE_FILE", os.Getenv("GRAPHSTORE_FILE"), defaultGraphstoreFile, &warnings)
	dialRate := parseFloatDefault("DIAL_RATE_PER_SEC", defaultDialRatePerSec, nonNegativeFloat, &warnings)
	shutdownTimeout := parseIntDefault("SHUTDOWN_TIMEOUT_SEC", defaultShutdownTimeoutSec, nonNegative, &warnings)

	env := EnvConfig{
		AppURI:             appURI,
		GraphID:            graphID,
		LongRunningMode:    longRunning,
		LogLevel:           logLevel,
		LogFile:            logFile,
		ListenAddr:         listenAddr,
		GraphstoreFile:     graphstoreFile,
		DialRatePerSec:     dialRate,
		ShutdownTimeoutSec: shutdownTimeout,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; повторная загрузка не поддерживается (см. Load).
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseFloatDefault — аналог parseIntDefault для чисел с плавающей точкой
// (темп дозвона задаётся дробным значением в секунду).
func parseFloatDefault(name string, defaultVal float64, validator func(float64) bool, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid number; using default %v", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %v does not satisfy constraints; using default %v", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func nonNegative(v int) bool          { return v >= 0 }
func nonNegativeFloat(v float64) bool { return v >= 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultLogLevel.
func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

// sanitizeFile возвращает валидное строковое значение конфигурации. Если
// переменная не задана, подставляет fallback без предупреждения — большинство
// файловых путей здесь опциональны по своей природе.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	_ = name
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}
