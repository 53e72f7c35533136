package engine

import "golang.org/x/time/rate"

// DialLimiter ограничивает темп вызовов CreateRemoteAsync — это пейсинг
// попыток дозвона, а не ограничение очереди сообщений (последнее прямо
// исключено из области этого ядра). Обёртка над rate.Limiter нужна лишь
// для того, чтобы дать ядру один простой Allow()-вызов вместо прямой
// зависимости каждого потребителя от golang.org/x/time/rate.
type DialLimiter struct {
	limiter *rate.Limiter
}

// NewDialLimiter создаёт ограничитель с темпом ratePerSec дозвонов в секунду
// и разовым запасом burst. ratePerSec <= 0 означает отсутствие ограничения
// (Allow всегда true) — предпочтительнее, чем nil-проверки на вызывающей стороне.
func NewDialLimiter(ratePerSec float64, burst int) *DialLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &DialLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow сообщает, разрешён ли дозвон прямо сейчас, без ожидания.
func (d *DialLimiter) Allow() bool {
	if d == nil {
		return true
	}
	return d.limiter.Allow()
}
