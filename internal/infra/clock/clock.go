// Package clock централизует получение текущего времени. Движок не имеет
// понятия локального часового пояса пользователя — всё внутреннее время в UTC.
package clock

import "time"

// Now возвращает текущее время в UTC.
func Now() time.Time {
	return time.Now().UTC()
}
