package engine

// isDuplicateURI реализует чистое правило тайбрейка: исходящий канал от
// localURI к peerURI считается дубликатом, если peerURI лексикографически
// не меньше localURI. Сторона с меньшим uri теряет свой исходящий канал;
// сторона с большим uri его удерживает. Равные uri трактуются как
// дубликат, чтобы тайбрейк оставался тотальным порядком без неопределённого случая.
func isDuplicateURI(localURI, peerURI string) bool {
	return peerURI >= localURI
}

// checkRemoteIsDuplicatedLocked реализует check_remote_is_duplicated:
// если peerURI уже присутствует в таблице (сильно или слабо) и правило
// тайбрейка отдаёт приоритет другой стороне, новый/ожидающий канал к
// peerURI считается дубликатом и должен быть отброшен.
//
// Вызывается в момент продвижения слабого remote в сильный, а не в момент
// начала дозвона, потому что встречный дозвон может прийти уже после
// начала нашего, но до его завершения.
//
// Вызывающая сторона обязана удерживать e.mu.
func (e *Engine) checkRemoteIsDuplicatedLocked(peerURI string) bool {
	if e.table.findAny(peerURI) == nil {
		return false
	}
	return isDuplicateURI(e.uri, peerURI)
}

// CheckRemoteIsExisted возвращает удалённый канал (сильный либо слабый)
// для uri, если он есть в таблице.
func (e *Engine) CheckRemoteIsExisted(uri string) (*Remote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.table.findAny(uri)
	return r, r != nil
}

// CheckRemoteIsDuplicated — публичная обёртка над checkRemoteIsDuplicatedLocked.
func (e *Engine) CheckRemoteIsDuplicated(peerURI string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkRemoteIsDuplicatedLocked(peerURI)
}

// CheckRemoteIsWeak сообщает, числится ли remote в слабой последовательности.
func (e *Engine) CheckRemoteIsWeak(r *Remote) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.isWeak(r)
}
