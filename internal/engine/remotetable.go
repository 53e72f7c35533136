package engine

// remoteTable — карта сильных удалённых каналов плюс последовательность
// слабых. Вызывающая сторона (Engine) обязана удерживать mu на протяжении
// любого вызова — сам remoteTable не синхронизируется.
type remoteTable struct {
	strong map[string]*Remote
	weak   []*Remote
}

func newRemoteTable() remoteTable {
	return remoteTable{strong: make(map[string]*Remote)}
}

// addStrong вставляет remote в сильную карту. Паникует при повторной
// вставке по тому же uri — вызывающая сторона обязана проверить отсутствие
// записи заранее (инвариант 1).
func (t *remoteTable) addStrong(r *Remote) {
	if _, exists := t.strong[r.URI]; exists {
		panic("engine: addStrong on existing uri " + r.URI)
	}
	t.strong[r.URI] = r
}

// addWeak добавляет remote в слабую последовательность. Паникует, если
// для того же uri уже есть слабая запись (инвариант 1).
func (t *remoteTable) addWeak(r *Remote) {
	for _, w := range t.weak {
		if w.URI == r.URI {
			panic("engine: addWeak duplicate weak entry for uri " + r.URI)
		}
	}
	t.weak = append(t.weak, r)
}

// removeWeak удаляет remote из слабой последовательности по идентичности.
func (t *remoteTable) removeWeak(r *Remote) bool {
	for i, w := range t.weak {
		if w == r {
			t.weak = append(t.weak[:i], t.weak[i+1:]...)
			return true
		}
	}
	return false
}

// removeStrong удаляет remote из сильной карты, только если там лежит
// именно этот экземпляр (а не другой remote с тем же uri).
func (t *remoteTable) removeStrong(r *Remote) bool {
	if existing, ok := t.strong[r.URI]; ok && existing == r {
		delete(t.strong, r.URI)
		return true
	}
	return false
}

// promote переносит remote из слабой последовательности в сильную карту.
func (t *remoteTable) promote(r *Remote) {
	t.removeWeak(r)
	t.addStrong(r)
}

func (t *remoteTable) findStrong(uri string) *Remote {
	return t.strong[uri]
}

func (t *remoteTable) findWeak(uri string) *Remote {
	for _, w := range t.weak {
		if w.URI == uri {
			return w
		}
	}
	return nil
}

// findAny ищет сначала в сильной карте, затем в слабой последовательности.
func (t *remoteTable) findAny(uri string) *Remote {
	if r := t.findStrong(uri); r != nil {
		return r
	}
	return t.findWeak(uri)
}

func (t *remoteTable) isWeak(r *Remote) bool {
	for _, w := range t.weak {
		if w == r {
			return true
		}
	}
	return false
}

func (t *remoteTable) isEmpty() bool {
	return len(t.strong) == 0 && len(t.weak) == 0
}
