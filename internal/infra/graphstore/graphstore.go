// Package graphstore персистентно хранит таблицу "имя графа → peer uri"
// в bbolt: предопределённые графы, на которые receive_msg_from_remote
// подставляет dest_graph, когда сообщение его не указывает. Это
// конфигурация уровня хоста, а не состояние живых remote/connection.
package graphstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"tenengine/internal/infra/storage"
	"tenengine/internal/shared"
)

const (
	graphsBucketName           = "graphs"
	dbOpenTimeout               = time.Second
	dbFileMode      os.FileMode = 0o600
)

var graphsBucketBytes = []byte(graphsBucketName)

// Graph — предопределённое определение графа: имя и упорядоченный список
// peer uri, которые StartGraphOrchestrator должен обойти при его старте.
type Graph struct {
	Name     string   `json:"name"`
	PeerURIs []string `json:"peer_uris"`
}

// Store инкапсулирует bbolt-файл с таблицей предопределённых графов.
type Store struct {
	db *bbolt.DB

	mu     sync.RWMutex
	graphs map[string]Graph
}

// Open открывает (или создаёт) bbolt-файл по path и загружает его
// содержимое в память. dir создаётся при необходимости.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("graphstore: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("graphstore: open db: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(graphsBucketBytes)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("graphstore: init bucket: %w", err)
	}

	s := &Store{db: db, graphs: make(map[string]Graph)}
	if err := s.loadAll(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close закрывает файл базы данных.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup возвращает peer uri для предопределённого графа name.
func (s *Store) Lookup(name string) (Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[name]
	return g, ok
}

// PredefinedGraphMap возвращает "имя графа → первый peer uri" для
// engine.WithPredefinedGraphs, который принимает одно значение на граф.
// Полный список PeerURIs отдаёт Graphs().
func (s *Store) PredefinedGraphMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.graphs))
	for name, g := range s.graphs {
		if first, ok := shared.GetAt(g.PeerURIs, 0); ok {
			out[name] = first
		}
	}
	return out
}

// Graphs возвращает копию всей таблицы предопределённых графов.
func (s *Store) Graphs() []Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Graph, 0, len(s.graphs))
	for _, g := range s.graphs {
		out = append(out, g)
	}
	return out
}

// Put сохраняет (или перезаписывает) определение графа.
func (s *Store) Put(g Graph) error {
	if g.Name == "" {
		return fmt.Errorf("graphstore: graph name is empty")
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("graphstore: marshal graph %q: %w", g.Name, err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(graphsBucketBytes)
		return bucket.Put([]byte(g.Name), payload)
	}); err != nil {
		return fmt.Errorf("graphstore: put graph %q: %w", g.Name, err)
	}

	s.mu.Lock()
	s.graphs[g.Name] = g
	s.mu.Unlock()
	return nil
}

// Delete удаляет определение графа по имени. Отсутствие ключа не ошибка.
func (s *Store) Delete(name string) error {
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(graphsBucketBytes)
		return bucket.Delete([]byte(name))
	}); err != nil {
		return fmt.Errorf("graphstore: delete graph %q: %w", name, err)
	}

	s.mu.Lock()
	delete(s.graphs, name)
	s.mu.Unlock()
	return nil
}

// ExportJSON записывает всю таблицу предопределённых графов в path одним
// JSON-массивом, атомарно (см. storage.AtomicWriteFile) — отдельный файл
// либо остаётся нетронутым, либо полностью заменяется новым снапшотом.
func (s *Store) ExportJSON(path string) error {
	graphs := s.Graphs()
	payload, err := json.MarshalIndent(graphs, "", "  ")
	if err != nil {
		return fmt.Errorf("graphstore: marshal export: %w", err)
	}
	if err := storage.AtomicWriteFile(path, payload); err != nil {
		return fmt.Errorf("graphstore: export to %q: %w", path, err)
	}
	return nil
}

// ImportJSON читает JSON-массив графов из path (см. ExportJSON) и
// перезаписывает ими bbolt-таблицу и её in-memory зеркало, по одному Put
// на графа. Некорректные/пустые записи отклоняются так же, как в Put.
func (s *Store) ImportJSON(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("graphstore: read %q: %w", path, err)
	}
	var graphs []Graph
	if err := json.Unmarshal(data, &graphs); err != nil {
		return 0, fmt.Errorf("graphstore: decode %q: %w", path, err)
	}
	for _, g := range graphs {
		if err := s.Put(g); err != nil {
			return 0, err
		}
	}
	return len(graphs), nil
}

func (s *Store) loadAll() error {
	graphs := make(map[string]Graph)
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(graphsBucketBytes)
		return bucket.ForEach(func(k, v []byte) error {
			var g Graph
			if err := json.Unmarshal(v, &g); err != nil {
				return fmt.Errorf("decode graph %q: %w", string(k), err)
			}
			graphs[g.Name] = g
			return nil
		})
	}); err != nil {
		return fmt.Errorf("graphstore: load: %w", err)
	}
	s.graphs = graphs
	return nil
}
