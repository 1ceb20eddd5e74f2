package cache

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/storage"
)

// Manager passes table invalidations from the catalog to every registered
// statement cache.
type Manager struct {
	mutex  sync.Mutex
	caches map[*StatementCache]struct{}
}

func NewManager() *Manager {
	return &Manager{
		caches: map[*StatementCache]struct{}{},
	}
}

func (m *Manager) Register(sc *StatementCache) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.caches[sc] = struct{}{}
}

func (m *Manager) Unregister(sc *StatementCache) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.caches, sc)
}

func (m *Manager) InvalidateTableOid(oid storage.Oid) {
	m.mutex.Lock()
	caches := make([]*StatementCache, 0, len(m.caches))
	for sc := range m.caches {
		caches = append(caches, sc)
	}
	m.mutex.Unlock()

	var n int
	for _, sc := range caches {
		n += sc.InvalidateTableOid(oid)
	}
	log.WithFields(log.Fields{
		"table":      oid,
		"statements": n,
	}).Debug("cache: invalidated table")
}
