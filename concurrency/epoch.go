package concurrency

import (
	"math"
	"sync"

	"github.com/cmu-db/peloton-sub010/storage"
)

const epochShift = 32

// EpochManager hands out commit ids. A commit id is the current epoch in the
// high word and a counter within the epoch in the low word, so every commit id
// of a later epoch is larger than every commit id of an earlier one.
type EpochManager struct {
	mutex   sync.Mutex
	current storage.EpochID
	counter uint32
}

func NewEpochManager() *EpochManager {
	return &EpochManager{
		current: 1,
	}
}

func EpochOf(cid storage.CID) storage.EpochID {
	return storage.EpochID(cid >> epochShift)
}

func makeCID(epoch storage.EpochID, counter uint32) storage.CID {
	return storage.CID(uint64(epoch)<<epochShift | uint64(counter))
}

// EnterEpoch returns a new commit id, larger than any returned before.
func (em *EpochManager) EnterEpoch() storage.CID {
	em.mutex.Lock()
	defer em.mutex.Unlock()

	if em.counter == math.MaxUint32 {
		em.current += 1
		em.counter = 0
	}
	em.counter += 1
	return makeCID(em.current, em.counter)
}

// NextEpoch starts a new epoch and returns it.
func (em *EpochManager) NextEpoch() storage.EpochID {
	em.mutex.Lock()
	defer em.mutex.Unlock()

	em.current += 1
	em.counter = 0
	return em.current
}

func (em *EpochManager) CurrentEpoch() storage.EpochID {
	em.mutex.Lock()
	defer em.mutex.Unlock()

	return em.current
}

// SetCurrentEpoch moves the epoch forward to epoch; it never moves backwards.
func (em *EpochManager) SetCurrentEpoch(epoch storage.EpochID) {
	em.mutex.Lock()
	defer em.mutex.Unlock()

	if epoch > em.current {
		em.current = epoch
		em.counter = 0
	}
}
