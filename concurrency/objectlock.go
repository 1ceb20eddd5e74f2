package concurrency

import (
	"sync"

	"github.com/cmu-db/peloton-sub010/storage"
)

// ObjectLocks are shared and exclusive locks on catalog objects, keyed by oid.
// DDL takes an exclusive lock on the object it changes; the locks are held
// until the transaction commits or aborts.
type ObjectLocks struct {
	mutex sync.Mutex
	locks map[storage.Oid]*objectLock
}

type locker struct {
	// Locks held by this locker.
	locks map[storage.Oid]*objectLock

	// A locker can wait on only one lock at a time; nextWaiter links the queue of
	// waiters together.
	nextWaiter *locker
	// Notify a locker to try to acquire the lock.
	waitCh chan struct{}
	// Waiting for an exclusive lock.
	waitWrite bool
}

type objectLock struct {
	mutex sync.Mutex

	// count = 0: lock is available.
	// count = -1: exclusive lock held
	// count > 0: number of shared lockers
	count int

	// firstWaiter is the next locker allowed to try to acquire the lock when
	// notified; lastWaiter is where lockers are added to the queue.
	firstWaiter *locker
	lastWaiter  *locker
}

func (ol *ObjectLocks) lookupLock(oid storage.Oid) *objectLock {
	ol.mutex.Lock()
	defer ol.mutex.Unlock()

	if ol.locks == nil {
		ol.locks = map[storage.Oid]*objectLock{}
	}

	lk, ok := ol.locks[oid]
	if ok {
		return lk
	}
	lk = &objectLock{}
	ol.locks[oid] = lk
	return lk
}

func (ol *ObjectLocks) lock(lkr *locker, oid storage.Oid, write bool) bool {
	if lkr.locks == nil {
		lkr.locks = map[storage.Oid]*objectLock{}
	}

	if lk, ok := lkr.locks[oid]; ok {
		if !write {
			return true
		}

		lk.mutex.Lock()
		defer lk.mutex.Unlock()

		if lk.count < 0 {
			return true
		}

		// This locker holds the only shared lock; convert it into an exclusive lock.
		if lk.count == 1 && lk.firstWaiter == nil {
			lk.count = -1
			return true
		}

		// Other shared locks, can't upgrade.
		return false
	}

	lk := ol.lookupLock(oid)

	lk.mutex.Lock()
	if lk.firstWaiter == nil {
		if write {
			if lk.count == 0 {
				lk.count = -1
				lkr.locks[oid] = lk
				lk.mutex.Unlock()
				return true
			}
		} else if lk.count >= 0 {
			lk.count += 1
			lkr.locks[oid] = lk
			lk.mutex.Unlock()
			return true
		}
	}

	lkr.nextWaiter = nil
	if lk.lastWaiter != nil {
		lk.lastWaiter.nextWaiter = lkr
	} else {
		lk.firstWaiter = lkr
	}
	lk.lastWaiter = lkr

	if lkr.waitCh == nil {
		lkr.waitCh = make(chan struct{}, 1)
	}
	lkr.waitWrite = write

	lk.mutex.Unlock()
	<-lkr.waitCh
	lk.mutex.Lock()

	if write && lk.count != 0 {
		panic("concurrency: wait exclusive lock: count != 0")
	}
	if !write && lk.count < 0 {
		panic("concurrency: wait shared lock: count < 0")
	}

	lk.firstWaiter = lkr.nextWaiter
	if lk.firstWaiter == nil {
		lk.lastWaiter = nil
	} else if !write && !lk.firstWaiter.waitWrite {
		lk.firstWaiter.waitCh <- struct{}{}
	}

	if write {
		lk.count = -1
	} else {
		lk.count += 1
	}
	lkr.locks[oid] = lk
	lk.mutex.Unlock()
	return true
}

func (lk *objectLock) unlock() {
	lk.mutex.Lock()
	defer lk.mutex.Unlock()

	if lk.count > 0 {
		lk.count -= 1
	} else if lk.count == -1 {
		lk.count = 0
	} else {
		panic("concurrency: unlock: count not >= 0 and not == -1")
	}

	if lk.firstWaiter != nil && lk.count == 0 {
		lk.firstWaiter.waitCh <- struct{}{}
	}
}

func (lkr *locker) unlock() {
	for _, lk := range lkr.locks {
		lk.unlock()
	}
	lkr.locks = nil
}

// SharedLock blocks until txn holds a shared lock on oid.
func (ol *ObjectLocks) SharedLock(txn *TransactionContext, oid storage.Oid) {
	ol.lock(&txn.locker, oid, false)
}

// ExclusiveLock blocks until txn holds an exclusive lock on oid. It returns
// false if txn already holds a shared lock that other transactions share.
func (ol *ObjectLocks) ExclusiveLock(txn *TransactionContext, oid storage.Oid) bool {
	return ol.lock(&txn.locker, oid, true)
}
