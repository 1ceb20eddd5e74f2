package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/storage"
)

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	// Dir is the base directory holding the checkpoints and their history.
	Dir string

	// Interval is the number of seconds between checkpoints.
	Interval int

	// Retain is the number of finished checkpoints kept; older ones are
	// removed. Zero keeps one.
	Retain int

	Compress bool
	Clock    Clock
}

// Manager takes timestamp checkpoints of every table, in the background while
// running, and recovers the latest one at startup.
type Manager struct {
	c   *catalog.Catalog
	tm  *concurrency.TransactionManager
	st  *storage.Manager
	cfg Config

	mutex sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}

	// Held for the whole of a checkpoint or a recovery.
	cycleMutex sync.Mutex

	// Called by Checkpoint once its snapshot is taken, before any table is
	// read; tests use it to commit concurrent changes.
	afterSnapshot func()
}

const workingName = "working"

func NewManager(c *catalog.Catalog, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	return &Manager{
		c:   c,
		tm:  c.TransactionManager(),
		st:  c.Storage(),
		cfg: cfg,
	}
}

func (m *Manager) Dir() string {
	return m.cfg.Dir
}

func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// StartCheckpointing starts a goroutine which takes a checkpoint every
// Interval seconds until StopCheckpointing is called or ctx is done.
func (m *Manager) StartCheckpointing(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state == Running {
		return fmt.Errorf("checkpoint: already running")
	}
	err := os.MkdirAll(m.cfg.Dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "checkpoint: create %s", m.cfg.Dir)
	}

	m.state = Running
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(ctx, m.stop, m.done)

	log.WithFields(log.Fields{
		"dir":      m.cfg.Dir,
		"interval": m.cfg.Interval,
	}).Info("checkpoint: started")
	return nil
}

// StopCheckpointing stops the checkpoint goroutine and waits for it to exit;
// a checkpoint in progress is finished first.
func (m *Manager) StopCheckpointing() {
	m.mutex.Lock()
	if m.state != Running {
		m.mutex.Unlock()
		return
	}
	close(m.stop)
	done := m.done
	m.mutex.Unlock()

	<-done

	m.mutex.Lock()
	m.state = Stopped
	m.stop = nil
	m.done = nil
	m.mutex.Unlock()

	log.Info("checkpoint: stopped")
}

func (m *Manager) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := m.cfg.Clock.NewTicker(time.Second)
	defer ticker.Stop()

	var ticks int
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			ticks += 1
			if ticks < m.cfg.Interval {
				continue
			}
			ticks = 0

			_, err := m.Checkpoint(ctx)
			if err != nil {
				log.WithError(err).Warn("checkpoint: skipping cycle")
			}
		}
	}
}

func historyPath(dir string) string {
	return filepath.Join(dir, historyName)
}

// epochDirs returns the epochs of the finished checkpoints in dir, newest
// first. Entries whose name is not a positive integer are skipped.
func epochDirs(dir string) ([]storage.EpochID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "checkpoint: read %s", dir)
	}

	var epochs []storage.EpochID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil || n == 0 {
			continue
		}
		epochs = append(epochs, storage.EpochID(n))
	}
	sort.Slice(epochs, func(i, j int) bool {
		return epochs[i] > epochs[j]
	})
	return epochs, nil
}

func epochDir(dir string, epoch storage.EpochID) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(epoch), 10))
}

// Checkpoints returns the epochs of the finished checkpoints, newest first.
func (m *Manager) Checkpoints() ([]storage.EpochID, error) {
	return epochDirs(m.cfg.Dir)
}

// History lists the checkpoints recorded in the history.
func (m *Manager) History() ([]Record, error) {
	return ListHistory(m.cfg.Dir)
}

// removeOldCheckpoints keeps the newest Retain checkpoints and removes the
// rest, with their history records.
func (m *Manager) removeOldCheckpoints(h *History) error {
	epochs, err := epochDirs(m.cfg.Dir)
	if err != nil {
		return err
	}
	if len(epochs) <= m.cfg.Retain {
		return nil
	}

	old := epochs[m.cfg.Retain:]
	for _, epoch := range old {
		path := epochDir(m.cfg.Dir, epoch)
		err = os.RemoveAll(path)
		if err != nil {
			return errors.Wrapf(err, "checkpoint: remove %s", path)
		}
		log.WithField("epoch", epoch).Debug("checkpoint: removed old checkpoint")
	}
	return h.Remove(old...)
}
