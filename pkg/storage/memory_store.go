package storage

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/zentalk-relay/pkg/protocol"
)

// recipientQueue is the pending list of one recipient. Once emptied it is
// marked dead and unlinked; writers that still hold it start over.
type recipientQueue struct {
	mu    sync.Mutex
	items []*protocol.Envelope
	keys  map[string]struct{}
	bytes int64
	dead  bool
}

// MemoryStore is an in-process MessageStore with a byte quota per recipient
type MemoryStore struct {
	queues   sync.Map // protocol.PeerID -> *recipientQueue
	maxBytes int64
	log      logrus.FieldLogger
}

// NewMemoryStore creates a store; maxBytes <= 0 selects DefaultMaxStoredBytes
func NewMemoryStore(maxBytes int64, log logrus.FieldLogger) *MemoryStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxStoredBytes
	}
	return &MemoryStore{
		maxBytes: maxBytes,
		log:      orStandardLogger(log).WithField("component", "memory-store"),
	}
}

func (s *MemoryStore) AddMessage(env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	for {
		v, _ := s.queues.LoadOrStore(env.To, &recipientQueue{keys: make(map[string]struct{})})
		q := v.(*recipientQueue)

		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		s.appendLocked(q, env)
		if len(q.items) == 0 {
			// a fresh queue whose only envelope was over quota
			q.dead = true
			s.queues.CompareAndDelete(env.To, q)
		}
		q.mu.Unlock()
		return nil
	}
}

func (s *MemoryStore) appendLocked(q *recipientQueue, env *protocol.Envelope) {
	key := env.KeyString()
	if _, dup := q.keys[key]; dup {
		s.log.WithField("peer", env.To.Short()).Debug("Duplicate envelope ignored")
		return
	}

	size := env.Size()
	if q.bytes+size > s.maxBytes {
		s.log.WithFields(logrus.Fields{
			"peer":   env.To.Short(),
			"stored": q.bytes,
			"size":   size,
			"quota":  s.maxBytes,
		}).Warn("Store quota exceeded, dropping envelope")
		return
	}

	q.items = append(q.items, env)
	q.keys[key] = struct{}{}
	q.bytes += size
}

func (s *MemoryStore) GetMessages(to protocol.PeerID) ([]*protocol.Envelope, error) {
	v, ok := s.queues.Load(to)
	if !ok {
		return nil, nil
	}
	q := v.(*recipientQueue)

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*protocol.Envelope, len(q.items))
	copy(out, q.items)
	return out, nil
}

func (s *MemoryStore) RemoveMessage(env *protocol.Envelope) error {
	v, ok := s.queues.Load(env.To)
	if !ok {
		return nil
	}
	q := v.(*recipientQueue)

	q.mu.Lock()
	defer q.mu.Unlock()

	key := env.KeyString()
	if _, ok := q.keys[key]; !ok {
		return nil
	}

	for i, item := range q.items {
		if item.KeyString() != key {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.bytes -= item.Size()
		delete(q.keys, key)
		break
	}

	if len(q.items) == 0 {
		q.dead = true
		s.queues.CompareAndDelete(env.To, q)
	}
	return nil
}

func (s *MemoryStore) Usage(to protocol.PeerID) (int64, error) {
	v, ok := s.queues.Load(to)
	if !ok {
		return 0, nil
	}
	q := v.(*recipientQueue)

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes, nil
}

// QueueSize returns the number of pending envelopes across all recipients
func (s *MemoryStore) QueueSize() (int, error) {
	n := 0
	s.queues.Range(func(_, v any) bool {
		q := v.(*recipientQueue)
		q.mu.Lock()
		n += len(q.items)
		q.mu.Unlock()
		return true
	})
	return n, nil
}

// recipients returns how many recipient queues are linked
func (s *MemoryStore) recipients() int {
	n := 0
	s.queues.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) Close() error {
	return nil
}
