package chat

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
)

// Log is the room-wide message log, ordered by (timestamp, sender id) and deduplicated by message id.
type Log struct {
	mu   sync.RWMutex
	msgs []domain.ChatMessage
	ids  map[string]struct{}
}

func NewLog() *Log {
	return &Log{ids: make(map[string]struct{})}
}

// Insert adds msg at its ordered position and reports false for an id already present.
func (l *Log) Insert(msg domain.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[msg.ID]; dup {
		return false
	}
	l.ids[msg.ID] = struct{}{}
	i := sort.Search(len(l.msgs), func(i int) bool { return msg.Before(l.msgs[i]) })
	l.msgs = append(l.msgs, domain.ChatMessage{})
	copy(l.msgs[i+1:], l.msgs[i:])
	l.msgs[i] = msg
	return true
}

func (l *Log) Messages() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.ChatMessage(nil), l.msgs...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
