// Package alerts holds the bounded, ordered alert feed.
package alerts

import (
	"errors"
	"sync"

	"github.com/chrisdamba/venuesim/internal/models"
)

var ErrNotFound = errors.New("alert not found")

// Log is a fixed-capacity ring buffer of alerts kept oldest-first. Appending
// to a full log evicts the oldest entry.
type Log struct {
	mu    sync.RWMutex
	buf   []models.AlertEvent
	head  int
	count int
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{buf: make([]models.AlertEvent, capacity)}
}

// Append adds alert at the newest end. When the log was full the evicted
// oldest alert is returned with true. An alert without a status is stored
// as active.
func (l *Log) Append(alert models.AlertEvent) (models.AlertEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if alert.Status == "" {
		alert.Status = models.AlertStatusActive
	}

	if l.count < len(l.buf) {
		l.buf[l.index(l.count)] = alert
		l.count++
		return models.AlertEvent{}, false
	}

	evicted := l.buf[l.head]
	l.buf[l.head] = alert
	l.head = (l.head + 1) % len(l.buf)
	return evicted, true
}

// Acknowledge removes exactly the alert with id, keeping the others in order.
func (l *Log) Acknowledge(id string) (models.AlertEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.find(id)
	if pos < 0 {
		return models.AlertEvent{}, ErrNotFound
	}
	removed := l.buf[l.index(pos)]
	for i := pos; i < l.count-1; i++ {
		l.buf[l.index(i)] = l.buf[l.index(i+1)]
	}
	l.buf[l.index(l.count-1)] = models.AlertEvent{}
	l.count--
	return removed, nil
}

// Resolve marks the alert with id as resolved without removing it.
func (l *Log) Resolve(id string) (models.AlertEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.find(id)
	if pos < 0 {
		return models.AlertEvent{}, ErrNotFound
	}
	i := l.index(pos)
	l.buf[i].Status = models.AlertStatusResolved
	return l.buf[i], nil
}

// Respond moves an active alert to in progress and records who took it.
// Responding again or to a resolved alert leaves it unchanged.
func (l *Log) Respond(id, email string) (models.AlertEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.find(id)
	if pos < 0 {
		return models.AlertEvent{}, ErrNotFound
	}
	i := l.index(pos)
	if l.buf[i].Status == models.AlertStatusActive {
		l.buf[i].Status = models.AlertStatusInProgress
		l.buf[i].RespondedBy = email
	}
	return l.buf[i], nil
}

// Clear empties the log and reports how many alerts were dropped.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.count
	for i := range l.buf {
		l.buf[i] = models.AlertEvent{}
	}
	l.head, l.count = 0, 0
	return n
}

func (l *Log) Get(id string) (models.AlertEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos := l.find(id)
	if pos < 0 {
		return models.AlertEvent{}, ErrNotFound
	}
	return l.buf[l.index(pos)], nil
}

// List returns a copy of the alerts matching status, oldest first. Status is
// one of all, active, in_progress or resolved; anything else is treated as
// all. Active does not include alerts already in progress.
func (l *Log) List(status string) []models.AlertEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.AlertEvent, 0, l.count)
	for i := 0; i < l.count; i++ {
		alert := l.buf[l.index(i)]
		switch status {
		case models.AlertStatusActive, models.AlertStatusInProgress, models.AlertStatusResolved:
			if alert.Status != status {
				continue
			}
		}
		out = append(out, alert)
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

func (l *Log) Cap() int {
	return len(l.buf)
}

func (l *Log) index(pos int) int {
	return (l.head + pos) % len(l.buf)
}

func (l *Log) find(id string) int {
	for i := 0; i < l.count; i++ {
		if l.buf[l.index(i)].ID == id {
			return i
		}
	}
	return -1
}
