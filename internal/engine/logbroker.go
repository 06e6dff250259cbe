package engine

import (
	"sync"

	"github.com/AppMana/golobulus/internal/model"
)

const (
	// subscriberBufferSize is the channel buffer for each log subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// backlogSize is how many recent lines a new subscriber is replayed.
	backlogSize = 32

	// maxFinishedTopics bounds how many closed topics are kept for replay.
	maxFinishedTopics = 256
)

// LogBroker streams the lines a script prints, per job, to subscribers.
// It is safe for concurrent use.
//
// A job's topic exists from Open until it is evicted. Each topic keeps a
// short backlog so a subscriber that attaches mid-render, or after the job
// finished, first receives the most recent lines. Finished jobs stay as
// closed topics until more than maxFinishedTopics newer jobs have finished.
// Publish and Close ignore jobs that were never opened.
type LogBroker struct {
	mu       sync.Mutex
	topics   map[model.JobID]*logTopic
	finished []model.JobID
}

type logTopic struct {
	subs    map[int]chan string
	nextID  int
	backlog []string
	closed  bool
}

func newLogTopic() *logTopic {
	return &logTopic{subs: make(map[int]chan string)}
}

func (t *logTopic) remember(line string) {
	if len(t.backlog) == backlogSize {
		copy(t.backlog, t.backlog[1:])
		t.backlog = t.backlog[:backlogSize-1]
	}
	t.backlog = append(t.backlog, line)
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[model.JobID]*logTopic),
	}
}

// Open starts the job's topic. Opening a known job does nothing.
func (b *LogBroker) Open(id model.JobID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[id]; !ok {
		b.topics[id] = newLogTopic()
	}
}

// Subscribe returns a channel that receives the job's backlog followed by
// every new line, and an unsubscribe function. For a finished job the
// channel holds the backlog and is already closed; for an unknown or
// evicted job it is empty and closed.
func (b *LogBroker) Subscribe(id model.JobID) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		ch := make(chan string)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan string, subscriberBufferSize+backlogSize)
	for _, line := range t.backlog {
		ch <- line
	}
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, subID)
	}
}

// Publish sends a line to every subscriber of the job. Lines are dropped for
// subscribers whose buffers are full.
func (b *LogBroker) Publish(id model.JobID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok || t.closed {
		return
	}
	t.remember(line)

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber; the frame loop must not block.
		}
	}
}

// Close marks the job's stream finished and closes every subscriber channel.
func (b *LogBroker) Close(id model.JobID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok || t.closed {
		return
	}
	t.closed = true
	for subID, ch := range t.subs {
		close(ch)
		delete(t.subs, subID)
	}

	b.finished = append(b.finished, id)
	if len(b.finished) > maxFinishedTopics {
		delete(b.topics, b.finished[0])
		b.finished = b.finished[1:]
	}
}
