package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
	events  *[]string
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	w.started = true
	*w.events = append(*w.events, "start:"+w.name)
	return nil
}

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	*w.events = append(*w.events, "stop:"+w.name)
}

func (w *fakeWorker) Name() string { return w.name }

func TestManager_StartAndStopOrder(t *testing.T) {
	var events []string
	a := &fakeWorker{name: "a", events: &events}
	b := &fakeWorker{name: "b", events: &events}

	m := NewManager(zap.NewNop())
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()

	// Start in registration order, stop in reverse.
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestManager_StartAllUnwindsOnFailure(t *testing.T) {
	var events []string
	a := &fakeWorker{name: "a", events: &events}
	bad := &fakeWorker{name: "bad", events: &events, startErr: errors.New("boom")}

	m := NewManager(zap.NewNop())
	m.Register(a)
	m.Register(bad)

	err := m.StartAll(context.Background())
	assert.Error(t, err)
	assert.False(t, bad.started)

	// The worker that did start was stopped again.
	assert.True(t, a.started)
	assert.True(t, a.stopped)
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}
