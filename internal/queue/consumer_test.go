package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

type fakeMsg struct {
	jetstream.Msg

	mu         sync.Mutex
	acks       int
	naks       int
	terms      int
	inProgress int
}

func (m *fakeMsg) Subject() string { return "tasks.process_file" }
func (m *fakeMsg) Data() []byte    { return []byte(`{"file_path":"/videos/a.mp4"}`) }

func (m *fakeMsg) Ack() error  { m.mu.Lock(); defer m.mu.Unlock(); m.acks++; return nil }
func (m *fakeMsg) Nak() error  { m.mu.Lock(); defer m.mu.Unlock(); m.naks++; return nil }
func (m *fakeMsg) Term() error { m.mu.Lock(); defer m.mu.Unlock(); m.terms++; return nil }
func (m *fakeMsg) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress++
	return nil
}

func TestHandleSettlesMessage(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		acks, naks, terms int
	}{
		{name: "success acks", err: nil, acks: 1},
		{name: "transient naks", err: errors.New("db down"), naks: 1},
		{name: "permanent terms", err: Permanent(errors.New("bad payload")), terms: 1},
		{name: "wrapped permanent terms", err: fmt.Errorf("job: %w", Permanent(errors.New("gone"))), terms: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMsg{}
			handle(context.Background(), msg, time.Hour, func(context.Context, jetstream.Msg) error {
				return tt.err
			})
			assert.Equal(t, tt.acks, msg.acks)
			assert.Equal(t, tt.naks, msg.naks)
			assert.Equal(t, tt.terms, msg.terms)
		})
	}
}

func TestHandleExtendsAckDeadline(t *testing.T) {
	msg := &fakeMsg{}
	handle(context.Background(), msg, 5*time.Millisecond, func(context.Context, jetstream.Msg) error {
		time.Sleep(40 * time.Millisecond)
		return nil
	})

	msg.mu.Lock()
	defer msg.mu.Unlock()
	assert.GreaterOrEqual(t, msg.inProgress, 2)
	assert.Equal(t, 1, msg.acks)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("missing file")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
