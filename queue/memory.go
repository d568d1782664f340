package queue

import (
	"context"
	"sync"
)

const memoryTopicBuffer = 1024

// MemoryBroker is an in-process queue with one buffered channel per topic.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]chan Message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]chan Message)}
}

func (b *MemoryBroker) topic(name string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan Message, memoryTopicBuffer)
		b.topics[name] = ch
	}
	return ch
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, msg Message) error {
	msg.Topic = topic
	select {
	case b.topic(topic) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consumer returns a consumer reading topic.
func (b *MemoryBroker) Consumer(topic string) Consumer {
	return &memoryConsumer{ch: b.topic(topic), done: make(chan struct{})}
}

type memoryConsumer struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (c *memoryConsumer) Poll(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *memoryConsumer) Commit(ctx context.Context, msg Message) error {
	return nil
}

// Redeliver puts msg back on the topic behind whatever is already queued.
func (c *memoryConsumer) Redeliver(ctx context.Context, msg Message) error {
	select {
	case c.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConsumer) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
