package queue

import (
	"context"
	"sync"
)

// MemoryBroker 进程内队列，重启后任务丢失
type MemoryBroker struct {
	tasks  chan Task
	done   chan struct{}
	closed sync.Once
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker 创建容量为 buffer 的内存队列
func NewMemoryBroker(buffer int) *MemoryBroker {
	return &MemoryBroker{
		tasks: make(chan Task, buffer),
		done:  make(chan struct{}),
	}
}

// Publish 队列满时阻塞
func (b *MemoryBroker) Publish(ctx context.Context, task Task) error {
	select {
	case <-b.done:
		return ErrBrokerClosed
	default:
	}

	select {
	case b.tasks <- task:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context) (Task, error) {
	select {
	case task := <-b.tasks:
		return task, nil
	case <-b.done:
		return Task{}, ErrBrokerClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Len 返回排队中的任务数
func (b *MemoryBroker) Len() int {
	return len(b.tasks)
}

func (b *MemoryBroker) Close() error {
	b.closed.Do(func() { close(b.done) })
	return nil
}
