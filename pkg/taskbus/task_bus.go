// Package taskbus provides the queue abstraction that carries workflow and
// activity tasks between processes.
package taskbus

import (
	"context"

	"github.com/sentiolabs/sentio/pkg/tasks"
)

type Task interface {
	GetType() tasks.TaskType
}

type TaskPublisher interface {
	Publish(ctx context.Context, topic, key string, task Task) error
}

type TaskSubscriber interface {
	Handle(topic string, taskType tasks.TaskType, handler TaskHandler) error
	Subscribe(ctx context.Context, topic string) error
}

type TaskHandler func(ctx context.Context, task any) error

type TaskBus interface {
	TaskPublisher
	TaskSubscriber
	Close() error
	GenerateID() string
}
