package taskbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentiolabs/sentio/pkg/otelhelper"
	"github.com/sentiolabs/sentio/pkg/tasks"
)

type subscriptionKey struct {
	topic    string
	taskType tasks.TaskType
}

type WatermillTaskBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[subscriptionKey]TaskHandler
	tracer        trace.Tracer
}

func NewWatermillTaskBus(pub message.Publisher, sub message.Subscriber) TaskBus {
	return &WatermillTaskBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[subscriptionKey]TaskHandler),
		tracer:        otel.Tracer("sentio.taskbus"),
	}
}

func (tb *WatermillTaskBus) GenerateID() string {
	return watermill.NewULID()
}

func (tb *WatermillTaskBus) Publish(ctx context.Context, topic, key string, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+tb.GenerateID(), payload)
	msg.Metadata.Set(tasks.TaskMetadataKey, key)
	msg.Metadata.Set(tasks.TaskTypeMetadataKey, string(task.GetType()))

	return tb.publisher.Publish(topic, msg)
}

func (tb *WatermillTaskBus) Subscribe(ctx context.Context, topic string) error {
	messages, err := tb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var task any

			taskType := tasks.TaskType(msg.Metadata.Get(tasks.TaskTypeMetadataKey))

			handler, exists := tb.subscriptions[subscriptionKey{topic: topic, taskType: taskType}]
			if !exists {
				msg.Ack()

				continue
			}

			switch taskType {
			case tasks.WorkflowTaskStartType:
				task = &tasks.WorkflowTaskStart{}
			case tasks.WorkflowTaskActivityResultType:
				task = &tasks.WorkflowTaskActivityResult{}
			case tasks.WorkflowTaskCancelType:
				task = &tasks.WorkflowTaskCancel{}
			case tasks.ActivityTaskExecuteType:
				task = &tasks.ActivityTaskExecute{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, task)
			if err != nil {
				msg.Nack()

				continue
			}

			// Handlers run off the consume loop so messages from other
			// partitions keep flowing while one is being worked. Brokers gate
			// per-key ordering on the ack, so per-instance ordering holds.
			go func(msg *message.Message, task any, taskType tasks.TaskType) {
				spanCtx, span := otelhelper.StartSpan(ctx, tb.tracer, "taskbus.handle "+string(taskType),
					attribute.String(otelhelper.TopicKey, topic),
					attribute.String(otelhelper.TaskTypeKey, string(taskType)),
					attribute.String(otelhelper.TaskKeyKey, msg.Metadata.Get(tasks.TaskMetadataKey)),
				)
				defer span.End()

				err := handler(spanCtx, task)
				if err != nil {
					otelhelper.SetError(span, err)
					msg.Nack()

					return
				}

				msg.Ack()
			}(msg, task, taskType)
		}
	}()

	return nil
}

func (tb *WatermillTaskBus) Handle(topic string, taskType tasks.TaskType, handler TaskHandler) error {
	tb.subscriptions[subscriptionKey{topic: topic, taskType: taskType}] = handler

	return nil
}

func (tb *WatermillTaskBus) Close() error {
	err := tb.publisher.Close()
	if err != nil {
		return err
	}

	return tb.subscriber.Close()
}
