package progress

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// maxDeliveries bounds how often a failing award message is retried before it
// is dropped.
const maxDeliveries = 5

type enqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type dequeuer interface {
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// OpenQueue returns a client for the named award queue.
func OpenQueue(connStr, queueName string) (*azqueue.QueueClient, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
}

// QueueSink forwards award commands to an Azure storage queue.
type QueueSink struct {
	queue enqueuer
}

// NewQueueSink wraps a queue client.
func NewQueueSink(queue enqueuer) *QueueSink {
	return &QueueSink{queue: queue}
}

// Submit enqueues cmd as JSON.
func (q *QueueSink) Submit(ctx context.Context, cmd domain.AwardCommand) error {
	data, err := sonic.MarshalString(cmd)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}

// Processor drains the award queue into a Sink.
type Processor struct {
	queue dequeuer
	sink  Sink
	log   *log.Logger
	idle  time.Duration
}

// NewProcessor creates a Processor that polls queue and applies commands via
// sink.
func NewProcessor(queue dequeuer, sink Sink, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Processor{queue: queue, sink: sink, log: logger, idle: time.Second}
}

// Run processes messages until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handled, err := p.poll(ctx)
		if err != nil {
			p.log.WithError(err).Error("receive award message")
		}
		if !handled || err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.idle):
			}
		}
	}
}

// poll handles at most one message and reports whether one was received.
func (p *Processor) poll(ctx context.Context) (bool, error) {
	resp, err := p.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return false, err
	}
	if len(resp.Messages) == 0 {
		return false, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return true, nil
	}

	var cmd domain.AwardCommand
	text := ""
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	if err := sonic.UnmarshalString(text, &cmd); err != nil {
		p.log.WithFields(log.Fields{"message": *msg.MessageID, "error": err}).Error("discarding malformed award message")
		return true, p.delete(ctx, *msg.MessageID, *msg.PopReceipt)
	}

	if err := p.sink.Submit(ctx, cmd); err != nil {
		var deliveries int64
		if msg.DequeueCount != nil {
			deliveries = *msg.DequeueCount
		}
		entry := p.log.WithFields(log.Fields{"message": *msg.MessageID, "user": cmd.UserID, "deliveries": deliveries, "error": err})
		if deliveries < maxDeliveries {
			entry.Warn("award failed, leaving message for redelivery")
			return true, nil
		}
		entry.Error("award failed too often, dropping message")
	}
	return true, p.delete(ctx, *msg.MessageID, *msg.PopReceipt)
}

func (p *Processor) delete(ctx context.Context, id, receipt string) error {
	_, err := p.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
