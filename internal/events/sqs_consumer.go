package events

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/pipeline"
)

// SQSAPI is the part of the SQS client the consumer calls.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Dispatcher is satisfied by *pipeline.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev pipeline.UploadEvent) (*pipeline.DispatchResult, error)
}

const (
	waitSeconds       = 20
	maxMessages       = 10
	visibilitySeconds = 300
	errorPause        = 5 * time.Second
)

// SQSConsumer long-polls the upload queue. A message is deleted once all of
// its uploads are dispatched or rejected as permanently invalid; anything
// retryable is left on the queue for redelivery.
type SQSConsumer struct {
	api      SQSAPI
	queueURL string
	dispatch Dispatcher
	log      *logger.Logger
	pause    time.Duration
}

func NewSQSConsumer(api SQSAPI, queueURL string, d Dispatcher, log *logger.Logger) *SQSConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &SQSConsumer{api: api, queueURL: queueURL, dispatch: d, log: log, pause: errorPause}
}

// Run polls until ctx is done.
func (c *SQSConsumer) Run(ctx context.Context) error {
	c.log.Info("upload event consumer started", "queue", c.queueURL)
	for {
		if ctx.Err() != nil {
			c.log.Info("upload event consumer stopped")
			return nil
		}
		if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("receive from queue failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.pause):
			}
		}
	}
}

// PollOnce receives one batch and handles every message in it. It returns
// the number of messages deleted.
func (c *SQSConsumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   visibilitySeconds,
	})
	if err != nil {
		return 0, apperr.Transient("receive message", err)
	}
	deleted := 0
	for _, m := range out.Messages {
		if !c.handle(ctx, m) {
			continue
		}
		if _, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: m.ReceiptHandle,
		}); err != nil {
			c.log.Warn("delete message failed", "message_id", aws.ToString(m.MessageId), "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// handle reports whether the message is done with and may be deleted.
func (c *SQSConsumer) handle(ctx context.Context, m types.Message) bool {
	id := aws.ToString(m.MessageId)
	uploads, err := ParseS3Event([]byte(aws.ToString(m.Body)))
	if err != nil {
		c.log.Warn("dropping unreadable message", "message_id", id, "error", err)
		return true
	}
	done := true
	for _, ev := range uploads {
		res, err := c.dispatch.Dispatch(ctx, ev)
		switch {
		case err == nil:
			c.log.Info("upload dispatched", "message_id", id, "key", ev.Key, "outcome", string(res.Outcome), "job_id", res.JobID)
		case permanent(err):
			c.log.Warn("dropping upload event", "message_id", id, "key", ev.Key, "error", err)
		default:
			c.log.Warn("dispatch failed, message left for redelivery", "message_id", id, "key", ev.Key, "error", err)
			done = false
		}
	}
	return done
}

func permanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalid, apperr.KindNotFound, apperr.KindConflict:
		return true
	default:
		return false
	}
}
