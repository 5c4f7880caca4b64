// Package queue carries dispatch tasks over Amazon SQS.
//
// Messages are long-polled and deleted once a worker has picked the task up.
// A retried task is sent back with a delivery delay instead of relying on the
// visibility timeout, so a redelivery never races an in-flight attempt.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/config"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

// maxDelaySeconds is the SQS limit for per-message delivery delay.
const maxDelaySeconds = 900

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue is an SQS-backed dispatch queue.
type Queue struct {
	client      sqsAPI
	queueURL    string
	waitSeconds int32
	retryDelay  int32
	pollPause   time.Duration
}

// New wraps an SQS client.
func New(client sqsAPI, queueURL string, waitSeconds int32, retryDelay time.Duration) *Queue {
	delay := int32(retryDelay.Seconds())
	if delay > maxDelaySeconds {
		delay = maxDelaySeconds
	}

	return &Queue{
		client:      client,
		queueURL:    queueURL,
		waitSeconds: waitSeconds,
		retryDelay:  delay,
		pollPause:   5 * time.Second,
	}
}

// NewFromConfig loads the default AWS configuration and builds a Queue.
// A non-empty endpoint points the client at a local emulator.
func NewFromConfig(ctx context.Context, cfg config.SQS, retryDelay time.Duration) (*Queue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return New(client, cfg.QueueURL, cfg.WaitSeconds, retryDelay), nil
}

// Publish sends a task for immediate delivery.
func (q *Queue) Publish(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error {
	return q.send(ctx, task, 0, strategy)
}

// Retry sends a task back with the configured delivery delay.
func (q *Queue) Retry(ctx context.Context, task model.DispatchTask, strategy retry.Strategy) error {
	return q.send(ctx, task, q.retryDelay, strategy)
}

func (q *Queue) send(ctx context.Context, task model.DispatchTask, delay int32, strategy retry.Strategy) error {
	body, err := task.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if strategy.Attempts < 1 {
		strategy.Attempts = 1
	}

	err = retry.Do(func() error {
		_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:     aws.String(q.queueURL),
			MessageBody:  aws.String(string(body)),
			DelaySeconds: delay,
		})
		return err
	}, strategy)
	if err != nil {
		return fmt.Errorf("failed to send task %s: %w", task.NotificationID, err)
	}

	return nil
}

// Consume long-polls the queue and forwards decoded tasks into out until ctx is done.
func (q *Queue) Consume(ctx context.Context, out chan<- model.DispatchTask, _ retry.Strategy) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := q.pollOnce(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			zlog.Logger.Error().Err(err).Str("queue", q.queueURL).Msg("failed to poll sqs")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.pollPause):
			}
		}
	}
}

func (q *Queue) pollOnce(ctx context.Context, out chan<- model.DispatchTask) error {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     q.waitSeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			q.delete(ctx, msg.ReceiptHandle)
			continue
		}

		task, err := model.DecodeDispatchTask([]byte(*msg.Body))
		if err != nil {
			// unparseable, delete to avoid an endless redelivery loop
			zlog.Logger.Error().Err(err).Msg("failed to decode dispatch task")
			q.delete(ctx, msg.ReceiptHandle)
			continue
		}

		select {
		case out <- task:
			q.delete(ctx, msg.ReceiptHandle)
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

func (q *Queue) delete(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		return
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to delete sqs message")
	}
}
