package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/bondifuzz/crash-analyzer/model"
)

// SQSConsumer implements Consumer over an SQS queue, grounded on the same
// aws-sdk-go-v2 client construction pattern storage.go uses for S3 —
// extended here to the sibling SQS service in the same SDK family.
type SQSConsumer struct {
	client       *sqs.Client
	queueURL     string
	dlqURL       string
	waitSeconds  int32
	visibilityTO int32
}

// NewSQSConsumer constructs an SQSConsumer. waitSeconds enables long
// polling (up to 20s); visibilityTimeoutSeconds bounds how long a
// received-but-unacked message stays invisible before SQS redelivers it.
func NewSQSConsumer(client *sqs.Client, queueURL, dlqURL string,
	waitSeconds, visibilityTimeoutSeconds int32) *SQSConsumer {

	return &SQSConsumer{
		client:       client,
		queueURL:     queueURL,
		dlqURL:       dlqURL,
		waitSeconds:  waitSeconds,
		visibilityTO: visibilityTimeoutSeconds,
	}
}

func (c *SQSConsumer) Receive(ctx context.Context, max int32) ([]RawMessage, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages:  max,
		WaitTimeSeconds:      c.waitSeconds,
		VisibilityTimeout:    c.visibilityTO,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sqs receive: %v", model.ErrStorageTransport, err)
	}

	raws := make([]RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		body := ""
		if m.Body != nil {
			body = *m.Body
		}
		handle := ""
		if m.ReceiptHandle != nil {
			handle = *m.ReceiptHandle
		}
		raws = append(raws, RawMessage{Body: []byte(body), Handle: handle})
	}
	return raws, nil
}

func (c *SQSConsumer) Ack(ctx context.Context, handle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("%w: sqs delete: %v", model.ErrStorageTransport, err)
	}
	return nil
}

func (c *SQSConsumer) DeadLetter(ctx context.Context, raw RawMessage) error {
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.dlqURL),
		MessageBody: aws.String(string(raw.Body)),
	})
	if err != nil {
		return fmt.Errorf("%w: sqs dlq send: %v", model.ErrStorageTransport, err)
	}
	return c.Ack(ctx, raw.Handle)
}

// SQSProducer implements Producer, publishing to the two outgoing queues
// named in spec.md §6 (crash-analyzer.crashes.unique / .duplicate, here
// configured as plain SQS queue URLs).
type SQSProducer struct {
	client      *sqs.Client
	uniqueURL   string
	duplicateURL string
	unsent      UnsentStore
}

// NewSQSProducer constructs an SQSProducer. unsent receives any payload
// that could not be published, per spec.md §5's shutdown contract; it may
// be nil to disable that fallback (e.g. in tests).
func NewSQSProducer(client *sqs.Client, uniqueURL, duplicateURL string,
	unsent UnsentStore) *SQSProducer {

	return &SQSProducer{
		client:       client,
		uniqueURL:    uniqueURL,
		duplicateURL: duplicateURL,
		unsent:       unsent,
	}
}

func (p *SQSProducer) PublishUnique(ctx context.Context, event model.UniqueCrashEvent) error {
	return p.publish(ctx, p.uniqueURL, "unique", event)
}

func (p *SQSProducer) PublishDuplicate(ctx context.Context, event model.DuplicateCrashEvent) error {
	return p.publish(ctx, p.duplicateURL, "duplicate", event)
}

func (p *SQSProducer) publish(ctx context.Context, queueURL, kind string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshaling %s event: %v", model.ErrMessageInvalid, kind, err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err == nil {
		return nil
	}

	if p.unsent != nil {
		if persistErr := p.unsent.Persist(ctx, kind, payload); persistErr != nil {
			return fmt.Errorf("%w: publish failed (%v) and could not persist "+
				"as unsent: %v", model.ErrStorageTransport, err, persistErr)
		}
	}
	return fmt.Errorf("%w: sqs send: %v", model.ErrStorageTransport, err)
}

// queueAttributesForDLQ is a bootstrap helper: it reads the redrive
// policy SQS reports for a queue, used at startup to fail fast if the
// configured dead-letter queue is not actually wired to the source queue.
func queueAttributesForDLQ(ctx context.Context, client *sqs.Client, queueURL string) (map[string]string, error) {
	out, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameRedrivePolicy},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sqs get attributes: %v", model.ErrStorageTransport, err)
	}
	return out.Attributes, nil
}

// VerifyDeadLetterQueueWired calls queueAttributesForDLQ against
// queueURL and fails if the queue reports no RedrivePolicy attribute,
// i.e. no dead-letter queue is actually attached to it at the broker
// level. Called once at startup so a misconfigured redrive policy is
// caught before any message is processed, rather than silently losing
// dead-lettered messages later.
func VerifyDeadLetterQueueWired(ctx context.Context, client *sqs.Client, queueURL string) error {
	attrs, err := queueAttributesForDLQ(ctx, client, queueURL)
	if err != nil {
		return err
	}
	if attrs[string(types.QueueAttributeNameRedrivePolicy)] == "" {
		return fmt.Errorf("%w: queue %s has no RedrivePolicy; dead-letter "+
			"queue is not wired at the broker", model.ErrStorageTransport, queueURL)
	}
	return nil
}
