// Package audit publishes denial events so security review can
// reconstruct who was turned away and why. Publishing is best-effort:
// an audit outage must never change an admission decision or delay a
// response. Events carry partial caller identity only, never
// credentials or payloads.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Kind classifies a denial.
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbiddenRole     Kind = "forbidden_role"
	KindValidationFailed  Kind = "validation_failed"
	KindPlanLimitExceeded Kind = "plan_limit_exceeded"
)

// Event is one denial record.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Path       string            `json:"path"`
	ClientKey  string            `json:"client_key,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher delivers denial events to the audit sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// SQSPublisher sends events to an SQS audit queue.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSPublisher(ctx context.Context, region, queueURL string) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSPublisherWithConfig(cfg aws.Config, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Kind)),
			},
		},
	}
	if ev.TenantID != "" {
		input.MessageAttributes["TenantID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(ev.TenantID),
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send audit event: %w", err)
	}
	return nil
}

// LogPublisher writes events to the structured log. The default sink
// when no queue is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	slog.Info("admission denied",
		"audit_id", ev.ID,
		"kind", ev.Kind,
		"path", ev.Path,
		"client_key", ev.ClientKey,
		"tenant_id", ev.TenantID,
		"user_id", ev.UserID,
	)
	return nil
}

// InMemoryPublisher collects events for tests.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *InMemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
