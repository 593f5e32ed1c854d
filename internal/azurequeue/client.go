package azurequeue

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// RawMessage is spec.md's Raw Message: bytes plus the bookkeeping the
// Queue Service itself maintains. The azqueue SDK identifies an in-flight
// message with two opaque strings rather than one receipt, so (ID,
// PopReceipt) together stand in for spec.md's single "receipt-id".
type RawMessage struct {
	ID            string
	PopReceipt    string
	Bytes         []byte
	DequeueCount  int64
	InsertionTime time.Time
}

// Service is the Queue Service contract from spec.md §2, kept as an
// interface so the queue provider's tests can substitute an in-memory
// fake instead of talking to a live storage account.
type Service interface {
	ListQueues(ctx context.Context, prefix string) ([]string, error)
	Create(ctx context.Context, queue string) error
	DeleteQueue(ctx context.Context, queue string) error
	Clear(ctx context.Context, queue string) error
	AddMessage(ctx context.Context, queue string, bytes []byte, ttl time.Duration) error
	GetMessages(ctx context.Context, queue string, count int32, visibility time.Duration) ([]RawMessage, error)
	PeekMessages(ctx context.Context, queue string, count int32) ([]RawMessage, error)
	DeleteMessage(ctx context.Context, queue, messageID, popReceipt string) error
	ApproximateCount(ctx context.Context, queue string) (int64, error)
}

// Client wraps an *azqueue.ServiceClient down to the primitive operations
// spec.md §2 lists for the Queue Service.
type Client struct {
	service *azqueue.ServiceClient
}

var _ Service = (*Client)(nil)

// NewClient builds a Client from cfg using a shared-key credential, or an
// anonymous one when no key is present (matches the teacher's fallback to
// azqueue.NewAnonymousCredential for a bare SAS-less, keyless endpoint).
func NewClient(cfg Config) (*Client, error) {
	endpoint, account, key, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	if key == "" {
		svc, err := azqueue.NewServiceClientWithNoCredential(endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("azurequeue: building anonymous client: %w", err)
		}
		return &Client{service: svc}, nil
	}

	cred, err := azqueue.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azurequeue: building shared key credential: %w", err)
	}
	svc, err := azqueue.NewServiceClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azurequeue: building client: %w", err)
	}
	return &Client{service: svc}, nil
}

func (c *Client) queue(name string) *azqueue.QueueClient {
	return c.service.NewQueueClient(name)
}

// ListQueues returns the names of every queue whose name starts with
// prefix.
func (c *Client) ListQueues(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := c.service.NewListQueuesPager(&azqueue.ListQueuesOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, q := range page.Queues {
			if q.Name != nil {
				names = append(names, *q.Name)
			}
		}
	}
	return names, nil
}

// Create creates queue, tolerating "already exists".
func (c *Client) Create(ctx context.Context, queue string) error {
	_, err := c.queue(queue).Create(ctx, nil)
	return err
}

// DeleteQueue deletes queue outright.
func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	_, err := c.queue(queue).Delete(ctx, nil)
	return err
}

// Clear removes every message currently on queue.
func (c *Client) Clear(ctx context.Context, queue string) error {
	_, err := c.queue(queue).ClearMessages(ctx, nil)
	return err
}

// AddMessage enqueues bytes as the message text. This wrapper applies no
// base64 encoding; GetMessages likewise returns the message text as-is.
func (c *Client) AddMessage(ctx context.Context, queue string, bytes []byte, ttl time.Duration) error {
	opts := &azqueue.EnqueueMessageOptions{}
	if ttl > 0 {
		secs := int32(ttl.Seconds())
		opts.TimeToLiveInSeconds = &secs
	}
	_, err := c.queue(queue).EnqueueMessage(ctx, string(bytes), opts)
	return err
}

// GetMessages dequeues up to count messages, hidden from other consumers
// for visibility.
func (c *Client) GetMessages(ctx context.Context, queue string, count int32, visibility time.Duration) ([]RawMessage, error) {
	vis := int32(visibility.Seconds())
	resp, err := c.queue(queue).DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &count,
		VisibilityTimeout: &vis,
	})
	if err != nil {
		return nil, err
	}
	return toRawMessages(resp.Messages), nil
}

// PeekMessages previews up to count messages without affecting their
// visibility or dequeue count.
func (c *Client) PeekMessages(ctx context.Context, queue string, count int32) ([]RawMessage, error) {
	resp, err := c.queue(queue).PeekMessages(ctx, &azqueue.PeekMessagesOptions{NumberOfMessages: &count})
	if err != nil {
		return nil, err
	}
	var out []RawMessage
	for _, m := range resp.Messages {
		rm := RawMessage{}
		if m.MessageID != nil {
			rm.ID = *m.MessageID
		}
		if m.MessageText != nil {
			rm.Bytes = []byte(*m.MessageText)
		}
		if m.DequeueCount != nil {
			rm.DequeueCount = *m.DequeueCount
		}
		if m.InsertionTime != nil {
			rm.InsertionTime = *m.InsertionTime
		}
		out = append(out, rm)
	}
	return out, nil
}

// DeleteMessage removes a message by its (id, pop-receipt) pair, the
// combination the SDK calls a "receipt" colloquially even though it is
// two strings.
func (c *Client) DeleteMessage(ctx context.Context, queue, messageID, popReceipt string) error {
	_, err := c.queue(queue).DeleteMessage(ctx, messageID, popReceipt, nil)
	return err
}

// ApproximateCount reports the queue's server-side approximate message
// count.
func (c *Client) ApproximateCount(ctx context.Context, queue string) (int64, error) {
	resp, err := c.queue(queue).GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if resp.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return int64(*resp.ApproximateMessagesCount), nil
}

func toRawMessages(msgs []*azqueue.DequeuedMessage) []RawMessage {
	out := make([]RawMessage, 0, len(msgs))
	for _, m := range msgs {
		rm := RawMessage{}
		if m.MessageID != nil {
			rm.ID = *m.MessageID
		}
		if m.PopReceipt != nil {
			rm.PopReceipt = *m.PopReceipt
		}
		if m.MessageText != nil {
			rm.Bytes = []byte(*m.MessageText)
		}
		if m.DequeueCount != nil {
			rm.DequeueCount = *m.DequeueCount
		}
		if m.InsertionTime != nil {
			rm.InsertionTime = *m.InsertionTime
		}
		out = append(out, rm)
	}
	return out
}
