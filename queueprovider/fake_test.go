package queueprovider

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"

	"github.com/knightpfhor/lokad-cloud/internal/azureblob"
	"github.com/knightpfhor/lokad-cloud/internal/azurequeue"
)

var (
	_ azurequeue.Service = (*fakeQueues)(nil)
	_ azureblob.Service  = (*fakeBlobs)(nil)
)

// fakeQueues is a minimal in-memory azurequeue.Service, standing in for a
// live storage account the way the teacher's scaler tests stand in a
// fake metrics client.
type fakeQueues struct {
	mu      sync.Mutex
	created map[string]bool
	msgs    map[string][]*queueMsg
	pending map[string]*queueMsg
}

type queueMsg struct {
	id            string
	popReceipt    string
	bytes         []byte
	dequeueCount  int64
	insertionTime time.Time
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{
		created: make(map[string]bool),
		msgs:    make(map[string][]*queueMsg),
		pending: make(map[string]*queueMsg),
	}
}

func notFoundErr() error {
	return &azcore.ResponseError{StatusCode: 404, ErrorCode: "QueueNotFound"}
}

func (f *fakeQueues) ListQueues(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.created {
		if len(prefix) == 0 || (len(name) >= len(prefix) && name[:len(prefix)] == prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeQueues) Create(_ context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[queue] = true
	return nil
}

func (f *fakeQueues) DeleteQueue(_ context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return notFoundErr()
	}
	delete(f.created, queue)
	delete(f.msgs, queue)
	return nil
}

func (f *fakeQueues) Clear(_ context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return notFoundErr()
	}
	f.msgs[queue] = nil
	return nil
}

func (f *fakeQueues) AddMessage(_ context.Context, queue string, bytes []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return notFoundErr()
	}
	f.msgs[queue] = append(f.msgs[queue], &queueMsg{
		id:            uuid.NewString(),
		bytes:         append([]byte(nil), bytes...),
		insertionTime: time.Now(),
	})
	return nil
}

func (f *fakeQueues) GetMessages(_ context.Context, queue string, count int32, _ time.Duration) ([]azurequeue.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return nil, notFoundErr()
	}
	n := int(count)
	if n > len(f.msgs[queue]) {
		n = len(f.msgs[queue])
	}
	out := make([]azurequeue.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		m := f.msgs[queue][i]
		m.dequeueCount++
		m.popReceipt = uuid.NewString()
		f.pending[queue+"|"+m.id+"|"+m.popReceipt] = m
		out = append(out, azurequeue.RawMessage{
			ID: m.id, PopReceipt: m.popReceipt, Bytes: append([]byte(nil), m.bytes...),
			DequeueCount: m.dequeueCount, InsertionTime: m.insertionTime,
		})
	}
	f.msgs[queue] = f.msgs[queue][n:]
	return out, nil
}

func (f *fakeQueues) PeekMessages(_ context.Context, queue string, count int32) ([]azurequeue.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return nil, notFoundErr()
	}
	n := int(count)
	if n > len(f.msgs[queue]) {
		n = len(f.msgs[queue])
	}
	out := make([]azurequeue.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		m := f.msgs[queue][i]
		out = append(out, azurequeue.RawMessage{
			ID: m.id, Bytes: append([]byte(nil), m.bytes...),
			DequeueCount: m.dequeueCount, InsertionTime: m.insertionTime,
		})
	}
	return out, nil
}

func (f *fakeQueues) DeleteMessage(_ context.Context, queue, messageID, popReceipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := queue + "|" + messageID + "|" + popReceipt
	if _, ok := f.pending[k]; !ok {
		return notFoundErr()
	}
	delete(f.pending, k)
	return nil
}

func (f *fakeQueues) ApproximateCount(_ context.Context, queue string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[queue] {
		return 0, notFoundErr()
	}
	return int64(len(f.msgs[queue])), nil
}

// fakeBlobs is a minimal in-memory azureblob.Service.
type fakeBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{data: make(map[string][]byte)} }

func (f *fakeBlobs) key(container, name string) string { return container + "/" + name }

func (f *fakeBlobs) EnsureContainer(_ context.Context, _ string) error { return nil }

func (f *fakeBlobs) Put(_ context.Context, container, name string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[f.key(container, name)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, container, name string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[f.key(container, name)]
	return v, ok, nil
}

func (f *fakeBlobs) List(_ context.Context, container, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := container + "/" + prefix
	var out []string
	for k := range f.data {
		if len(k) >= len(full) && k[:len(full)] == full {
			out = append(out, k[len(container)+1:])
		}
	}
	return out, nil
}

func (f *fakeBlobs) Delete(_ context.Context, container, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, f.key(container, name))
	return nil
}
