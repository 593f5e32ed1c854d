package retry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"nil", nil, Terminal},
		{"not found status", &azcore.ResponseError{StatusCode: 404}, NotFound},
		{"queue not found code", &azcore.ResponseError{StatusCode: 400, ErrorCode: "QueueNotFound"}, NotFound},
		{"server error", &azcore.ResponseError{StatusCode: 503}, Transient},
		{"bad request", &azcore.ResponseError{StatusCode: 400, ErrorCode: "InvalidInput"}, Terminal},
		{"timeout", timeoutError{}, Transient},
		{"opaque", errors.New("boom"), Terminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestPolicyDoRetriesTransientThenSucceeds(t *testing.T) {
	policy := TransientServerErrorBackoff()
	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &azcore.ResponseError{StatusCode: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicyDoStopsOnTerminal(t *testing.T) {
	policy := TransientServerErrorBackoff()
	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &azcore.ResponseError{StatusCode: 400, ErrorCode: "InvalidInput"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestGetReturnsValueOnSuccess(t *testing.T) {
	policy := TransientServerErrorBackoff()
	v, err := Get(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
