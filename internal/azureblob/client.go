package azureblob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Service is the Blob Storage Provider contract from spec.md §2/§6, kept
// as an interface so the queue provider's tests can substitute an
// in-memory fake instead of talking to a live storage account.
type Service interface {
	Put(ctx context.Context, container, name string, value []byte) error
	Get(ctx context.Context, container, name string) (value []byte, existed bool, err error)
	List(ctx context.Context, container, prefix string) ([]string, error)
	Delete(ctx context.Context, container, name string) error
	EnsureContainer(ctx context.Context, container string) error
}

// Client wraps an *azblob.Client down to the primitive operations
// spec.md §2 lists for the Blob Storage Provider: put, get, list-by-
// prefix, delete.
type Client struct {
	inner *azblob.Client
}

var _ Service = (*Client)(nil)

// NewClient builds a Client from cfg, matching the teacher's fallback to
// an anonymous credential when no account key is present.
func NewClient(cfg Config) (*Client, error) {
	endpoint, account, key, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	if key == "" {
		c, err := azblob.NewClientWithNoCredential(endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("azureblob: building anonymous client: %w", err)
		}
		return &Client{inner: c}, nil
	}

	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azureblob: building shared key credential: %w", err)
	}
	c, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azureblob: building client: %w", err)
	}
	return &Client{inner: c}, nil
}

// EnsureContainer creates container if it does not already exist,
// tolerating the benign "already exists" race.
func (c *Client) EnsureContainer(ctx context.Context, container string) error {
	_, err := c.inner.CreateContainer(ctx, container, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.ContainerAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// Put writes value under container/name, overwriting any existing blob.
func (c *Client) Put(ctx context.Context, container, name string, value []byte) error {
	_, err := c.inner.UploadBuffer(ctx, container, name, value, nil)
	return err
}

// Get returns the bytes stored at container/name. existed is false, err
// nil when the blob is simply absent.
func (c *Client) Get(ctx context.Context, container, name string) (value []byte, existed bool, err error) {
	resp, err := c.inner.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// List returns the names of every blob in container whose name starts
// with prefix.
func (c *Client) List(ctx context.Context, container, prefix string) ([]string, error) {
	var names []string
	pager := c.inner.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return names, nil
			}
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes container/name, tolerating an already-absent blob.
func (c *Client) Delete(ctx context.Context, container, name string) error {
	_, err := c.inner.DeleteBlob(ctx, container, name, nil)
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil
	}
	return err
}
