// Package azureblob wraps the azblob SDK down to exactly the primitive
// operations the queue provider needs: put, get, list-by-prefix, delete.
// Adapted from the teacher's pkg/scalers/azure/azure_blob.go (container/
// blob client construction, list pagers) and azure_storage.go's connection
// string parsing idiom, simplified to drop KEDA pod identity handling.
package azureblob

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConnectionStringKeyName mirrors the teacher's
// ErrAzureConnectionStringKeyName for the blob endpoint.
var ErrConnectionStringKeyName = errors.New("azureblob: connection string missing AccountName or AccountKey")

// Config names an Azure Storage account and how to reach its blob
// endpoint.
type Config struct {
	ConnectionString string
	AccountName      string
	SharedKey        string
	EndpointSuffix   string
}

func (c Config) endpointSuffix() string {
	if c.EndpointSuffix != "" {
		return c.EndpointSuffix
	}
	return "core.windows.net"
}

func (c Config) resolve() (endpoint, account, key string, err error) {
	if c.ConnectionString == "" {
		if c.AccountName == "" {
			return "", "", "", fmt.Errorf("azureblob: no connection string or account name given")
		}
		return fmt.Sprintf("https://%s.blob.%s", c.AccountName, c.endpointSuffix()), c.AccountName, c.SharedKey, nil
	}

	parts := strings.Split(c.ConnectionString, ";")
	getValue := func(pair string) string {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			return kv[1]
		}
		return ""
	}

	var protocol, name, accountKey, suffix, explicitEndpoint string
	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "DefaultEndpointsProtocol"):
			protocol = getValue(p)
		case strings.HasPrefix(p, "AccountName"):
			name = getValue(p)
		case strings.HasPrefix(p, "AccountKey"):
			accountKey = getValue(p)
		case strings.HasPrefix(p, "EndpointSuffix"):
			suffix = getValue(p)
		case strings.HasPrefix(p, "BlobEndpoint"):
			explicitEndpoint = getValue(p)
		}
	}

	if explicitEndpoint != "" {
		return explicitEndpoint, name, accountKey, nil
	}
	if name == "" || accountKey == "" {
		return "", "", "", ErrConnectionStringKeyName
	}
	if protocol == "" {
		protocol = "https"
	}
	if suffix == "" {
		suffix = c.endpointSuffix()
	}
	return fmt.Sprintf("%s://%s.blob.%s", protocol, name, suffix), name, accountKey, nil
}
