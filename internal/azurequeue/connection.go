// Package azurequeue wraps the azqueue SDK down to exactly the primitive
// operations the queue provider needs: list queues by prefix, get/peek/add/
// delete messages, clear, create, delete queue, approximate count. Adapted
// from the teacher's pkg/scalers/azure/azure_storage.go, which parses an
// Azure Storage connection string by hand into (protocol, account, key,
// endpoint); this package keeps that parsing idiom and drops everything
// specific to KEDA pod identity and scaler metadata.
package azurequeue

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConnectionStringKeyName mirrors the teacher's
// ErrAzureConnectionStringKeyName: the connection string is missing an
// AccountName/AccountKey pair and carries no explicit QueueEndpoint either.
var ErrConnectionStringKeyName = errors.New("azurequeue: connection string missing AccountName or AccountKey")

// Config names an Azure Storage account and how to reach its queue
// endpoint. Exactly one of ConnectionString or AccountName (paired with a
// SharedKey) is required.
type Config struct {
	ConnectionString string
	AccountName      string
	SharedKey        string
	EndpointSuffix   string // defaults to "core.windows.net"
}

func (c Config) endpointSuffix() string {
	if c.EndpointSuffix != "" {
		return c.EndpointSuffix
	}
	return "core.windows.net"
}

// resolve derives (serviceURL, accountName, accountKey) either from an
// explicit connection string or from the account name fields, following
// the same precedence as parseAzureStorageConnectionString in the teacher:
// an explicit *Endpoint wins, otherwise protocol+account+suffix are
// composed into the conventional "https://{account}.queue.{suffix}" form.
func (c Config) resolve() (endpoint, account, key string, err error) {
	if c.ConnectionString == "" {
		if c.AccountName == "" {
			return "", "", "", fmt.Errorf("azurequeue: no connection string or account name given")
		}
		return fmt.Sprintf("https://%s.queue.%s", c.AccountName, c.endpointSuffix()), c.AccountName, c.SharedKey, nil
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
		case strings.HasPrefix(p, "QueueEndpoint"):
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
	return fmt.Sprintf("%s://%s.queue.%s", protocol, name, suffix), name, accountKey, nil
}
