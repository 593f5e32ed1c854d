package azureblob

import "testing"

type resolveTestData struct {
	cfg      Config
	endpoint string
	account  string
	key      string
	isError  bool
}

var resolveTestDataset = []resolveTestData{
	{
		cfg:      Config{ConnectionString: "DefaultEndpointsProtocol=https;AccountName=testing;AccountKey=key==;EndpointSuffix=core.windows.net"},
		endpoint: "https://testing.blob.core.windows.net",
		account:  "testing",
		key:      "key==",
	},
	{
		cfg:     Config{ConnectionString: "AccountName=testingAccountKey=key=="},
		isError: true,
	},
	{
		cfg:     Config{},
		isError: true,
	},
	{
		cfg:      Config{ConnectionString: "DefaultEndpointsProtocol=https;AccountName=testing;AccountKey=key==;EndpointSuffix=core.windows.net;BlobEndpoint=https://blob.net"},
		endpoint: "https://blob.net",
		account:  "testing",
		key:      "key==",
	},
	{
		cfg:      Config{AccountName: "bare", SharedKey: "sk==", EndpointSuffix: "core.usgovcloudapi.net"},
		endpoint: "https://bare.blob.core.usgovcloudapi.net",
		account:  "bare",
		key:      "sk==",
	},
}

func TestConfigResolve(t *testing.T) {
	for _, td := range resolveTestDataset {
		endpoint, account, key, err := td.cfg.resolve()

		if !td.isError && err != nil {
			t.Errorf("for %+v: expected success but got %v", td.cfg, err)
		}
		if td.isError && err == nil {
			t.Errorf("for %+v: expected error but got nil", td.cfg)
		}
		if err != nil {
			continue
		}
		if endpoint != td.endpoint {
			t.Errorf("for %+v: expected endpoint=%s but got %s", td.cfg, td.endpoint, endpoint)
		}
		if account != td.account {
			t.Errorf("for %+v: expected account=%s but got %s", td.cfg, td.account, account)
		}
		if key != td.key {
			t.Errorf("for %+v: expected key=%s but got %s", td.cfg, td.key, key)
		}
	}
}
