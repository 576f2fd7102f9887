package source

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureConfig holds Azure Blob Storage settings. ConnectionString takes
// precedence; otherwise AccountURL is used with the default credential chain.
type AzureConfig struct {
	AccountURL       string
	Container        string
	ConnectionString string
	TenantID         string
}

// Azure reads cost exports from an Azure Blob Storage container.
type Azure struct {
	client    *azblob.Client
	container string
}

// NewAzure creates an Azure Blob source.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure source requires a container")
	}

	var client *azblob.Client
	var err error
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create blob client from connection string: %w", err)
		}
		return &Azure{client: client, container: cfg.Container}, nil
	}

	if cfg.AccountURL == "" {
		return nil, fmt.Errorf("azure source requires account_url or connection_string")
	}
	var opts *azidentity.DefaultAzureCredentialOptions
	if cfg.TenantID != "" {
		opts = &azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID}
	}
	cred, err := azidentity.NewDefaultAzureCredential(opts)
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &Azure{client: client, container: cfg.Container}, nil
}

func (a *Azure) Name() string {
	return "azure:" + a.container
}

func (a *Azure) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var blobs []BlobInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := BlobInfo{Name: *item.Name}
			if p := item.Properties; p != nil {
				if p.LastModified != nil {
					info.LastModified = p.LastModified.UTC()
				}
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
			}
			blobs = append(blobs, info)
		}
	}
	return blobs, nil
}

func (a *Azure) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("download blob %s: %w", name, err)
	}
	return resp.Body, nil
}
