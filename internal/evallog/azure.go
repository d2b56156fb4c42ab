package evallog

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// azureBlobAPI is the subset of *azblob.Client the backend uses.
type azureBlobAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureOptions locates the log blob in Azure Blob Storage.
type AzureOptions struct {
	ConnectionString string
	Container        string
	Blob             string
}

// AzureBackend keeps the log as a block blob. The version is the blob ETag;
// writes carry If-Match (or If-None-Match: * on first write).
type AzureBackend struct {
	client    azureBlobAPI
	container string
	blob      string
}

// NewAzureBackend creates a backend from a storage connection string.
func NewAzureBackend(opts AzureOptions) (*AzureBackend, error) {
	if opts.Container == "" || opts.Blob == "" {
		return nil, eris.New("evallog: azure container and blob are required")
	}
	client, err := azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
	if err != nil {
		return nil, eris.Wrap(err, "evallog: create azure client")
	}
	return newAzureBackend(client, opts.Container, opts.Blob), nil
}

func newAzureBackend(client azureBlobAPI, container, blobName string) *AzureBackend {
	return &AzureBackend{client: client, container: container, blob: blobName}
}

// Name returns the backend name.
func (b *AzureBackend) Name() string {
	return "azure:" + b.container + "/" + b.blob
}

// EnsureContainer creates the container if it does not exist yet.
func (b *AzureBackend) EnsureContainer(ctx context.Context) error {
	_, err := b.client.CreateContainer(ctx, b.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return eris.Wrapf(err, "evallog: create container %s", b.container)
	}
	zap.L().Debug("azure log container ready", zap.String("container", b.container))
	return nil
}

// Read downloads the blob, or returns nil if the blob or container is missing.
func (b *AzureBackend) Read(ctx context.Context) (*Blob, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.blob, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "evallog: download %s", b.Name())
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "evallog: read %s", b.Name())
	}
	if resp.ETag == nil {
		return nil, eris.Errorf("evallog: %s returned no etag", b.Name())
	}
	return &Blob{Data: data, Version: Version(*resp.ETag)}, nil
}

// Write uploads data on the condition that the blob is still at base.
func (b *AzureBackend) Write(ctx context.Context, data []byte, base Version, _ string) (Version, error) {
	cond := &blob.ModifiedAccessConditions{}
	if base == NoVersion {
		cond.IfNoneMatch = to(azcore.ETagAny)
	} else {
		cond.IfMatch = to(azcore.ETag(base))
	}

	contentType := ContentType
	resp, err := b.client.UploadBuffer(ctx, b.container, b.blob, data, &azblob.UploadBufferOptions{
		HTTPHeaders:      &blob.HTTPHeaders{BlobContentType: &contentType},
		AccessConditions: &blob.AccessConditions{ModifiedAccessConditions: cond},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
			return NoVersion, &ConflictError{Source: b.Name(), Base: base, Err: err}
		}
		return NoVersion, eris.Wrapf(err, "evallog: upload %s", b.Name())
	}
	if resp.ETag == nil {
		return NoVersion, eris.Errorf("evallog: %s upload returned no etag", b.Name())
	}
	return Version(*resp.ETag), nil
}

func to[T any](v T) *T {
	return &v
}
