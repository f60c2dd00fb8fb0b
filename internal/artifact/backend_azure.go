package artifact

import (
	"context"
	"io"

	azurestorage "github.com/devrev/airdropkit/internal/azure/storage"
)

// AzureBackend mirrors uploaded artifacts into an Azure Blob Storage
// container, wrapping the teacher's hand-rolled internal/azure/storage
// client (there is no third-party Azure SDK in the example pack, so this
// is the example repo's own production Azure code, repurposed).
type AzureBackend struct {
	client    *azurestorage.Client
	container string
}

// NewAzureBackend returns a Backend that PUTs into the given container.
func NewAzureBackend(client *azurestorage.Client, container string) *AzureBackend {
	return &AzureBackend{client: client, container: container}
}

func (b *AzureBackend) Put(ctx context.Context, name string, contents io.Reader, size int64) error {
	return b.client.PutObject(ctx, name, b.container, nil, size, contents)
}
