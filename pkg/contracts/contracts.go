// Package contracts defines the interfaces between the assistant pipeline and
// its external collaborators: the language-model backend, the domain-data
// retrieval layer, and notification channel drivers.
//
// Keeping these in pkg/ (not internal/) lets deployment-specific builds swap
// in their own implementations without touching the pipeline.
package contracts

import (
	"context"

	"github.com/stridehq/stride/pkg/models"
)

// ModelBackend is the language-model collaborator. Complete blocks until the
// model answers or ctx is done; callers are expected to bound it with a
// deadline. Implementations must not retry internally — retry policy belongs
// to the caller.
type ModelBackend interface {
	Complete(ctx context.Context, system string, turns []models.ChatTurn) (string, error)
}

// Retriever fetches the domain data relevant to a free-text query. The
// project/task schema and its query layer live outside this repository.
type Retriever interface {
	Retrieve(ctx context.Context, userID, tenantID, query string) (*models.RetrievedData, error)
}

// ChannelDriver delivers one notification over one channel. Send returns an
// error on delivery failure; the dispatcher records the attempt either way.
type ChannelDriver interface {
	Kind() models.Channel
	Send(ctx context.Context, n *models.Notification) error
}
