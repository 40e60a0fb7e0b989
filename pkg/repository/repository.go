// Package repository defines the persistence contracts consumed by the
// worker pool, context builder, and token accountant, plus a default
// Redis-backed implementation. Persistence is an external collaborator
// per spec §1/§9 ("out of scope" for its own design, but a concrete
// default adapter rounds out a runnable gateway).
package repository

import (
	"context"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

// ConversationRepository persists and retrieves conversation messages.
type ConversationRepository interface {
	// Persist appends message to conversationID's history. Implementations
	// must serialise writes per conversation id (§5's ordering guarantee).
	Persist(ctx context.Context, message gwtypes.Message) error
	// LoadRecent returns the most recent limit messages, oldest first.
	LoadRecent(ctx context.Context, conversationID string, limit int) ([]gwtypes.Message, error)
	// DeleteConversation removes all messages for conversationID, for the
	// "close" ingress frame (§6).
	DeleteConversation(ctx context.Context, conversationID string) error
}

// UserRepository persists per-user budget state.
type UserRepository interface {
	LoadUser(ctx context.Context, userID string) (gwtypes.UserState, error)
	SaveUser(ctx context.Context, user gwtypes.UserState) error
	// ListUserIDs supports the accountant's weekly sweep.
	ListUserIDs(ctx context.Context) ([]string, error)
}
