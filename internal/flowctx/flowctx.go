// Package flowctx carries per-flow identifiers through the call chain as
// explicit context values. Tool implementations invoked deep inside an agent
// run read these to learn which conversation and confirmation surface they
// belong to. Values are flow-local: concurrent requests never see each
// other's identifiers.
package flowctx

import "context"

type contextKey string

const (
	conversationKey contextKey = "flow_conversation_id"
	confirmationKey contextKey = "flow_confirmation_id"
)

// WithConversation returns a context carrying the active conversation ID.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey, conversationID)
}

// ConversationID returns the active conversation ID, or "" if unset.
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey).(string)
	return id
}

// WithConfirmation returns a context carrying the confirmation-UI ID used
// for command-confirmation prompts.
func WithConfirmation(ctx context.Context, confirmationID string) context.Context {
	return context.WithValue(ctx, confirmationKey, confirmationID)
}

// ConfirmationID returns the confirmation-UI ID, or "" if unset.
func ConfirmationID(ctx context.Context) string {
	id, _ := ctx.Value(confirmationKey).(string)
	return id
}
