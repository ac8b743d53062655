package id

import "context"

type contextKey string

const (
	userKey         contextKey = "housing_user_id"
	conversationKey contextKey = "housing_conversation_id"
	logKey          contextKey = "housing_log_id"
)

// IDs captures the identifiers propagated across a turn's execution
// boundaries: the authenticated user, the conversation the turn belongs
// to, and the log id that correlates every line the turn writes.
type IDs struct {
	UserID         string
	ConversationID string
	LogID          string
}

// WithUserID stores the authenticated user identifier on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, conversationID)
}

// WithLogID stores the log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// WithIDs stores every non-empty identifier on the context.
func WithIDs(ctx context.Context, ids IDs) context.Context {
	ctx = WithUserID(ctx, ids.UserID)
	ctx = WithConversationID(ctx, ids.ConversationID)
	ctx = WithLogID(ctx, ids.LogID)
	return ctx
}

// UserIDFromContext extracts the authenticated user identifier, or "".
func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userKey)
}

// ConversationIDFromContext extracts the conversation identifier, or "".
func ConversationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, conversationKey)
}

// LogIDFromContext extracts the log identifier, or "".
func LogIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, logKey)
}

// IDsFromContext collects all known identifiers from the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		UserID:         UserIDFromContext(ctx),
		ConversationID: ConversationIDFromContext(ctx),
		LogID:          LogIDFromContext(ctx),
	}
}

// EnsureLogID guarantees a log identifier is present on the context,
// generating one with generator when absent. It returns the updated
// context and the resulting identifier.
func EnsureLogID(ctx context.Context, generator func() string) (context.Context, string) {
	if existing := LogIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	next := ""
	if generator != nil {
		next = generator()
	}
	if next == "" {
		return ctx, ""
	}
	return WithLogID(ctx, next), next
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
