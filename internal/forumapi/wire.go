package forumapi

import "github.com/matheus3301/forumdm/internal/chat"

// Request and response bodies of the forum's chat REST endpoints.

type MessagePageBody struct {
	Messages   []chat.Message `json:"messages"`
	NextCursor string         `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
}

type SendBody struct {
	To          int64     `json:"to"`
	Kind        chat.Kind `json:"kind"`
	Body        string    `json:"body"`
	ClientToken string    `json:"client_token"`
}

type MessageBody struct {
	Message chat.Message `json:"message"`
}

type ThreadPageBody struct {
	Threads    []chat.ThreadSummary `json:"threads"`
	NextCursor string               `json:"nextCursor"`
	HasMore    bool                 `json:"hasMore"`
}

type PresenceRequestBody struct {
	UserIDs []int64 `json:"user_ids"`
}

type PresenceBody struct {
	Presence []chat.PresenceState `json:"presence"`
}

type ErrorBody struct {
	Error string `json:"error"`
}
