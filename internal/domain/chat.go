package domain

// ChatMessage is the display-normalized form of one conversation message,
// rebuilt from a checkpoint on every history read.
type ChatMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	ID      *string `json:"id"`
	Name    *string `json:"name"`
}

// History is the payload returned for a conversation history read.
type History struct {
	ThreadID     string        `json:"thread_id"`
	MessageCount int           `json:"message_count"`
	Messages     []ChatMessage `json:"messages"`
}
