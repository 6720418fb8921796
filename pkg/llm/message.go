package llm

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the roles the backend accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage represents a single message in a conversation.
// Messages are immutable once appended to a conversation log.
type ChatMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"notblank"`
}
