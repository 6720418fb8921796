package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ChatRequest is the body of POST /chat and POST /chat/stream. It always
// carries the full conversation context; the backend keeps no session state.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// notblank: strings must contain something other than whitespace
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// Validate checks the request against the backend contract: at least one
// message, known roles, and no blank content.
func (r ChatRequest) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}

// NewChatRequest builds a request from a conversation log. Messages whose
// content is blank are dropped and everything else is sent.
//
// A positive maxHistory keeps only the most recent maxHistory messages after
// the leading system messages, which are always sent.
func NewChatRequest(log []ChatMessage, maxHistory int) ChatRequest {
	msgs := make([]ChatMessage, 0, len(log))
	for _, m := range log {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, m)
	}

	if maxHistory <= 0 {
		return ChatRequest{Messages: msgs}
	}

	var lead int
	for lead < len(msgs) && msgs[lead].Role == RoleSystem {
		lead++
	}
	if rest := len(msgs) - lead; rest > maxHistory {
		msgs = append(msgs[:lead:lead], msgs[len(msgs)-maxHistory:]...)
	}

	return ChatRequest{Messages: msgs}
}
