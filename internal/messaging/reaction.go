package messaging

import (
	"gator-chat/internal/utils"

	"github.com/forPelevin/gomoji"
)

// ValidateReaction accepts exactly one emoji and nothing else.
func ValidateReaction(reaction string) error {
	emojis := gomoji.CollectAll(reaction)
	if len(emojis) != 1 || emojis[0].Character != reaction {
		return utils.NewValidationError("reaction must be a single emoji")
	}
	return nil
}
