package chat

import "kidgate.dev/internal/identity"

// Mode selects the conversational persona for a turn.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeStudy    Mode = "study"
	ModeCreative Mode = "creative"
)

// ParseMode normalizes a caller-supplied mode, defaulting to general.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeGeneral, ModeStudy, ModeCreative:
		return Mode(raw), nil
	case "":
		return ModeGeneral, nil
	default:
		return "", ErrInvalidInput
	}
}

const basePrompt = "You are a helpful, friendly, and educational AI assistant designed specifically for children. "

const safetyPrompt = "Always maintain child-safe content. Never discuss inappropriate topics, violence, or adult content. " +
	"If a user expresses distress, provide supportive, age-appropriate resources and suggest they talk to a trusted adult. "

// SystemPrompt composes the deterministic system prompt for a turn from the
// mode and the subject's age bracket. Same inputs always yield the same
// prompt.
func SystemPrompt(mode Mode, subject *identity.Identity) string {
	prompt := basePrompt

	var bracket identity.AgeBracket
	if subject != nil {
		bracket = subject.AgeBracket
	}
	switch bracket {
	case identity.AgeUnder5:
		prompt += "Use very simple language, short sentences, and focus on basic concepts. Be playful and encouraging. "
	case identity.Age5To8:
		prompt += "Use simple language with some new words to help them learn. Be encouraging and educational. "
	case identity.Age9To12:
		prompt += "Use age-appropriate language that challenges them to learn. Be educational and engaging. "
	case identity.Age13To17:
		prompt += "Use more sophisticated language while remaining appropriate. Be educational and supportive. "
	}

	switch mode {
	case ModeStudy:
		prompt += "You are in Study Mode. Provide step-by-step explanations, ask questions to guide their thinking, and give constructive feedback. Make learning interactive and fun. "
	case ModeCreative:
		prompt += "You are in Creative Companion Mode. Be imaginative, playful, and encourage creativity. Use storytelling and imaginative scenarios. "
	default:
		prompt += "Be helpful, educational, and age-appropriate. Keep responses positive and constructive. "
	}

	return prompt + safetyPrompt
}
