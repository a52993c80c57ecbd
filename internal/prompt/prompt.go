// Package prompt composes the system context sent to the generation provider:
// a fixed safety preamble, the caller's profile, and a turn-position instruction.
package prompt

import "strings"

// Position selects the turn-position instruction.
type Position int

const (
	// Continuing is any turn after the first conversational turn.
	Continuing Position = iota
	// FirstTurn is the first user utterance of a session (usually right after the greeting).
	FirstTurn
	// Greeting is the opener spoken before the user has said anything.
	Greeting
)

func (p Position) String() string {
	switch p {
	case Greeting:
		return "greeting"
	case FirstTurn:
		return "first_turn"
	default:
		return "continuing"
	}
}

const (
	SafetyPreamble = "You are a friendly health check-in companion. " +
		"You may greet the user, ask about their day, and gently remind them of general healthy habits. " +
		"You MUST NOT provide medical diagnosis, change medicines, or give specific treatment plans. " +
		"If the user seems to be in danger or describes very serious symptoms, tell them to contact a doctor or emergency services.\n"

	ProfileNotProvided = "User profile is not provided.\n"

	profileIntro = "Here is the user's profile in JSON:\n"

	greetingInstruction = "This is the FIRST greeting when the app starts a new voice session. " +
		"The user has not said anything yet. " +
		"Use the user's preferredName if present. " +
		"Give a short, warm greeting (1-2 sentences), briefly mention their health condition in a supportive way, " +
		"and end with ONE simple question like \"How are you feeling today?\" or similar. " +
		"Be concise."

	firstTurnInstruction = "This is the FIRST message of this session (after the greeting). " +
		"You may still be a bit more welcoming and refer to the user's profile once, " +
		"but avoid repeating a long introduction. Be brief."

	continuingInstruction = "This is NOT the first message. Continue the conversation naturally and briefly."
)

// PositionFor maps the two flags onto a Position. Greeting wins over first turn.
func PositionFor(isFirstTurn, isGreeting bool) Position {
	switch {
	case isGreeting:
		return Greeting
	case isFirstTurn:
		return FirstTurn
	default:
		return Continuing
	}
}

// Build is BuildContext with the flag form of the position.
func Build(profileText string, isFirstTurn, isGreeting bool) string {
	return BuildContext(profileText, PositionFor(isFirstTurn, isGreeting))
}

// BuildContext is pure: the same inputs always produce the same string.
func BuildContext(profileText string, pos Position) string {
	var b strings.Builder
	b.Grow(len(SafetyPreamble) + len(profileText) + len(greetingInstruction) + 64)

	b.WriteString(SafetyPreamble)
	b.WriteString("\n")
	b.WriteString(profileBlock(profileText))
	b.WriteString("\n")
	b.WriteString(instructionFor(pos))
	return b.String()
}

func profileBlock(profileText string) string {
	if strings.TrimSpace(profileText) == "" {
		return ProfileNotProvided
	}
	return profileIntro + profileText + "\n"
}

func instructionFor(pos Position) string {
	switch pos {
	case Greeting:
		return greetingInstruction
	case FirstTurn:
		return firstTurnInstruction
	default:
		return continuingInstruction
	}
}
