package turn

import (
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"careerpilot/internal/models"
)

// Profile is the prompt-level configuration distinguishing the three
// generators. Structure is shared; only instructions, priming, the
// short-circuit heuristic and tool policy differ.
type Profile struct {
	SystemPrompt string

	// Primer synthesizes a scripted opening exchange prepended to the
	// model context on a chat's first user message.
	Primer func(t *Turn) []*schema.Message

	// ShortCircuit returns a scripted reply when the turn lacks enough
	// on-topic content to be worth a model call.
	ShortCircuit func(t *Turn) (string, bool)

	// ApprovalRequired names tools whose execution must wait for an
	// explicit user approval in a continuation turn.
	ApprovalRequired map[string]bool
}

// resumeContentThreshold is the minimum length, in runes, of the longest
// user message before the resume generator considers an actual resume to
// be present in the conversation.
const resumeContentThreshold = 200

const resumeAskForResume = "I'd be glad to help with your resume. Please paste its text here or upload the file, and tell me the kind of role you are targeting."

// ResumeProfile reviews and rewrites resumes. It short-circuits to a
// request for the resume itself when no user message is long enough to
// plausibly contain one.
func ResumeProfile() Profile {
	return Profile{
		SystemPrompt: `You are a resume optimization assistant. Review the user's resume for
structure, impact and relevance to their target role. Quantify achievements, cut filler,
and keep suggestions concrete. Use the skill scoring tool when the user lists skills and
a graduation year, and the template tool when they need a starting structure.`,
		ShortCircuit: func(t *Turn) (string, bool) {
			if longestUserText(t) < resumeContentThreshold {
				return resumeAskForResume, true
			}
			return "", false
		},
	}
}

// InterviewProfile runs mock interviews. First contact gets a scripted
// warm-up exchange so the model opens in interviewer character instead of
// answering cold.
func InterviewProfile() Profile {
	return Profile{
		SystemPrompt: `You are a mock interviewer. Ask one question at a time, wait for the
answer, then give brief feedback before the next question. Match the difficulty to the
role the user names; default to a general behavioral interview when they name none.
Stay in character as the interviewer.`,
		Primer: func(t *Turn) []*schema.Message {
			return []*schema.Message{
				schema.AssistantMessage("Welcome to your mock interview. What role are you practicing for, and would you prefer behavioral or technical questions?", nil),
				schema.UserMessage("Let's get started."),
			}
		},
	}
}

// ChatProfile is the default conversational generator. It carries the
// general tools; document updates touch user data and therefore require
// approval before execution.
func ChatProfile() Profile {
	return Profile{
		SystemPrompt: `You are CareerPilot, a career development assistant. Answer questions
about job searching, skills, salaries and workplace topics; for anything else, answer
helpfully and briefly. Use the web search and weather tools for current information, and
the document tools when the user asks you to save or revise a document.`,
		ApprovalRequired: map[string]bool{
			"update_document": true,
		},
	}
}

// longestUserText returns the rune length of the longest user-authored
// text in the turn, counting extracted attachments.
func longestUserText(t *Turn) int {
	longest := 0
	for _, m := range t.Messages {
		if m == nil || m.Role != models.RoleUser {
			continue
		}
		if n := utf8.RuneCountInString(strings.TrimSpace(m.PlainText())); n > longest {
			longest = n
		}
	}
	return longest
}
