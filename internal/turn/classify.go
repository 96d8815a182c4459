package turn

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const classifierPrompt = `You label the intent of the latest user message in a career assistant chat.
Reply with a single JSON object and nothing else:
{"intent": "<label>", "confidence": <0..1>}

Labels:
- resume_optimization: the user wants their resume or CV reviewed, rewritten or improved.
- mock_interview: the user wants to practice interviewing or be asked interview questions.
- related_topics: career-adjacent questions (job search, salary, skills, workplace).
- other: everything else, including greetings and small talk.`

// Classifier assigns each turn an intent label. It is total: every path
// returns a valid Classification and no failure ever escapes to the caller.
type Classifier struct {
	model model.BaseChatModel
}

func NewClassifier(m model.BaseChatModel) *Classifier {
	return &Classifier{model: m}
}

// Classify labels the turn's latest user text. A turn with no user text is
// labelled other with full confidence without calling the model. Any model
// or parse failure falls back to related_topics at 0.5 so the turn still
// reaches a conversational generator.
func (c *Classifier) Classify(ctx context.Context, t *Turn) Classification {
	latest := t.LatestUserMessage()
	if latest == nil || strings.TrimSpace(latest.PlainText()) == "" {
		return Classification{Intent: IntentOther, Confidence: 1.0}
	}
	fallback := Classification{Intent: IntentRelatedTopics, Confidence: 0.5}
	if c.model == nil {
		return fallback
	}

	reply, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(classifierPrompt),
		schema.UserMessage(latest.PlainText()),
	})
	if err != nil {
		log.Printf("classify: model call failed: %v", err)
		return fallback
	}

	cls, err := parseClassification(reply.Content)
	if err != nil {
		log.Printf("classify: bad model reply %q: %v", reply.Content, err)
		return fallback
	}
	return cls
}

func parseClassification(raw string) (Classification, error) {
	raw = stripCodeFence(raw)
	var cls Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		return Classification{}, err
	}
	switch cls.Intent {
	case IntentResumeOptimization, IntentMockInterview, IntentRelatedTopics, IntentOther:
	default:
		return Classification{}, errUnknownIntent(cls.Intent)
	}
	if cls.Confidence < 0 {
		cls.Confidence = 0
	}
	if cls.Confidence > 1 {
		cls.Confidence = 1
	}
	return cls, nil
}

type errUnknownIntent Intent

func (e errUnknownIntent) Error() string {
	return "unknown intent label " + string(e)
}

// stripCodeFence removes a surrounding ```json fence some models insist on.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
