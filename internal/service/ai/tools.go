package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"careerpilot/internal/models"
)

// DocumentStore is the narrow persistence surface the document tools need.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocumentContent(ctx context.Context, userID int64, docID, content string) error
}

// ResumeTools returns the tools bound to the resume generator.
func ResumeTools() []tool.InvokableTool {
	return []tool.InvokableTool{initSkillScorer(), initResumeTemplate()}
}

// ChatTools returns the general tools bound to the default chat generator.
func ChatTools(docs DocumentStore) []tool.InvokableTool {
	tools := []tool.InvokableTool{
		initCreateDocument(docs),
		initUpdateDocument(docs),
		initWeatherLookup(),
	}
	if ws := InitWebSearch(); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

// skill scorer

type skillScoreParams struct {
	GraduationYear int      `json:"graduation_year"`
	Skills         []string `json:"skills"`
}

type skillScoreResult struct {
	Score       int      `json:"score"`
	Suggestions []string `json:"suggestions"`
}

func initSkillScorer() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "score_skills",
		Desc: "Score a candidate's skill profile given graduation year and skill list. Deterministic; no external calls.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"graduation_year": {
				Desc:     "Four-digit graduation year, e.g. 2021.",
				Type:     schema.Integer,
				Required: true,
			},
			"skills": {
				Desc:     "Skill names listed on the resume.",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, params *skillScoreParams) (string, error) {
		if params == nil {
			return "", errors.New("missing scoring parameters")
		}
		score, suggestions := ScoreSkills(params.GraduationYear, params.Skills)
		out, err := json.Marshal(skillScoreResult{Score: score, Suggestions: suggestions})
		if err != nil {
			return "", fmt.Errorf("marshal score: %w", err)
		}
		return string(out), nil
	})
}

// ScoreSkills is a pure function of the inputs: the same profile always
// yields the same score and suggestions.
func ScoreSkills(graduationYear int, skills []string) (int, []string) {
	normalized := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized[s] = struct{}{}
		}
	}

	score := 35 + 6*len(normalized)
	if score > 80 {
		score = 80
	}

	var suggestions []string
	checks := []struct {
		any    []string
		advice string
		bonus  int
	}{
		{[]string{"go", "golang", "java", "python", "c++", "rust"}, "Add at least one mainstream programming language.", 8},
		{[]string{"sql", "mysql", "postgresql", "sqlite"}, "List database experience such as MySQL or PostgreSQL.", 6},
		{[]string{"docker", "kubernetes", "k8s"}, "Mention container or deployment tooling you have used.", 6},
	}
	for _, c := range checks {
		found := false
		for _, key := range c.any {
			if _, ok := normalized[key]; ok {
				found = true
				break
			}
		}
		if found {
			score += c.bonus
		} else {
			suggestions = append(suggestions, c.advice)
		}
	}

	if graduationYear > 0 && graduationYear < time.Now().Year()-8 {
		suggestions = append(suggestions, "Lead with recent projects; senior resumes are judged on impact, not coursework.")
	}
	if len(normalized) < 4 {
		suggestions = append(suggestions, "List more concrete skills; four or more reads much stronger.")
	}
	if score > 100 {
		score = 100
	}
	sort.Strings(suggestions)
	return score, suggestions
}

// resume template

type resumeTemplateParams struct {
	Role string `json:"role"`
}

func initResumeTemplate() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "resume_template",
		Desc: "Return a markdown resume skeleton tailored to the target role.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"role": {
				Desc:     "Target role, e.g. backend engineer.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, params *resumeTemplateParams) (string, error) {
		role := "the target role"
		if params != nil && strings.TrimSpace(params.Role) != "" {
			role = strings.TrimSpace(params.Role)
		}
		template := fmt.Sprintf(`# Name · %s

## Summary
One or two lines connecting your strongest result to %s.

## Experience
- Company — Title (dates): action, scale, measurable outcome.

## Projects
- Project name: problem, your contribution, result.

## Skills
Languages · Frameworks · Infrastructure

## Education
School, degree, graduation year.`, role, role)
		return template, nil
	})
}

// document tools

type createDocumentParams struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
}

func initCreateDocument(docs DocumentStore) tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "create_document",
		Desc: "Create a persistent document (cover letter, polished resume, notes) and return its id.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title": {
				Desc:     "Document title.",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "Full document content, markdown allowed.",
				Type:     schema.String,
				Required: true,
			},
			"kind": {
				Desc:     "Optional document kind, e.g. cover_letter, resume, note.",
				Type:     schema.String,
				Required: false,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, params *createDocumentParams) (string, error) {
		if docs == nil {
			return "", errors.New("document storage unavailable")
		}
		if params == nil || strings.TrimSpace(params.Title) == "" {
			return "", errors.New("title is required")
		}
		userID, _, ok := ToolSessionFromContext(ctx)
		if !ok {
			return "", errors.New("no session bound to tool call")
		}
		kind := params.Kind
		if kind == "" {
			kind = "note"
		}
		doc := &models.Document{
			ID:      uuid.NewString(),
			UserID:  userID,
			Title:   params.Title,
			Content: params.Content,
			Kind:    kind,
		}
		if err := docs.CreateDocument(ctx, doc); err != nil {
			return "", fmt.Errorf("create document: %w", err)
		}
		out, _ := json.Marshal(map[string]string{"document_id": doc.ID, "title": doc.Title})
		return string(out), nil
	})
}

type updateDocumentParams struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

func initUpdateDocument(docs DocumentStore) tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: "update_document",
		Desc: "Replace the content of an existing document. Requires user approval before it runs.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"document_id": {
				Desc:     "Id returned by create_document.",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "New full content for the document.",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, params *updateDocumentParams) (string, error) {
		if docs == nil {
			return "", errors.New("document storage unavailable")
		}
		if params == nil || params.DocumentID == "" {
			return "", errors.New("document_id is required")
		}
		userID, _, ok := ToolSessionFromContext(ctx)
		if !ok {
			return "", errors.New("no session bound to tool call")
		}
		if err := docs.UpdateDocumentContent(ctx, userID, params.DocumentID, params.Content); err != nil {
			return "", fmt.Errorf("update document: %w", err)
		}
		out, _ := json.Marshal(map[string]string{"document_id": params.DocumentID, "status": "updated"})
		return string(out), nil
	})
}

// weather lookup

type weatherParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func initWeatherLookup() tool.InvokableTool {
	client := &http.Client{Timeout: WeatherHTTPTimeout}
	info := &schema.ToolInfo{
		Name: "weather_lookup",
		Desc: "Look up current weather for a coordinate pair (useful before on-site interviews).",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"latitude": {
				Desc:     "Latitude in decimal degrees.",
				Type:     schema.Number,
				Required: true,
			},
			"longitude": {
				Desc:     "Longitude in decimal degrees.",
				Type:     schema.Number,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, func(ctx context.Context, params *weatherParams) (string, error) {
		if params == nil {
			return "", errors.New("missing coordinates")
		}
		url := fmt.Sprintf(
			"https://api.open-meteo.com/v1/forecast?latitude=%.4f&longitude=%.4f&current=temperature_2m,precipitation,wind_speed_10m",
			params.Latitude, params.Longitude,
		)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("weather request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("weather service: %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return "", err
		}
		return string(body), nil
	})
}
