// Package analyzer runs the per-segment vision agent: a small
// hand-written loop that offers the model two tools — analyze_image and
// rotate_image — and collects a structured Markdown report plus the tool-step
// trail.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"docstream/internal/llm"
	"docstream/internal/objectstore"
	"docstream/internal/workflow"
)

// ErrModelAgent wraps analyzer runtime failures; the affected segment fails
// but the workflow continues with the remaining segments.
var ErrModelAgent = errors.New("segment analyzer failed")

// DefaultMaxIterations bounds the tool loop.
const DefaultMaxIterations = 10

const systemPrompt = `You are a Technical Document Analysis Expert. Analyze documents thoroughly using available tools.

When analyzing:
1. First verify image orientation. If text appears rotated or upside down, use the rotate_image tool.
2. Use the analyze_image tool with specific, targeted questions.
3. Explore multiple aspects: text, visuals, layout, data.
4. Provide comprehensive analysis.`

var languageNames = map[string]string{
	"ko": "Korean",
	"en": "English",
	"ja": "Japanese",
	"zh": "Chinese",
}

// Output is the analyzer's result for one segment.
type Output struct {
	AnalysisResult string
	AnalysisSteps  []workflow.AnalysisStep
	Iterations     int
}

// Analyzer drives the agent.
type Analyzer struct {
	provider llm.Provider
	objects  objectstore.ObjectStore
	maxIters int
}

// New creates an Analyzer. maxIters <= 0 selects DefaultMaxIterations.
func New(provider llm.Provider, objects objectstore.ObjectStore, maxIters int) *Analyzer {
	if maxIters <= 0 {
		maxIters = DefaultMaxIterations
	}
	return &Analyzer{provider: provider, objects: objects, maxIters: maxIters}
}

// Analyze runs the agent over one segment. Segments without an image run
// text-only and are offered no image tools.
func (a *Analyzer) Analyze(ctx context.Context, wf *workflow.Workflow, seg *workflow.Segment) (*Output, error) {
	language := languageNames[wf.Settings.Language]
	if language == "" {
		language = "English"
	}

	state := &segmentState{previousContext: buildContext(seg)}
	if seg.ImageURI != "" {
		data, mediaType, err := a.loadImage(ctx, seg.ImageURI)
		if err != nil {
			return nil, fmt.Errorf("%w: load image: %v", ErrModelAgent, err)
		}
		state.image = data
		state.mediaType = mediaType
	}

	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt +
			"\n\nIMPORTANT: You MUST provide all analysis, questions, and answers in " + language + "."},
		{Role: "user", Content: userQuery(seg.SegmentIndex, state.previousContext, language)},
	}

	var tools []llm.ToolSchema
	if state.image != nil {
		tools = toolSchemas()
	}

	out := &Output{}
	for iter := 0; iter < a.maxIters; iter++ {
		reply, err := a.provider.Chat(ctx, msgs, tools, 4096)
		if err != nil {
			out.AnalysisResult = fmt.Sprintf("Analysis failed: %v", err)
			out.Iterations = iter
			return out, fmt.Errorf("%w: %v", ErrModelAgent, err)
		}
		msgs = append(msgs, reply)

		if len(reply.ToolCalls) == 0 {
			out.AnalysisResult = reply.Content
			out.AnalysisSteps = state.steps
			out.Iterations = iter + 1
			log.Info().
				Str("workflow_id", wf.WorkflowID).
				Int("segment_index", seg.SegmentIndex).
				Int("iterations", out.Iterations).
				Int("steps", len(state.steps)).
				Msg("segment_analysis_ok")
			return out, nil
		}

		for _, call := range reply.ToolCalls {
			result := a.dispatch(ctx, state, call, language)
			msgs = append(msgs, llm.Message{Role: "tool", ToolID: call.ID, Content: result})
		}
	}

	// Step budget exhausted: salvage the last assistant text.
	out.AnalysisSteps = state.steps
	out.Iterations = a.maxIters
	out.AnalysisResult = lastAssistantText(msgs)
	if out.AnalysisResult == "" {
		out.AnalysisResult = "Analysis incomplete: iteration budget exhausted."
	}
	return out, nil
}

func (a *Analyzer) dispatch(ctx context.Context, state *segmentState, call llm.ToolCall, language string) string {
	switch call.Name {
	case "analyze_image":
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil || strings.TrimSpace(args.Question) == "" {
			return "analyze_image requires a question argument."
		}
		return a.analyzeImage(ctx, state, args.Question, language)
	case "rotate_image":
		var args struct {
			Degrees int `json:"degrees"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return "rotate_image requires a degrees argument."
		}
		return rotateImage(state, args.Degrees)
	default:
		return fmt.Sprintf("Unknown tool: %s", call.Name)
	}
}

func (a *Analyzer) loadImage(ctx context.Context, imageURI string) ([]byte, string, error) {
	_, key, err := objectstore.ParseURI(imageURI)
	if err != nil {
		return nil, "", err
	}
	data, err := a.objects.GetBytes(ctx, key)
	if err != nil {
		return nil, "", err
	}
	mediaType := "image/png"
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".jpg"), strings.HasSuffix(strings.ToLower(key), ".jpeg"):
		mediaType = "image/jpeg"
	case strings.HasSuffix(strings.ToLower(key), ".webp"):
		mediaType = "image/webp"
	case strings.HasSuffix(strings.ToLower(key), ".gif"):
		mediaType = "image/gif"
	}
	return data, mediaType, nil
}

// segmentState is the mutable agent state: the current (possibly rotated)
// image and the accumulated step trail.
type segmentState struct {
	image           []byte
	mediaType       string
	previousContext string
	steps           []workflow.AnalysisStep
}

func buildContext(seg *workflow.Segment) string {
	var parts []string
	if seg.BDAContent != "" {
		parts = append(parts, "## BDA Analysis:\n"+seg.BDAContent)
	}
	if seg.ParsedText != "" {
		parts = append(parts, "## Parsed Text:\n"+seg.ParsedText)
	}
	if len(parts) == 0 {
		return "No prior analysis available."
	}
	return strings.Join(parts, "\n\n")
}

func userQuery(segmentIndex int, context, language string) string {
	return fmt.Sprintf(`Please analyze the following document segment (page %d).

Previous analysis context:
%s

Use the available tools to systematically analyze the document and provide results in the following format:

## Document Overview
## Key Findings
## Technical Details
## Visual Elements
## Recommendations

IMPORTANT: Provide all analysis in %s.`, segmentIndex+1, context, language)
}

func toolSchemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Name:        "analyze_image",
			Description: "Submit the current document image to the vision model with a specific question and receive an answer grounded in the image and the prior context.",
			Parameters: map[string]any{
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "A specific, targeted question about the image.",
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        "rotate_image",
			Description: "Rotate the current document image. Use 90 for clockwise, 180 if text is upside down, 270 for counter-clockwise; other angles rotate freely.",
			Parameters: map[string]any{
				"properties": map[string]any{
					"degrees": map[string]any{
						"type":        "integer",
						"description": "Rotation angle in degrees.",
					},
				},
				"required": []string{"degrees"},
			},
		},
	}
}

func lastAssistantText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}
