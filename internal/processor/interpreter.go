/**
 * Recipe Interpreter - LLM adapter
 *
 * Sends OCR text to a chat completions model and decodes the reply into a
 * CandidateRecipe. Retries are not handled here; the orchestrator decides.
 */

package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/recipe-extractor/internal/clients"
	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
)

// InterpretOptions controls a single interpreter call.
type InterpretOptions struct {
	Language   string
	Corrective bool
}

// Interpreter turns extracted text into a candidate recipe.
type Interpreter interface {
	Interpret(ctx context.Context, text *ExtractedText, opts InterpretOptions) (*CandidateRecipe, error)
}

// llmCompleter is satisfied by *clients.LLMClient
type llmCompleter interface {
	Complete(ctx context.Context, messages []clients.ChatMessage) (string, error)
}

// LLMInterpreter implements Interpreter over a chat completions endpoint
type LLMInterpreter struct {
	llm     llmCompleter
	timeout time.Duration
	logger  *logging.Logger
}

// NewLLMInterpreter creates an interpreter with a per-call budget
func NewLLMInterpreter(llm llmCompleter, timeout time.Duration) *LLMInterpreter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMInterpreter{
		llm:     llm,
		timeout: timeout,
		logger:  logging.NewLogger("Interpreter"),
	}
}

// Interpret performs one model call
func (i *LLMInterpreter) Interpret(ctx context.Context, text *ExtractedText, opts InterpretOptions) (*CandidateRecipe, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	content, err := i.llm.Complete(callCtx, buildMessages(text, opts))
	if err != nil {
		return nil, i.classify(ctx, callCtx, err)
	}

	candidate, err := parseCandidate(content)
	if err != nil {
		i.logger.Warn("Unparseable model output",
			"requestId", RequestIDFromContext(ctx),
			"corrective", opts.Corrective,
			"preview", preview(content, 120))
		return nil, errors.NewMalformedResponseError(err)
	}
	return candidate, nil
}

func (i *LLMInterpreter) classify(ctx, callCtx context.Context, err error) error {
	// The caller's own deadline or cancellation belongs to the orchestrator.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stderrors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return errors.NewInterpreterTimeoutError(i.timeout, err)
	}
	if stderrors.Is(err, clients.ErrInvalidCompletion) {
		return errors.NewMalformedResponseError(err)
	}
	return errors.NewInterpreterUnavailableError(err)
}

// parseCandidate extracts the JSON object from a model reply. Models
// sometimes wrap it in Markdown fences or add a sentence around it.
func parseCandidate(content string) (*CandidateRecipe, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return candidateFromFields(fields), nil
}

var fieldAliases = map[string][]string{
	"title":        {"title", "name", "recipeName", "recipe_name"},
	"ingredients":  {"ingredients", "ingredientList", "ingredient_list"},
	"instructions": {"instructions", "steps", "directions", "method", "preparation"},
	"prepTime":     {"prepTime", "prep_time", "preparationTime", "preparation_time"},
	"cookTime":     {"cookTime", "cook_time", "cookingTime", "cooking_time"},
	"servings":     {"servings", "serves", "yield", "portions"},
	"tags":         {"tags", "categories", "labels"},
}

// candidateFromFields maps the decoded object onto the candidate, accepting
// common alternative key spellings and a single {"recipe": {...}} wrapper.
func candidateFromFields(fields map[string]interface{}) *CandidateRecipe {
	if len(fields) == 1 {
		if inner, ok := fields["recipe"].(map[string]interface{}); ok {
			fields = inner
		}
	}

	lookup := func(name string) interface{} {
		for _, key := range fieldAliases[name] {
			if v, ok := fields[key]; ok && v != nil {
				return v
			}
		}
		return nil
	}

	return &CandidateRecipe{
		Title:        lookup("title"),
		Ingredients:  lookup("ingredients"),
		Instructions: lookup("instructions"),
		PrepTime:     lookup("prepTime"),
		CookTime:     lookup("cookTime"),
		Servings:     lookup("servings"),
		Tags:         lookup("tags"),
	}
}

func preview(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
