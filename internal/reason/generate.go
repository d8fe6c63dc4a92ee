package reason

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/workflow"
)

const (
	placeholderQuestion = "{{question}}"
	placeholderContext  = "{{context}}"

	defaultPromptTemplate = `You are an assistant answering questions about well log curves, USGS water measurements and EIA electricity generation records.

Context:
{{context}}

Question: {{question}}

Answer using only the context above. If the context does not contain the answer, say that the data does not cover it.`
)

// PromptTemplate is the generation prompt with its two placeholders.
type PromptTemplate struct {
	raw string
}

// LoadPromptTemplate reads a template file and verifies both
// placeholders are present.
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt template: %w", err)
	}
	raw := string(data)
	for _, placeholder := range []string{placeholderQuestion, placeholderContext} {
		if !strings.Contains(raw, placeholder) {
			return nil, fmt.Errorf("prompt template %s missing %s placeholder", path, placeholder)
		}
	}
	return &PromptTemplate{raw: raw}, nil
}

// DefaultPromptTemplate returns the built-in template used when no file
// is configured or loadable.
func DefaultPromptTemplate() *PromptTemplate {
	return &PromptTemplate{raw: defaultPromptTemplate}
}

// Render fills the placeholders.
func (t *PromptTemplate) Render(question, contextStr string) string {
	out := strings.ReplaceAll(t.raw, placeholderContext, contextStr)
	return strings.ReplaceAll(out, placeholderQuestion, question)
}

// LLMGeneration is the catch-all strategy: it prompts the generation
// model with the retrieved context. It is the only strategy that fails
// hard, when there is no context to ground the answer in.
type LLMGeneration struct {
	generator    Generator
	template     *PromptTemplate
	prompt       config.PromptSettings
	maxNewTokens int
	logger       *logrus.Logger
}

// NewLLMGeneration builds the fallback strategy. A nil template selects
// the built-in one.
func NewLLMGeneration(generator Generator, template *PromptTemplate, prompt config.PromptSettings, maxNewTokens int, logger *logrus.Logger) *LLMGeneration {
	if template == nil {
		template = DefaultPromptTemplate()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMGeneration{
		generator:    generator,
		template:     template,
		prompt:       prompt,
		maxNewTokens: maxNewTokens,
		logger:       logger,
	}
}

func (s *LLMGeneration) Name() string { return "llm_generation" }

func (s *LLMGeneration) CanHandle(state *workflow.State) bool { return true }

func (s *LLMGeneration) Execute(ctx context.Context, state *workflow.State) error {
	if !state.HasRetrieved() {
		return fmt.Errorf("no retrieved context to generate from")
	}

	maxChars := s.prompt.MaxChars
	if maxChars <= 0 {
		maxChars = 12000
	}
	contextStr, compacted := assembleContext(state.Retrieved, maxChars, s.prompt.CompactThreshold)
	if compacted {
		state.Meta.AddDecision("context compacted to fit the prompt")
	}
	promptStr := s.template.Render(state.Query, contextStr)

	charsPerToken := s.prompt.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	estimated := int(float64(len(promptStr)) / charsPerToken)
	state.Meta.AddDecision("prompt assembled: %d chars, about %d tokens", len(promptStr), estimated)

	result, err := s.generator.Generate(ctx, promptStr, s.maxNewTokens)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	state.Response = result.Text
	state.Meta.GenModel = result.Model
	state.Meta.InputTokens = result.InputTokens
	state.Meta.GeneratedTokens = result.GeneratedTokens

	s.logger.WithFields(logrus.Fields{
		"model":            result.Model,
		"input_tokens":     result.InputTokens,
		"generated_tokens": result.GeneratedTokens,
	}).Debug("Generation completed")
	return nil
}

// compactEntryChars bounds one entry after compaction.
const compactEntryChars = 240

// assembleContext numbers the retrieved entries and concatenates them
// up to the character budget. When the raw entries together exceed the
// compaction threshold, every entry is first cut down to its opening
// line so later entries still make it into the prompt. The first entry
// is truncated rather than dropped when it alone exceeds the budget.
func assembleContext(retrieved []string, maxChars, compactThreshold int) (string, bool) {
	entries := retrieved
	compacted := false
	if compactThreshold > 0 {
		total := 0
		for _, e := range retrieved {
			total += len(e)
		}
		if total > compactThreshold {
			entries = compactEntries(retrieved)
			compacted = true
		}
	}

	var b strings.Builder
	for i, entry := range entries {
		if entry == "" {
			continue
		}
		block := fmt.Sprintf("[%d] %s", i+1, entry)
		if b.Len() == 0 {
			if len(block) > maxChars {
				block = block[:maxChars]
			}
			b.WriteString(block)
			continue
		}
		if b.Len()+len(block)+2 > maxChars {
			break
		}
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	return b.String(), compacted
}

// compactEntries reduces each entry to its first line, capped.
func compactEntries(entries []string) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		if idx := strings.IndexByte(entry, '\n'); idx >= 0 {
			entry = entry[:idx]
		}
		entry = strings.TrimSpace(entry)
		if len(entry) > compactEntryChars {
			entry = entry[:compactEntryChars]
		}
		out[i] = entry
	}
	return out
}
