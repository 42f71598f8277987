package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
)

// Summarizer condenses messages into a short summary. previous is the
// current summary, possibly empty, to be folded into the result.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, messages []chat.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, previous string, messages []chat.Message) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, previous string, messages []chat.Message) (string, error) {
	return f(ctx, previous, messages)
}

// Completer generates text from a system instruction and a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMSummarizer summarizes with a text-generation model.
type LLMSummarizer struct {
	completer Completer
	maxWords  int
}

// NewLLMSummarizer creates a summarizer limited to maxWords words.
func NewLLMSummarizer(c Completer, maxWords int) *LLMSummarizer {
	if maxWords <= 0 {
		maxWords = 200
	}
	return &LLMSummarizer{completer: c, maxWords: maxWords}
}

// SystemPrompt returns the fixed summarization instruction.
func (s *LLMSummarizer) SystemPrompt() string {
	return fmt.Sprintf(
		"You summarize team chat conversations between people and AI agents working on software. "+
			"Write a concise summary of at most %d words. Cover the topics discussed, decisions made "+
			"and open action items with their owners. Keep issue, branch and pull request identifiers. "+
			"Never include secrets, credentials, tokens or code blocks.", s.maxWords)
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, previous string, messages []chat.Message) (string, error) {
	out, err := s.completer.Complete(ctx, s.SystemPrompt(), buildTranscript(previous, messages))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	return out, nil
}

func buildTranscript(previous string, messages []chat.Message) string {
	var b strings.Builder
	if previous != "" {
		b.WriteString("Summary so far:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	for _, m := range messages {
		speaker := string(m.Role)
		if m.Name != "" {
			speaker = m.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	b.WriteString("\nWrite the updated summary.")
	return b.String()
}
