// Package generate produces test skeletons for records via external AI
// providers. A provider without credentials degrades to emitting the prompt
// itself so the command always produces something actionable.
package generate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/starford/tanda/internal/models"
)

// requestTimeout bounds one generation call.
const requestTimeout = 60 * time.Second

// Context carries everything a provider needs to build a prompt.
type Context struct {
	Tanda         *models.Tanda
	AppURL        string
	ExistingTests []string
	CoverageTags  []string
}

// Provider generates test code for a record.
type Provider interface {
	Name() string
	GenerateTest(ctx context.Context, tc Context) (string, error)
}

// New returns the provider with the given name. The API key is read from the
// provider's conventional environment variable.
func New(name, model string) (Provider, error) {
	switch name {
	case "", "claude":
		return NewClaude(os.Getenv("ANTHROPIC_API_KEY"), model), nil
	case "openai":
		return NewOpenAI(os.Getenv("OPENAI_API_KEY"), model), nil
	case "gemini":
		return NewGemini(os.Getenv("GEMINI_API_KEY"), model), nil
	default:
		return nil, fmt.Errorf("generate: unknown provider %q (known: claude, openai, gemini)", name)
	}
}

// BuildPrompt renders the shared generation prompt for a record.
func BuildPrompt(tc Context) string {
	t := tc.Tanda
	title := t.Title
	if title == "" {
		title = "Unnamed Tandas entry"
	}

	tags := tc.CoverageTags
	if len(tags) == 0 {
		tags = t.Covers
	}
	coverage := strings.Join(tags, ", ")
	if coverage == "" {
		coverage = "(not specified)"
	}

	fileHint := t.File
	if fileHint == "" {
		fileHint = "tests/generated/<slug>.spec.ts"
	}

	deps := strings.Join(t.DependsOn, ", ")
	if deps == "" {
		deps = "none"
	}

	appURL := tc.AppURL
	if appURL == "" {
		appURL = "unknown"
	}

	existing := strings.Join(tc.ExistingTests, ", ")
	if existing == "" {
		existing = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a Playwright test for %q.\n\n", title)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- File path hint: %s\n", fileHint)
	fmt.Fprintf(&b, "- Coverage tags: %s\n", coverage)
	fmt.Fprintf(&b, "- Depends on: %s\n", deps)
	fmt.Fprintf(&b, "- Application URL: %s\n", appURL)
	fmt.Fprintf(&b, "- Reference existing tests: %s\n\n", existing)
	b.WriteString("Respond with runnable TypeScript Playwright test code and a short comment header summarizing intent.")
	return b.String()
}

// missingKeyMessage is the degraded output when a provider has no API key.
func missingKeyMessage(provider, envVar, prompt string) string {
	return strings.Join([]string{
		"# " + provider + " provider not configured",
		"# Set " + envVar + " or edit .tandas/config.yaml to enable live generation.",
		"",
		prompt,
	}, "\n")
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
