// Package advisor composes the customer-facing message attached to a
// decision. Messages are generated by an LLM when an API key is
// configured and fall back to static templates otherwise; a decision is
// never blocked or altered by message generation.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ventture/credit-engine/internal/monitoring"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 300
	requestTimeout   = 10 * time.Second
)

// Outcome carries the decision facts the advisor may mention. Denial
// messages never cite probabilities, thresholds, or internal limits;
// only the top-ranked features are named.
type Outcome struct {
	Approved    bool
	TopFeatures []string
	ProductName string
}

// Messenger generates one message for an outcome.
type Messenger interface {
	Message(ctx context.Context, outcome Outcome) (string, error)
}

// Advisor wraps a Messenger with static fallbacks and metrics.
type Advisor struct {
	messenger Messenger
	metrics   *monitoring.Metrics
	logger    *monitoring.Logger
}

// New builds an advisor. With an empty API key the advisor is
// fallback-only and never makes network calls.
func New(apiKey string, metrics *monitoring.Metrics, logger *monitoring.Logger) *Advisor {
	a := &Advisor{metrics: metrics, logger: logger}
	if apiKey != "" {
		a.messenger = newSDKMessenger(apiKey)
		slog.Info("Advisor LLM client initialized", "model", defaultModel)
	} else {
		slog.Info("Advisor API key not configured, using static messages")
	}
	return a
}

// Compose returns the message for an outcome. Generation failures are
// counted and logged, then replaced by the static fallback.
func (a *Advisor) Compose(ctx context.Context, outcome Outcome) string {
	if a.messenger == nil {
		return FallbackMessage(outcome)
	}

	start := time.Now()
	msg, err := a.messenger.Message(ctx, outcome)
	duration := time.Since(start)

	if a.metrics != nil {
		a.metrics.RecordAdvisorCall(err == nil)
	}
	if a.logger != nil {
		a.logger.ExternalAPILogger("anthropic", "POST", "/v1/messages", statusOf(err), duration, err == nil)
	}

	if err != nil {
		slog.Warn("Advisor message generation failed, using fallback", "error", err)
		return FallbackMessage(outcome)
	}

	msg = strings.TrimSpace(msg)
	if msg == "" {
		return FallbackMessage(outcome)
	}
	return msg
}

func statusOf(err error) int {
	if err != nil {
		return 502
	}
	return 200
}

// FallbackMessage returns the static template for an outcome.
func FallbackMessage(outcome Outcome) string {
	if outcome.Approved {
		if outcome.ProductName != "" {
			return fmt.Sprintf("Congratulations, your credit application was approved. Based on your profile we recommend our %s product. A specialist will contact you with the next steps.", outcome.ProductName)
		}
		return "Congratulations, your credit application was approved. A specialist will contact you with the next steps."
	}
	return "Thank you for your application. At this time we are unable to approve your request. Our team is available to discuss ways to strengthen a future application."
}

// sdkMessenger generates messages through the Anthropic API.
type sdkMessenger struct {
	client sdk.Client
}

func newSDKMessenger(apiKey string) *sdkMessenger {
	return &sdkMessenger{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
	}
}

const systemPrompt = `You write short customer notifications for a credit provider.
Rules:
- At most three sentences, warm and professional.
- For approvals, congratulate the customer and mention the recommended product when given.
- For denials, be respectful and encouraging. Never mention scores, probabilities, models, thresholds, or internal criteria.
- Never invent amounts, rates, or deadlines.`

func (m *sdkMessenger) Message(ctx context.Context, outcome Outcome) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	prompt := buildPrompt(outcome)

	msg, err := m.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(defaultModel),
		MaxTokens: defaultMaxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("advisor message request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	return b.String(), nil
}

func buildPrompt(outcome Outcome) string {
	var b strings.Builder

	if outcome.Approved {
		b.WriteString("Write an approval notification.")
		if outcome.ProductName != "" {
			fmt.Fprintf(&b, " Recommended product: %s.", outcome.ProductName)
		}
	} else {
		b.WriteString("Write a denial notification.")
	}

	if len(outcome.TopFeatures) > 0 {
		fmt.Fprintf(&b, " The factors that weighed most in the analysis were: %s. Mention them only in general terms.", strings.Join(outcome.TopFeatures, ", "))
	}

	return b.String()
}
