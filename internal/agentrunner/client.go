package agentrunner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/buildforge/conduct/pkg/models"
)

// Client wraps the Anthropic SDK client with token tracking, grounded on
// the teacher's internal/api.Client.
type Client struct {
	inner   anthropic.Client
	tracker *TokenTracker
}

// ClientConfig configures a new Client. UseAWSBedrock selects the
// teacher's AWS transport; no internal/config setting maps to it, and
// cmd/conduct's newRunner sets only APIKey.
type ClientConfig struct {
	APIKey        string
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
}

// NewClient builds a Client with either direct API-key auth or AWS
// Bedrock, per cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &Client{
		inner:   anthropic.NewClient(opts...),
		tracker: NewTokenTracker(),
	}, nil
}

func (c *Client) sdk() *anthropic.Client { return &c.inner }

// Tracker returns the client's cumulative token tracker.
func (c *Client) Tracker() *TokenTracker { return c.tracker }

// tierModels maps a selector tier to a concrete Anthropic model, grounded
// on the teacher's bedrockModels translation table in internal/api/client.go.
var tierModels = map[models.Tier]anthropic.Model{
	models.TierHaiku:  anthropic.ModelClaudeHaiku4_5_20251001,
	models.TierSonnet: anthropic.ModelClaudeSonnet4_5_20250929,
	models.TierOpus:   anthropic.ModelClaudeOpus4_5_20251101,
}

// bedrockModels mirrors the teacher's cross-region inference-profile
// translation, applied when the client is running against Bedrock.
var bedrockModels = map[anthropic.Model]string{
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
}

// ModelForTier resolves the concrete model to call for tier, translating
// to a Bedrock inference profile when useBedrock is set.
func ModelForTier(tier models.Tier, useBedrock bool) anthropic.Model {
	model, ok := tierModels[tier]
	if !ok {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if useBedrock {
		if translated, ok := bedrockModels[model]; ok {
			return anthropic.Model(translated)
		}
	}
	return model
}

// TokenTracker accumulates token usage across a Client's calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker { return &TokenTracker{} }

// Add records usage from one API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the cumulative input/output token counts.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns how many API calls have been tracked.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
