package schemas

import (
	"context"
)

// -- Surface Collaborator Interfaces --

// PageModelProvider extracts a structured model of the interactive surface the
// agent is driving. Implementations must be side-effect free: calling Extract
// twice without an intervening action yields equivalent models.
type PageModelProvider interface {
	// Extract returns the full page model, including the structural snapshot.
	Extract(ctx context.Context) (*PageModel, error)
	// Snapshot returns only the cheap structural fingerprint used for diffing.
	Snapshot(ctx context.Context) (PageStateSnapshot, error)
}

// ActionBackend performs concrete automation primitives (click, type, scroll,
// navigate) against the surface. Expected failure modes such as a missing
// element are reported through ActionResult with Success=false; the error
// return is reserved for conditions where the backend itself is unusable.
type ActionBackend interface {
	Execute(ctx context.Context, action string, params map[string]interface{}) (ActionResult, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Judgments, error analysis, DOM questions.
	TierPowerful ModelTier = "powerful" // Next-action decisions.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
	MaxOutputTokens int     `json:"max_output_tokens"` // Zero means the model default.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections, SDK resources).
	Close() error
}
