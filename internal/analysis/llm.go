// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// analysisPromptTmpl asks the model for a ranked JSON array of customers.
var analysisPromptTmpl = template.Must(template.New("analysis").Parse(`You are analyzing raw mentions of possible customers of the company "{{.SubjectName}}".
The data below was collected from several sources and may contain duplicates, partners, competitors, and page furniture.

Identify the unique organizations that are customers of {{.SubjectName}}. Do not include {{.SubjectName}} itself.
For each customer give:
- name: the organization's common name
- url: its official website domain (use your knowledge if the data has none)
- confidence: a float between 0.0 and 1.0 that the organization is a real customer
- reason: one short sentence citing the evidence

Return at most {{.MaxResults}} entries, most confident first, as a JSON array and nothing else.

Example response:
[{"name": "Globex", "url": "globex.com", "confidence": 0.9, "reason": "Named in a case study on the vendor site."}]

Data:
{{.Data}}
`))

type promptData struct {
	SubjectName string
	MaxResults  int
	Data        string
}

func renderPrompt(req Request) (string, error) {
	data, err := json.MarshalIndent(req.Candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling candidates: %w", err)
	}
	var buf bytes.Buffer
	err = analysisPromptTmpl.Execute(&buf, promptData{
		SubjectName: req.SubjectName,
		MaxResults:  req.MaxResults,
		Data:        string(data),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LLMService asks a language model to rank candidates.
type LLMService struct {
	llm   llms.Model
	model string
}

// NewLLMService creates the model client for cfg.Provider.
func NewLLMService(cfg types.AnalysisConfig) (*LLMService, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case types.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case types.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case types.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &LLMService{llm: model, model: cfg.Model}, nil
}

// NewLLMServiceFrom wraps an existing langchaingo model.
func NewLLMServiceFrom(model llms.Model, name string) *LLMService {
	return &LLMService{llm: model, model: name}
}

// Model returns the model name.
func (s *LLMService) Model() string { return s.model }

// Analyze renders the prompt and parses the model's reply.
func (s *LLMService) Analyze(ctx context.Context, req Request) ([]Item, error) {
	prompt, err := renderPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, s.llm, prompt, llms.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generate: %w", ctx.Err())
		}
		return nil, fmt.Errorf("generate: %w", err)
	}
	return ParseResponse(reply)
}
