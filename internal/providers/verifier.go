package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// KeyVerifier checks that a provider API key is accepted, using the
// cheapest authenticated call the provider offers.
type KeyVerifier interface {
	Verify(ctx context.Context) error
}

type KeyVerifierFunc func(ctx context.Context) error

func (f KeyVerifierFunc) Verify(ctx context.Context) error {
	return f(ctx)
}

// BaseURLs overrides provider endpoints. Empty values keep the SDK default.
type BaseURLs struct {
	OpenAI    string
	Gemini    string
	Anthropic string
}

func NewOpenAIVerifier(apiKey, baseURL string) KeyVerifier {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(config)

	return KeyVerifierFunc(func(ctx context.Context) error {
		if _, err := client.ListModels(ctx); err != nil {
			return fmt.Errorf("openai rejected api key: %w", err)
		}
		return nil
	})
}

func NewGeminiVerifier(apiKey, baseURL string) KeyVerifier {
	return KeyVerifierFunc(func(ctx context.Context) error {
		config := &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if baseURL != "" {
			config.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}

		client, err := genai.NewClient(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		if _, err := client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
			return fmt.Errorf("gemini rejected api key: %w", err)
		}
		return nil
	})
}

func NewAnthropicVerifier(apiKey, baseURL string) KeyVerifier {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}

	client := anthropic.NewClient(opts...)

	return KeyVerifierFunc(func(ctx context.Context) error {
		if _, err := client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
			return fmt.Errorf("anthropic rejected api key: %w", err)
		}
		return nil
	})
}

// NewVerifiers builds a verifier for every capability that has a key.
func NewVerifiers(apiKeys map[domain.Capability]string, urls BaseURLs) map[domain.Capability]KeyVerifier {
	verifiers := make(map[domain.Capability]KeyVerifier, len(apiKeys))

	for capability, key := range apiKeys {
		if key == "" {
			continue
		}

		switch capability {
		case domain.CapabilityOpenAI:
			verifiers[capability] = NewOpenAIVerifier(key, urls.OpenAI)
		case domain.CapabilityGemini:
			verifiers[capability] = NewGeminiVerifier(key, urls.Gemini)
		case domain.CapabilityAnthropic:
			verifiers[capability] = NewAnthropicVerifier(key, urls.Anthropic)
		}
	}

	return verifiers
}

// VerifyAll runs every verifier concurrently and returns the failures.
func VerifyAll(ctx context.Context, verifiers map[domain.Capability]KeyVerifier) map[domain.Capability]error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[domain.Capability]error)
	)

	for capability, verifier := range verifiers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := verifier.Verify(ctx); err != nil {
				mu.Lock()
				failures[capability] = err
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return failures
}

// FilterVerifiedKeys drops keys whose provider rejected them, so the issuer
// skips those capabilities instead of creating unusable credentials.
func FilterVerifiedKeys(ctx context.Context, apiKeys map[domain.Capability]string, verifiers map[domain.Capability]KeyVerifier) map[domain.Capability]string {
	failures := VerifyAll(ctx, verifiers)

	filtered := make(map[domain.Capability]string, len(apiKeys))
	for capability, key := range apiKeys {
		if err, failed := failures[capability]; failed {
			log.Error().
				Err(err).
				Str("capability", string(capability)).
				Msg("Provider key verification failed, capability disabled")
			continue
		}
		filtered[capability] = key
	}

	return filtered
}

// SortedCapabilities returns the map keys in a stable order for reporting.
func SortedCapabilities[T any](m map[domain.Capability]T) []domain.Capability {
	out := make([]domain.Capability, 0, len(m))
	for capability := range m {
		out = append(out, capability)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
