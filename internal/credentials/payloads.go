package credentials

import (
	"fmt"

	"github.com/inboxpilot/provisioner/internal/domain"
)

const geminiAPIHost = "https://generativelanguage.googleapis.com"

// kind describes how one capability is turned into an engine credential.
type kind struct {
	Type     domain.CredentialType
	BaseName string
}

var kinds = map[domain.Capability]kind{
	domain.CapabilityMailbox:   {Type: domain.CredentialTypeGmailOAuth2, BaseName: "gmail-oauth2"},
	domain.CapabilityOpenAI:    {Type: domain.CredentialTypeOpenAIAPI, BaseName: "openai"},
	domain.CapabilityGemini:    {Type: domain.CredentialTypeGooglePalm, BaseName: "gemini"},
	domain.CapabilityAnthropic: {Type: domain.CredentialTypeAnthropicAPI, BaseName: "anthropic"},
}

// OAuthClient is the mailbox provider client the engine refreshes tokens with.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

func mailboxPayload(client OAuthClient, tokens domain.IntegrationTokens) map[string]any {
	tokenData := map[string]any{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"scope":         tokens.Scope,
		"token_type":    "Bearer",
	}

	if !tokens.Expiry.IsZero() {
		tokenData["expiry_date"] = tokens.Expiry.UnixMilli()
	}

	return map[string]any{
		"clientId":       client.ClientID,
		"clientSecret":   client.ClientSecret,
		"oauthTokenData": tokenData,
	}
}

func apiKeyPayload(capability domain.Capability, apiKey string) (map[string]any, error) {
	switch capability {
	case domain.CapabilityGemini:
		return map[string]any{
			"host":   geminiAPIHost,
			"apiKey": apiKey,
		}, nil
	case domain.CapabilityOpenAI, domain.CapabilityAnthropic:
		return map[string]any{
			"apiKey": apiKey,
		}, nil
	default:
		return nil, fmt.Errorf("capability %s does not take an API key", capability)
	}
}
