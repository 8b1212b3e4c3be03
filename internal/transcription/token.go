package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skypro1111/meeting-scribe/internal/retry"
)

type tokenResponse struct {
	Token string `json:"token"`
}

// FetchToken obtains a single-use realtime token from tokenURL using the
// account API key.
func FetchToken(ctx context.Context, client *http.Client, tokenURL, apiKey string, policy retry.Policy) (string, error) {
	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
		if err != nil {
			return "", retry.Permanent(fmt.Errorf("failed to create token request: %w", err))
		}
		req.Header.Set("xi-api-key", apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("token request failed: %w", err)
		}
		body, err := retry.ReadResponse(resp)
		if err != nil {
			return "", err
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", retry.Permanent(fmt.Errorf("failed to parse token response: %w", err))
		}
		if tr.Token == "" {
			return "", retry.Permanent(fmt.Errorf("token response did not include a token"))
		}
		return tr.Token, nil
	})
}
