package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DiscordTimeout bounds a single webhook request.
const DiscordTimeout = 5 * time.Second

// SendDiscordNotification posts content to a Discord channel via its webhook
// URL. The broadcast server uses it to report fatal startup failures.
//
// Parameters:
//   - ctx: Context for the request; DiscordTimeout is applied on top of it
//   - webhook: The Discord webhook URL to POST to
//   - content: The message content (the "content" field of the JSON body)
//
// Returns:
//   - An error if the request could not be sent or Discord answered with a non-2xx status
func SendDiscordNotification(ctx context.Context, webhook string, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DiscordTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send discord notification: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord webhook returned %s", resp.Status)
	}

	return nil
}
