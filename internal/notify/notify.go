package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CaptureSaved sends a short notification that a capture record was
// persisted. Failures are the caller's to log; a dead webhook must never
// fail a capture.
func CaptureSaved(ctx context.Context, client *http.Client, endpoint, label, recordID string) error {
	return Send(ctx, client, endpoint, fmt.Sprintf("captured %s (record %s)", label, recordID))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
