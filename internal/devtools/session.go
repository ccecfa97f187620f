package devtools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Attach opens a flattened session on the given target.
func (c *Client) Attach(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	raw, err := c.Send(ctx, "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("devtools: unmarshal attach: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("devtools: attach: %s", resp.Error.Message)
	}
	return resp.Result.SessionID, nil
}

// Detach drops a session without closing the target.
func (c *Client) Detach(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	_, err := c.Send(ctx, "Target.detachFromTarget", params)
	return err
}

// Evaluate runs JS on the session and returns the string result. Promises
// are awaited; strings come back unquoted, everything else as raw JSON.
func (c *Client) Evaluate(ctx context.Context, sessionID, js string) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	raw, err := c.SendSession(ctx, sessionID, "Runtime.evaluate", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("devtools: unmarshal eval: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("devtools: eval exception: %s", resp.ExceptionDetails.Text)
	}

	var s string
	if err := json.Unmarshal(resp.Result.Value, &s); err != nil {
		return string(resp.Result.Value), nil
	}
	return s, nil
}

// EnableRuntime turns on the Runtime domain for a session so bindings and
// console events are delivered.
func (c *Client) EnableRuntime(ctx context.Context, sessionID string) error {
	_, err := c.SendSession(ctx, sessionID, "Runtime.enable", nil)
	return err
}

// AddBinding exposes a named function on the page's global scope. Page
// calls to it surface as Runtime.bindingCalled events on this session.
func (c *Client) AddBinding(ctx context.Context, sessionID, name string) error {
	params := struct {
		Name string `json:"name"`
	}{Name: name}
	_, err := c.SendSession(ctx, sessionID, "Runtime.addBinding", params)
	return err
}

// BindingPayload is the decoded body of one Runtime.bindingCalled event.
type BindingPayload struct {
	Name    string
	Payload string
}

// OnBindingCalled registers a handler for page-side binding calls across
// all sessions. Returns an unregister function.
func (c *Client) OnBindingCalled(fn func(sessionID string, b BindingPayload)) func() {
	return c.OnEvent("Runtime.bindingCalled", func(sessionID string, params json.RawMessage) {
		var evt struct {
			Name    string `json:"name"`
			Payload string `json:"payload"`
		}
		if json.Unmarshal(params, &evt) != nil {
			return
		}
		fn(sessionID, BindingPayload{Name: evt.Name, Payload: evt.Payload})
	})
}

// CaptureScreenshot grabs a viewport screenshot via Page.captureScreenshot
// and returns the decoded image bytes.
func (c *Client) CaptureScreenshot(ctx context.Context, sessionID, format string) ([]byte, error) {
	params := struct {
		Format      string `json:"format"`
		FromSurface bool   `json:"fromSurface"`
	}{Format: format, FromSurface: true}

	raw, err := c.SendSession(ctx, sessionID, "Page.captureScreenshot", params)
	if err != nil {
		return nil, fmt.Errorf("devtools: captureScreenshot: %w", err)
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("devtools: unmarshal screenshot: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("devtools: decode screenshot: %w", err)
	}
	return data, nil
}
