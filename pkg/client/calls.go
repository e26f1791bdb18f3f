package client

import (
	"context"

	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// ImageCall adapts GenerateImage for credential.Call.
func (c *Client) ImageCall(req studio.Request) credential.CallFunc[Image] {
	return func(ctx context.Context, secret string) (Image, error) {
		return c.GenerateImage(ctx, secret, req)
	}
}

// RegenerateCall adapts Regenerate for credential.Call.
func (c *Client) RegenerateCall(prompt string, refs []studio.Reference) credential.CallFunc[Image] {
	return func(ctx context.Context, secret string) (Image, error) {
		return c.Regenerate(ctx, secret, prompt, refs)
	}
}

// TextCall adapts GenerateText for credential.Call.
func (c *Client) TextCall(prompt string) credential.CallFunc[string] {
	return func(ctx context.Context, secret string) (string, error) {
		return c.GenerateText(ctx, secret, prompt)
	}
}

// Check returns Validate as a credential.Check.
func (c *Client) Check() credential.Check {
	return c.Validate
}
