package tools

import (
	"context"
	"encoding/json"
)

// CreatorTool answers questions about who built the assistant. Its content is
// static so the model never has to improvise biographical facts.
type CreatorTool struct{}

func NewCreatorTool() *CreatorTool { return &CreatorTool{} }

func (c *CreatorTool) Name() string { return "creator_info" }

func (c *CreatorTool) Description() string {
	return "Get information about Mohtasham Murshid Madani, the creator of this assistant. Use when asked who made or built the assistant."
}

func (c *CreatorTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (c *CreatorTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	const profile = "I was created by Mohtasham Murshid Madani, a computer science student and software engineer " +
		"who builds AI-powered applications. Mohtasham designed me as a voice-enabled assistant inspired by JARVIS, " +
		"wiring together language models, web search, weather data, and speech synthesis. " +
		"You can find more of Mohtasham's work at mohtasham.dev and on GitHub as mohtashammurshid."
	return TextResult(profile), nil
}
