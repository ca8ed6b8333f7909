package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kindred/internal/match"
	"github.com/kalambet/kindred/internal/profile"
	"github.com/kalambet/kindred/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Matcher  Matcher
	Profiles ProfileReader
}

// NewMCPServer creates an MCP server with the kindred tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kindred",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kindred suggests compatible friends from questionnaire answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_profile",
			mcp.WithDescription("Record questionnaire answers for a person and return the most compatible existing profiles."),
			mcp.WithString("id", mcp.Description("Stable identifier for the person"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Display name")),
			mcp.WithString("age", mcp.Description("Age as given")),
			mcp.WithString("location", mcp.Description("City or region")),
			mcp.WithString("social_energy", mcp.Description("introvert, ambivert or extrovert")),
			mcp.WithString("hobbies", mcp.Description("Free-text hobbies")),
			mcp.WithString("conversation_preference", mcp.Description("one_on_one or group")),
			mcp.WithString("communication_frequency", mcp.Description("How often they like to check in")),
			mcp.WithArray("love_languages", mcp.Description("Friendship love languages, e.g. quality_time")),
			mcp.WithString("personality_season", mcp.Description("Season that matches their personality")),
			mcp.WithString("trait", mcp.Description("A habit they are proud of")),
			mcp.WithString("recharge_style", mcp.Description("How they recharge")),
			mcp.WithString("cancellation_reaction", mcp.Description("How they feel when plans are cancelled")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of matches (default from config)")),
		),
		mcpSubmitProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("find_matches",
			mcp.WithDescription("Return compatible profiles for an id that was already submitted."),
			mcp.WithString("id", mcp.Description("Profile id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of matches (default from config)")),
		),
		mcpFindMatches(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the recorded questionnaire answers for an id."),
			mcp.WithString("id", mcp.Description("Profile id"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kindred://stats",
			"Index Stats",
			mcp.WithResourceDescription("Index size, vector dimension and match settings"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kindred://profiles/recent",
			"Recent Profiles",
			mcp.WithResourceDescription("Last 10 recorded profiles (id, name, location)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func profileFromRequest(req mcp.CallToolRequest) (profile.Profile, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return profile.Profile{}, err
	}
	p := profile.Profile{
		ID:                     id,
		Name:                   req.GetString("name", ""),
		Age:                    req.GetString("age", ""),
		Location:               req.GetString("location", ""),
		SocialEnergy:           profile.SocialEnergy(req.GetString("social_energy", "")),
		Hobbies:                req.GetString("hobbies", ""),
		ConversationPreference: profile.ConversationPreference(req.GetString("conversation_preference", "")),
		CommunicationFrequency: req.GetString("communication_frequency", ""),
		PersonalitySeason:      req.GetString("personality_season", ""),
		Trait:                  req.GetString("trait", ""),
		RechargeStyle:          req.GetString("recharge_style", ""),
		CancellationReaction:   req.GetString("cancellation_reaction", ""),
	}
	for _, l := range req.GetStringSlice("love_languages", nil) {
		p.LoveLanguages = append(p.LoveLanguages, profile.LoveLanguage(l))
	}
	return p, nil
}

func mcpSubmitProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := profileFromRequest(req)
		if err != nil {
			return mcpError("id is required"), nil
		}

		matches, err := deps.Matcher.SubmitAndMatch(ctx, p, clampLimit(req.GetInt("limit", 0)))
		if err != nil {
			return mcpMatchError(err), nil
		}
		return mcpJSON(MatchResponse{ProfileID: p.ID, Matches: matches})
	}
}

func mcpFindMatches(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		matches, err := deps.Matcher.MatchesFor(ctx, id, clampLimit(req.GetInt("limit", 0)))
		if err != nil {
			return mcpMatchError(err), nil
		}
		return mcpJSON(MatchResponse{ProfileID: id, Matches: matches})
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		p, err := deps.Profiles.GetProfile(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("profile %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		return mcpJSON(p)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Matcher.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read index stats: %w", err)
		}
		return jsonResource(req.Params.URI, stats)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		profiles, err := deps.Profiles.ListProfiles(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}

		type profileSummary struct {
			ID       string `json:"id"`
			Name     string `json:"name,omitempty"`
			Location string `json:"location,omitempty"`
		}

		summaries := make([]profileSummary, len(profiles))
		for i, p := range profiles {
			summaries[i] = profileSummary{ID: p.ID, Name: p.Name, Location: p.Location}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func clampLimit(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxMatches {
		return maxMatches
	}
	return n
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpMatchError tells the calling agent whether trying again makes sense.
func mcpMatchError(err error) *mcp.CallToolResult {
	hint := "not retryable"
	if match.Retryable(err) {
		hint = "retryable"
	}
	return mcpError(fmt.Sprintf("%v (%s)", err, hint))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
