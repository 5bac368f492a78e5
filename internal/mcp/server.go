package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/royale/internal/achievements"
	"github.com/joescharf/royale/internal/api"
	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/store"
)

// Server wraps the royale data layer and exposes it as MCP tools.
type Server struct {
	store        store.Store
	syncer       api.Syncer
	recalc       api.Recalculator
	achievements *achievements.Checker
	maxAgeDays   int
	version      string
	now          func() time.Time
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, sy api.Syncer, rc api.Recalculator, maxAgeDays int, version string) *Server {
	return &Server{
		store:        s,
		syncer:       sy,
		recalc:       rc,
		achievements: achievements.NewChecker(s),
		maxAgeDays:   maxAgeDays,
		version:      version,
		now:          time.Now,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("royale", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.leaderboardTool())
	srv.AddTool(s.userStatsTool())
	srv.AddTool(s.listReposTool())
	srv.AddTool(s.syncRepoTool())
	srv.AddTool(s.recalculateTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// royale_leaderboard
func (s *Server) leaderboardTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("royale_leaderboard",
		mcp.WithDescription("Rank reviewers by the XP their reviews earned in a period. Returns a JSON array with rank, login, score, reviews_given, comments_written, first_reviews and all-time xp and level. Bot accounts are excluded."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 10)")),
		mcp.WithString("period", mcp.Description("week, month or all (default all)")),
		mcp.WithString("repo", mcp.Description("Only count reviews on this repository, as owner/name")),
	)
	return tool, s.handleLeaderboard
}

func (s *Server) handleLeaderboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	q := api.LeaderboardQuery{
		Period: request.GetString("period", ""),
		Repo:   request.GetString("repo", ""),
		Limit:  limit,
	}
	entries, err := api.LoadLeaderboard(ctx, s.store, q, s.now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load leaderboard: %v", err)), nil
	}
	return jsonResult(entries)
}

// royale_user_stats
func (s *Server) userStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("royale_user_stats",
		mcp.WithDescription("Get a user's XP, level, session count and progress toward every achievement."),
		mcp.WithString("login", mcp.Required(), mcp.Description("GitHub login")),
	)
	return tool, s.handleUserStats
}

func (s *Server) handleUserStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	login, err := request.RequireString("login")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: login"), nil
	}
	stats, err := api.LoadUserStats(ctx, s.store, s.achievements, strings.TrimPrefix(login, "@"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load user %s: %v", login, err)), nil
	}
	return jsonResult(stats)
}

// royale_list_repos
func (s *Server) listReposTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("royale_list_repos",
		mcp.WithDescription("List tracked repositories with their last sync time."),
	)
	return tool, s.handleListRepos
}

func (s *Server) handleListRepos(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}

	type repoOut struct {
		Repo         string `json:"repo"`
		LastSyncedAt string `json:"last_synced_at,omitempty"`
	}
	out := make([]repoOut, len(repos))
	for i, r := range repos {
		out[i] = repoOut{Repo: r.FullName()}
		if r.LastSyncedAt != nil {
			out[i].LastSyncedAt = r.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	return jsonResult(out)
}

// royale_sync_repo
func (s *Server) syncRepoTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("royale_sync_repo",
		mcp.WithDescription("Fetch pull requests, reviews and commits for a repository from GitHub and award XP."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		mcp.WithNumber("max_age_days", mcp.Description("Ignore pull requests not updated within this many days; 0 disables the bound")),
		mcp.WithBoolean("force", mcp.Description("Ignore the last-sync cursor")),
	)
	return tool, s.handleSyncRepo
}

func (s *Server) handleSyncRepo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return mcp.NewToolResultError(fmt.Sprintf("repo must be owner/name, got %q", repo)), nil
	}

	maxAge := request.GetInt("max_age_days", s.maxAgeDays)
	if maxAge < 0 {
		return mcp.NewToolResultError("max_age_days must not be negative"), nil
	}
	force := request.GetBool("force", false)

	progress, err := s.syncer.Sync(ctx, owner, name, maxAge, force)
	if rl, ok := gh.AsRateLimit(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("rate limited by GitHub, retry in %s", rl.RetryAfter)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to sync %s: %v", repo, err)), nil
	}
	return jsonResult(progress)
}

// royale_recalculate
func (s *Server) recalculateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("royale_recalculate",
		mcp.WithDescription("Reset every user's XP and rescore all stored reviews with the current formula."),
	)
	return tool, s.handleRecalculate
}

func (s *Server) handleRecalculate(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.recalc.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to recalculate: %v", err)), nil
	}
	return jsonResult(stats)
}
