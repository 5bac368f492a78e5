package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/royale/internal/achievements"
	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/recalc"
	"github.com/joescharf/royale/internal/scoring"
	"github.com/joescharf/royale/internal/store"
	"github.com/joescharf/royale/internal/syncer"
)

// Syncer syncs one repository.
type Syncer interface {
	Sync(ctx context.Context, owner, name string, maxAgeDays int, force bool) (*syncer.Progress, error)
}

// Recalculator rebuilds all scores.
type Recalculator interface {
	Run(ctx context.Context) (*recalc.Stats, error)
}

// Server provides the REST API handlers.
type Server struct {
	store        store.Store
	syncer       Syncer
	recalc       Recalculator
	achievements *achievements.Checker
	maxAgeDays   int
	log          logrus.FieldLogger
	now          func() time.Time
}

// NewServer creates a new API server. maxAgeDays is the lookback used by sync requests
// that do not pass max_age_days; 0 syncs without an age bound.
func NewServer(s store.Store, sy Syncer, rc Recalculator, maxAgeDays int, log logrus.FieldLogger) *Server {
	return &Server{
		store:        s,
		syncer:       sy,
		recalc:       rc,
		achievements: achievements.NewChecker(s),
		maxAgeDays:   maxAgeDays,
		log:          log,
		now:          time.Now,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /api/v1/leaderboard", s.leaderboard)
	mux.HandleFunc("GET /api/v1/users/{login}", s.userStats)

	mux.HandleFunc("GET /api/v1/repos", s.listRepos)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{name}/sync", s.syncRepo)

	mux.HandleFunc("POST /api/v1/recalculate", s.recalculate)

	return corsMiddleware(loggingMiddleware(s.log, mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := log.WithFields(logrus.Fields{
			"method":  r.Method,
			"uri":     r.URL.Path,
			"status":  rec.status,
			"latency": time.Since(start),
		})
		switch {
		case rec.status >= 500:
			entry.Error("server error")
		case rec.status >= 400:
			entry.Warn("client error")
		default:
			entry.Debug("request processed")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store.ErrNotFound to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// intParam reads an integer query parameter of at least lo, falling back to def.
func intParam(r *http.Request, key string, def, lo int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		return 0, fmt.Errorf("%s must be an integer >= %d", key, lo)
	}
	return n, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ok",
		"formula_version": scoring.FormulaVersion,
	})
}

// --- Leaderboard and users ---

// Leaderboard periods.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

// ErrInvalidQuery marks a malformed leaderboard period or repo.
var ErrInvalidQuery = errors.New("invalid query")

// PeriodSince returns the start of a leaderboard window ending at now.
// "all" and the empty period return the zero time.
func PeriodSince(period string, now time.Time) (time.Time, error) {
	switch strings.ToLower(period) {
	case "", PeriodAll:
		return time.Time{}, nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return now.AddDate(0, 0, -30), nil
	}
	return time.Time{}, fmt.Errorf("%w: period must be week, month or all, got %q", ErrInvalidQuery, period)
}

// LeaderboardQuery selects a leaderboard window.
type LeaderboardQuery struct {
	Period string // week, month or all
	Repo   string // owner/name; empty ranks across every repository
	Limit  int
}

// LeaderboardEntry is one ranked reviewer. Score is the XP earned inside the
// requested window; XP and Level are all-time.
type LeaderboardEntry struct {
	Rank            int    `json:"rank"`
	Login           string `json:"login"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	Score           int64  `json:"score"`
	ReviewsGiven    int    `json:"reviews_given"`
	CommentsWritten int    `json:"comments_written"`
	FirstReviews    int    `json:"first_reviews"`
	XP              int64  `json:"xp"`
	Level           int    `json:"level"`
	ReviewSessions  int    `json:"review_sessions"`
}

// Leaderboard builds ranked entries from rows already ordered by score.
func Leaderboard(rows []*models.LeaderboardRow) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		u := row.User
		out = append(out, LeaderboardEntry{
			Rank:            i + 1,
			Login:           u.Login,
			AvatarURL:       u.AvatarURL,
			Score:           row.Score,
			ReviewsGiven:    row.ReviewsGiven,
			CommentsWritten: row.CommentsWritten,
			FirstReviews:    row.FirstReviews,
			XP:              u.XP,
			Level:           u.Level,
			ReviewSessions:  u.ReviewSessions,
		})
	}
	return out
}

// LoadLeaderboard resolves q against the store and ranks the result.
// An unknown repo yields a wrapped store.ErrNotFound.
func LoadLeaderboard(ctx context.Context, s store.Store, q LeaderboardQuery, now time.Time) ([]LeaderboardEntry, error) {
	since, err := PeriodSince(q.Period, now)
	if err != nil {
		return nil, err
	}
	f := store.LeaderboardFilter{Since: since, Limit: q.Limit}
	if q.Repo != "" {
		owner, name, ok := strings.Cut(q.Repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("%w: repo must be owner/name, got %q", ErrInvalidQuery, q.Repo)
		}
		repo, err := s.GetRepositoryByName(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		f.RepoID = repo.ID
	}
	rows, err := s.ListLeaderboard(ctx, f)
	if err != nil {
		return nil, err
	}
	return Leaderboard(rows), nil
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10, 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := LeaderboardQuery{
		Period: r.URL.Query().Get("period"),
		Repo:   r.URL.Query().Get("repo"),
		Limit:  limit,
	}
	entries, err := LoadLeaderboard(r.Context(), s.store, q, s.now())
	if errors.Is(err, ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// UserStats is a user's profile with achievement progress.
type UserStats struct {
	*models.User
	Achievements []achievements.Status `json:"achievements"`
}

// LoadUserStats looks up a user by login and gathers achievement progress.
func LoadUserStats(ctx context.Context, s store.Store, checker *achievements.Checker, login string) (*UserStats, error) {
	u, err := s.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.ListAchievements(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	statuses, err := checker.Statuses(ctx, u.ID, unlocked)
	if err != nil {
		return nil, err
	}
	return &UserStats{User: u, Achievements: statuses}, nil
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	stats, err := LoadUserStats(r.Context(), s.store, s.achievements, r.PathValue("login"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Repositories ---

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) syncRepo(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("name")
	maxAge, err := intParam(r, "max_age_days", s.maxAgeDays, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	force := r.URL.Query().Get("force") == "true"

	progress, err := s.syncer.Sync(r.Context(), owner, name, maxAge, force)
	if rl, ok := gh.AsRateLimit(err); ok {
		secs := int(rl.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       rl.Error(),
			"retry_after": secs,
			"progress":    progress,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// --- Recalculation ---

func (s *Server) recalculate(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recalc.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
