// Package web exposes the calendar over a JSON HTTP API for the
// frontend to consume. All state lives in the synchronizer; handlers
// translate requests, apply the 15-item grid display cap, and render
// snapshots.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/auth"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/calendar"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
	"github.com/irislikesuall/Luna-Calendar-Todo/internal/sync"
)

// cellTaskCap is how many tasks a month grid cell shows. Purely a
// display truncation: the stores and the day panel are unbounded.
const cellTaskCap = 15

// anchorLayout is the YYYY-MM form of the month query parameter.
const anchorLayout = "2006-01"

// Server provides the HTTP JSON API over a synchronizer.
type Server struct {
	sync   *sync.Synchronizer
	authc  *auth.Client
	loc    *time.Location
	logger *log.Logger
	mux    *http.ServeMux
	now    func() time.Time
}

// NewServer constructs a Server. authc may be nil when cloud sync is
// not configured; the auth endpoints then report it unavailable.
func NewServer(s *sync.Synchronizer, authc *auth.Client, loc *time.Location, logger *log.Logger) *Server {
	if loc == nil {
		loc = time.Local
	}
	srv := &Server{
		sync:   s,
		authc:  authc,
		loc:    loc,
		logger: logger,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/days/{key}", s.handleDay)
	s.mux.HandleFunc("POST /api/tasks", s.handleAddTask)
	s.mux.HandleFunc("POST /api/tasks/batch", s.handleAddTaskBatch)
	s.mux.HandleFunc("POST /api/days/{key}/tasks/{id}/toggle", s.handleToggleTask)
	s.mux.HandleFunc("DELETE /api/days/{key}/tasks/{id}", s.handleDeleteTask)

	s.mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	s.mux.HandleFunc("GET /api/auth/callback", s.handleAuthCallback)
	s.mux.HandleFunc("GET /api/auth/session", s.handleSession)
	s.mux.HandleFunc("POST /api/auth/signout", s.handleSignOut)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// cellResponse is one day cell of the month grid.
type cellResponse struct {
	Date         string       `json:"date"`
	Day          int          `json:"day"`
	InMonth      bool         `json:"in_month"`
	Today        bool         `json:"today"`
	Tasks        []model.Task `json:"tasks"`
	TotalCount   int          `json:"total_count"`
	LimitReached bool         `json:"limit_reached"`
}

type monthResponse struct {
	Anchor    string           `json:"anchor"`
	Weeks     [][]cellResponse `json:"weeks"`
	MonthKeys []string         `json:"month_keys"`
}

// handleMonth re-derives the snapshot for the requested month and
// renders the week rows. Cells outside the anchor month are flagged
// rather than omitted; each cell carries at most 15 tasks.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.parseAnchor(r.URL.Query().Get("anchor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sync.ReloadMonth(r.Context(), anchor); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("loading month: %w", err))
		return
	}

	snapshot := s.sync.Snapshot()
	today := s.now().In(s.loc)

	weeks := calendar.BuildWeeks(anchor)
	rows := make([][]cellResponse, 0, len(weeks))
	for _, week := range weeks {
		row := make([]cellResponse, 0, len(week))
		for _, d := range week {
			key := calendar.DayKey(d)
			tasks := snapshot[key]

			shown := tasks
			if len(shown) > cellTaskCap {
				shown = shown[:cellTaskCap]
			}
			if shown == nil {
				shown = []model.Task{}
			}

			row = append(row, cellResponse{
				Date:         key,
				Day:          d.Day(),
				InMonth:      calendar.InMonth(d, anchor),
				Today:        calendar.SameDay(d, today),
				Tasks:        shown,
				TotalCount:   len(tasks),
				LimitReached: len(tasks) >= cellTaskCap,
			})
		}
		rows = append(rows, row)
	}

	writeJSON(w, http.StatusOK, monthResponse{
		Anchor:    anchor.Format(anchorLayout),
		Weeks:     rows,
		MonthKeys: calendar.MonthKeys(anchor),
	})
}

type dayResponse struct {
	Date      string       `json:"date"`
	Tasks     []model.Task `json:"tasks"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
}

// handleDay returns the full task list for one day: the bottom panel is
// never truncated.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, err := calendar.ParseDayKey(key, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tasks := s.sync.Snapshot()[key]
	if tasks == nil {
		tasks = []model.Task{}
	}
	completed := 0
	for _, t := range tasks {
		if t.Done {
			completed++
		}
	}

	writeJSON(w, http.StatusOK, dayResponse{
		Date:      key,
		Tasks:     tasks,
		Total:     len(tasks),
		Completed: completed,
	})
}

type addTaskRequest struct {
	Day  string `json:"day"`
	Text string `json:"text"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if _, err := calendar.ParseDayKey(req.Day, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sync.AddTask(r.Context(), req.Day, req.Text); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("adding task: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addTaskBatchRequest struct {
	Days []string `json:"days"`
	Text string   `json:"text"`
}

func (s *Server) handleAddTaskBatch(w http.ResponseWriter, r *http.Request) {
	var req addTaskBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	for _, key := range req.Days {
		if _, err := calendar.ParseDayKey(key, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.sync.AddTaskToDates(r.Context(), req.Days, req.Text); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("adding tasks: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	id := r.PathValue("id")
	if _, err := calendar.ParseDayKey(key, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sync.ToggleTask(r.Context(), key, id); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("toggling task: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	id := r.PathValue("id")
	if _, err := calendar.ParseDayKey(key, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sync.DeleteTask(r.Context(), key, id); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("deleting task: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signInRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.authc == nil {
		writeError(w, http.StatusNotImplemented, errors.New("cloud sync is not configured"))
		return
	}

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	if err := s.authc.SignInWithEmail(r.Context(), req.Email); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("requesting magic link: %w", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "magic link sent"})
}

// handleAuthCallback completes sign-in with the token from the emailed
// magic link. The synchronizer reacts through its auth-change callback.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.authc == nil {
		writeError(w, http.StatusNotImplemented, errors.New("cloud sync is not configured"))
		return
	}

	token := r.URL.Query().Get("token")
	user, err := s.authc.VerifyToken(r.Context(), token)
	if err != nil {
		status := http.StatusBadGateway
		if auth.IsAuthError(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	user := s.sync.User()
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          user,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.SignOut(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("signing out: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// parseAnchor turns a YYYY-MM query value into a first-of-month anchor
// in the server's display zone. Empty means the current month.
func (s *Server) parseAnchor(value string) (time.Time, error) {
	if value == "" {
		now := s.now().In(s.loc)
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc), nil
	}
	t, err := time.ParseInLocation(anchorLayout, value, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing month anchor %q: %w", value, err)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
