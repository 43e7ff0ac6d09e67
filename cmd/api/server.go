package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"juryflow/auth"
	"juryflow/court"
	"juryflow/dispute"
	"juryflow/jury"
)

type ctxKey int

const (
	ctxKeyCaller ctxKey = iota
	ctxKeyRole
)

const maxBodyBytes = 1 << 20

// Server exposes the court over HTTP.
type Server struct {
	court  *court.Court
	auth   *auth.Service
	logger *zap.Logger
}

func NewServer(c *court.Court, authService *auth.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{court: c, auth: authService, logger: logger.With(zap.String("component", "http"))}
}

// Routes builds the router. Reads are public; every mutation needs a bearer
// token, and force close, reselection and token minting need the admin role.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/admin/login", s.handleAdminLogin)

		api.Get("/jury", s.handleJury)
		api.Get("/jury/{address}", s.handleJuror)
		api.Get("/disputes", s.handleListDisputes)
		api.Get("/disputes/{id}", s.handleGetDispute)

		api.Group(func(priv chi.Router) {
			priv.Use(s.authenticate)

			priv.Post("/jury/members", s.handleAddMember)
			priv.Post("/disputes", s.handleCreateDispute)
			priv.Post("/disputes/{id}/approvals", s.handleApprove)
			priv.Post("/disputes/{id}/votes", s.handleVote)

			priv.Group(func(admin chi.Router) {
				admin.Use(requireAdmin)
				admin.Post("/tokens", s.handleIssueToken)
				admin.Post("/jury/reselect", s.handleReselect)
				admin.Post("/disputes/{id}/close", s.handleClose)
			})
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyCaller, id.Subject)
		ctx = context.WithValue(ctx, ctxKeyRole, id.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(ctxKeyRole).(auth.Role); role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFrom(r *http.Request) (string, bool) {
	caller, ok := r.Context().Value(ctxKeyCaller).(string)
	return caller, ok && caller != ""
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.AdminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.auth.AdminLogin(req.Key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req auth.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.auth.IssueToken(req.Address)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type jurorResponse struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

type juryResponse struct {
	MinJurySize         int             `json:"minJurySize"`
	SwapIntervalSeconds int64           `json:"swapIntervalSeconds"`
	Members             []jurorResponse `json:"members"`
	ActiveJury          []uint64        `json:"activeJury"`
	LastSwap            string          `json:"lastSwap"`
	NextSwap            string          `json:"nextSwap"`
}

func toJurorResponse(j jury.Juror) jurorResponse {
	return jurorResponse{ID: j.ID, Address: j.Address, Active: j.Active}
}

func (s *Server) handleJury(w http.ResponseWriter, _ *http.Request) {
	snap := s.court.Snapshot()
	resp := juryResponse{
		MinJurySize:         snap.Config.MinJurySize,
		SwapIntervalSeconds: int64(snap.Config.SwapInterval / time.Second),
		Members:             make([]jurorResponse, 0, len(snap.Members)),
		ActiveJury:          snap.Active,
		LastSwap:            snap.LastSwap.Format(time.RFC3339),
		NextSwap:            snap.NextSwap.Format(time.RFC3339),
	}
	for _, m := range snap.Members {
		resp.Members = append(resp.Members, toJurorResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJuror(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	j, ok := s.court.Juror(address)
	if !ok {
		writeError(w, http.StatusNotFound, "not a jury member")
		return
	}
	writeJSON(w, http.StatusOK, toJurorResponse(j))
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	j, err := s.court.AddMember(r.Context(), caller, req.Address)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJurorResponse(j))
}

func (s *Server) handleReselect(w http.ResponseWriter, r *http.Request) {
	ids, err := s.court.Reselect(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activeJury": ids})
}

type disputeResponse struct {
	ID         uint64          `json:"id"`
	Proposer   string          `json:"proposer"`
	Status     string          `json:"status"`
	Deadline   string          `json:"deadline"`
	CreatedAt  string          `json:"createdAt"`
	Approvals  int             `json:"approvals"`
	Approvers  []string        `json:"approvers"`
	Votes      map[uint64]bool `json:"votes"`
	VotesFor   int             `json:"votesFor"`
	Against    int             `json:"votesAgainst"`
	Verdict    *bool           `json:"verdict,omitempty"`
	Forced     bool            `json:"forced,omitempty"`
	ResolvedAt string          `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:        d.ID,
		Proposer:  d.Proposer,
		Status:    string(d.Status),
		Deadline:  d.Deadline.Format(time.RFC3339),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
		Approvals: d.Approvals,
		Approvers: d.Approvers,
		Votes:     d.Votes,
	}
	if resp.Approvers == nil {
		resp.Approvers = []string{}
	}
	for _, v := range d.Votes {
		if v {
			resp.VotesFor++
		} else {
			resp.Against++
		}
	}
	if d.Status == dispute.StatusResolved {
		verdict := d.Verdict
		resp.Verdict = &verdict
		resp.Forced = d.Forced
		if d.ResolvedAt != nil {
			resp.ResolvedAt = d.ResolvedAt.Format(time.RFC3339)
		}
	}
	return resp
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	status := dispute.Status(r.URL.Query().Get("status"))
	switch status {
	case "", dispute.StatusProposed, dispute.StatusActive, dispute.StatusResolved:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	list := s.court.Disputes(status)
	items := make([]disputeResponse, 0, len(list))
	for _, d := range list {
		items = append(items, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	d, err := s.court.Dispute(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	var req struct {
		Deadline time.Time `json:"deadline"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Deadline.IsZero() {
		writeError(w, http.StatusBadRequest, "deadline is required")
		return
	}
	d, err := s.court.Propose(r.Context(), caller, req.Deadline.UTC())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	caller, _ := callerFrom(r)
	d, err := s.court.Approve(r.Context(), caller, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	var req struct {
		Verdict *bool `json:"verdict"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Verdict == nil {
		writeError(w, http.StatusBadRequest, "verdict is required")
		return
	}
	caller, _ := callerFrom(r)
	d, err := s.court.Vote(r.Context(), caller, id, *req.Verdict)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(w, r)
	if !ok {
		return
	}
	d, err := s.court.ForceClose(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func disputeID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return 0, false
	}
	return id, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispute.ErrInvalidDeadline),
		errors.Is(err, jury.ErrInvalidConfig),
		errors.Is(err, jury.ErrInvalidAddress),
		errors.Is(err, auth.ErrInvalidSubject):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, jury.ErrUnauthorized),
		errors.Is(err, dispute.ErrUnauthorized),
		errors.Is(err, dispute.ErrSelfApproval):
		return http.StatusForbidden
	case errors.Is(err, dispute.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jury.ErrDuplicateMember),
		errors.Is(err, jury.ErrSwapTooEarly),
		errors.Is(err, dispute.ErrAlreadyApproved),
		errors.Is(err, dispute.ErrAlreadyVoted),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
