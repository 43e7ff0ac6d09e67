package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"juryflow/auth"
	"juryflow/court"
	"juryflow/journal"
	"juryflow/jury"
)

const testSecret = "test-secret-test-secret-test-secret"

type testEnv struct {
	handler http.Handler
	court   *court.Court
	auth    *auth.Service
	active  []string
	idle    []string
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }

	members := make([]string, 6)
	for i := range members {
		members[i] = fmt.Sprintf("0x%040d", i+1)
	}
	c, err := court.New(context.Background(), jury.Config{MinJurySize: 3, SwapInterval: 24 * time.Hour}, members, journal.NewMemory(),
		court.WithClock(clock),
		court.WithEntropy(jury.FixedEntropy([]byte("api-test"))),
	)
	if err != nil {
		t.Fatalf("new court: %v", err)
	}

	hash, err := auth.HashAdminKey("operator-key-123")
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}
	authService := auth.NewService(testSecret, "juryflow", time.Hour, auth.WithClock(clock), auth.WithAdminKeyHash(hash))

	env := &testEnv{
		handler: NewServer(c, authService, nil).Routes(),
		court:   c,
		auth:    authService,
		now:     now,
	}
	for _, m := range c.Snapshot().Members {
		if m.Active {
			env.active = append(env.active, m.Address)
		} else {
			env.idle = append(env.idle, m.Address)
		}
	}
	return env
}

func (e *testEnv) token(t *testing.T, address string) string {
	t.Helper()
	resp, err := e.auth.IssueToken(address)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return resp.Token
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	resp, err := e.auth.AdminLogin("operator-key-123")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	return resp.Token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDisputeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	deadline := env.now.Add(time.Hour).Format(time.RFC3339)

	rec := env.do(t, http.MethodPost, "/api/disputes", env.token(t, env.idle[0]), `{"deadline":"`+deadline+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	created := decode[disputeResponse](t, rec)
	if created.ID != 0 || created.Status != "proposed" || created.Proposer != env.idle[0] {
		t.Fatalf("unexpected dispute: %+v", created)
	}

	rec = env.do(t, http.MethodPost, "/api/disputes/0/approvals", env.token(t, env.active[0]), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := decode[disputeResponse](t, rec); got.Status != "active" || got.Approvals != 1 {
		t.Fatalf("expected active dispute with one approval, got %+v", got)
	}

	for i, verdict := range []string{"true", "true", "false"} {
		rec = env.do(t, http.MethodPost, "/api/disputes/0/votes", env.token(t, env.active[i]), `{"verdict":`+verdict+`}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("vote %d: expected 200, got %d: %s", i, rec.Code, rec.Body)
		}
	}

	rec = env.do(t, http.MethodPost, "/api/disputes/0/close", env.adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	closed := decode[disputeResponse](t, rec)
	if closed.Status != "resolved" || closed.Verdict == nil || !*closed.Verdict || !closed.Forced {
		t.Fatalf("expected forced true verdict, got %+v", closed)
	}
	if closed.VotesFor != 2 || closed.Against != 1 {
		t.Fatalf("expected 2/1 tally, got %d/%d", closed.VotesFor, closed.Against)
	}

	rec = env.do(t, http.MethodGet, "/api/disputes?status=resolved", "", "")
	list := decode[struct {
		Items []disputeResponse `json:"items"`
		Total int               `json:"total"`
	}](t, rec)
	if list.Total != 1 || list.Items[0].ID != 0 {
		t.Fatalf("unexpected list payload: %+v", list)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	deadline := env.now.Add(time.Hour).Format(time.RFC3339)
	past := env.now.Add(-time.Hour).Format(time.RFC3339)
	proposer := env.token(t, env.idle[0])

	if rec := env.do(t, http.MethodPost, "/api/disputes", proposer, `{"deadline":"`+deadline+`"}`); rec.Code != http.StatusCreated {
		t.Fatalf("setup: expected 201, got %d", rec.Code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", http.MethodPost, "/api/disputes", "", `{"deadline":"` + deadline + `"}`, http.StatusUnauthorized},
		{"bad token", http.MethodPost, "/api/disputes", "garbage", `{"deadline":"` + deadline + `"}`, http.StatusUnauthorized},
		{"past deadline", http.MethodPost, "/api/disputes", proposer, `{"deadline":"` + past + `"}`, http.StatusBadRequest},
		{"missing deadline", http.MethodPost, "/api/disputes", proposer, `{}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/disputes", proposer, `{"deadline":"` + deadline + `","x":1}`, http.StatusBadRequest},
		{"juror proposes", http.MethodPost, "/api/disputes", env.token(t, env.active[0]), `{"deadline":"` + deadline + `"}`, http.StatusForbidden},
		{"self approval", http.MethodPost, "/api/disputes/0/approvals", proposer, "", http.StatusForbidden},
		{"outsider approves", http.MethodPost, "/api/disputes/0/approvals", env.token(t, env.idle[1]), "", http.StatusForbidden},
		{"unknown dispute", http.MethodPost, "/api/disputes/9/approvals", env.token(t, env.active[0]), "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/disputes/abc", "", "", http.StatusBadRequest},
		{"missing verdict", http.MethodPost, "/api/disputes/0/votes", env.token(t, env.active[0]), `{}`, http.StatusBadRequest},
		{"vote before approval", http.MethodPost, "/api/disputes/0/votes", env.token(t, env.active[0]), `{"verdict":true}`, http.StatusConflict},
		{"close as participant", http.MethodPost, "/api/disputes/0/close", env.token(t, env.active[0]), "", http.StatusForbidden},
		{"reselect too early", http.MethodPost, "/api/jury/reselect", env.adminToken(t), "", http.StatusConflict},
		{"duplicate member", http.MethodPost, "/api/jury/members", env.token(t, env.active[0]), `{"address":"` + env.idle[0] + `"}`, http.StatusConflict},
		{"idle adds member", http.MethodPost, "/api/jury/members", env.token(t, env.idle[0]), `{"address":"0xnew"}`, http.StatusForbidden},
		{"bad status filter", http.MethodGet, "/api/disputes?status=open", "", "", http.StatusBadRequest},
		{"unknown juror", http.MethodGet, "/api/jury/0xnobody", "", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestDoubleVoteConflicts(t *testing.T) {
	env := newTestEnv(t)
	deadline := env.now.Add(time.Hour).Format(time.RFC3339)
	env.do(t, http.MethodPost, "/api/disputes", env.token(t, env.idle[0]), `{"deadline":"`+deadline+`"}`)

	voter := env.token(t, env.active[1])
	if rec := env.do(t, http.MethodPost, "/api/disputes/0/votes", voter, `{"verdict":true}`); rec.Code != http.StatusConflict {
		t.Fatalf("vote on proposed dispute: expected 409, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/disputes/0/approvals", env.token(t, env.active[0]), ""); rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/disputes/0/votes", voter, `{"verdict":true}`); rec.Code != http.StatusOK {
		t.Fatalf("first vote: expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/disputes/0/votes", voter, `{"verdict":false}`); rec.Code != http.StatusConflict {
		t.Fatalf("second vote: expected 409, got %d", rec.Code)
	}
}

func TestJuryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jury", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	pool := decode[juryResponse](t, rec)
	if pool.MinJurySize != 3 || len(pool.Members) != 6 || len(pool.ActiveJury) != 3 {
		t.Fatalf("unexpected jury payload: %+v", pool)
	}
	if pool.SwapIntervalSeconds != 86400 {
		t.Fatalf("expected 86400s swap interval, got %d", pool.SwapIntervalSeconds)
	}

	rec = env.do(t, http.MethodPost, "/api/jury/members", env.token(t, env.active[0]), `{"address":"0xnewcomer"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	added := decode[jurorResponse](t, rec)
	if added.ID != 7 || added.Active {
		t.Fatalf("unexpected juror: %+v", added)
	}

	rec = env.do(t, http.MethodGet, "/api/jury/0xnewcomer", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get juror: expected 200, got %d", rec.Code)
	}
}

func TestTokenEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/login", "", `{"key":"wrong-key-wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/admin/login", "", `{"key":"operator-key-123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	admin := decode[auth.TokenResponse](t, rec)
	if admin.Role != auth.RoleAdmin {
		t.Fatalf("expected admin role, got %s", admin.Role)
	}

	if rec := env.do(t, http.MethodPost, "/api/tokens", env.token(t, env.idle[0]), `{"address":"0xabc"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("participant mint: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/tokens", admin.Token, `{"address":"0xabc"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	minted := decode[auth.TokenResponse](t, rec)
	id, err := env.auth.VerifyToken(minted.Token)
	if err != nil || id.Subject != "0xabc" || id.Role != auth.RoleParticipant {
		t.Fatalf("unexpected minted identity %+v (err %v)", id, err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
