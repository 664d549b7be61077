package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"classjudge/internal/cli/command"
	httpclient "classjudge/internal/cli/http"
	"classjudge/internal/cli/state"
)

type scriptedReader struct {
	lines []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

type fakeIssuer struct {
	userID int64
	ttl    time.Duration
}

func (f *fakeIssuer) Issue(userID int64, ttl time.Duration) (string, error) {
	f.userID = userID
	f.ttl = ttl
	return "signed-token-for-test", nil
}

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   string
}

func newSession(t *testing.T, lines []string, opts Options) (*Session, *bytes.Buffer, *[]recordedRequest, *state.TokenState) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.RequestURI(),
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"status":"accepted"}}`))
	}))
	t.Cleanup(server.Close)

	tokenState := &state.TokenState{}
	client := httpclient.New(server.URL, time.Second, func() string { return tokenState.AccessToken })
	out := &bytes.Buffer{}
	statePath := filepath.Join(t.TempDir(), "state.json")
	session := New(client, command.Registry(), tokenState, statePath, &scriptedReader{lines: lines}, out, opts)
	return session, out, &requests, tokenState
}

func TestExecuteRequiresToken(t *testing.T) {
	session, _, requests, _ := newSession(t, nil, Options{})
	err := session.Execute(context.Background(), "submission list")
	if err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected not logged in error, got %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("no request should be sent without a token")
	}
}

func TestTokenIssueThenStatus(t *testing.T) {
	issuer := &fakeIssuer{}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	session, out, requests, tokenState := newSession(t, nil, Options{
		Issuer:   issuer,
		TokenTTL: time.Hour,
		Now:      func() time.Time { return now },
	})

	if err := session.Execute(context.Background(), "token issue user_id=7 ttl=2h"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issuer.userID != 7 || issuer.ttl != 2*time.Hour {
		t.Fatalf("unexpected issue call %+v", issuer)
	}
	if tokenState.UserID != 7 || !tokenState.ExpiresAt.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("unexpected token state %+v", tokenState)
	}
	saved, err := state.Load(session.statePath)
	if err != nil || saved.AccessToken != "signed-token-for-test" {
		t.Fatalf("token state not persisted: %+v %v", saved, err)
	}

	if err := session.Execute(context.Background(), "submission status id=42"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected one request, got %d", len(*requests))
	}
	got := (*requests)[0]
	if got.method != http.MethodGet || got.path != "/api/v1/submissions/42" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Bearer signed-token-for-test" {
		t.Fatalf("unexpected auth header %q", got.auth)
	}
	if !strings.Contains(out.String(), "HTTP 200") {
		t.Fatalf("response not rendered: %s", out.String())
	}
}

func TestTokenIssueWithoutSecret(t *testing.T) {
	session, _, _, _ := newSession(t, nil, Options{})
	if err := session.Execute(context.Background(), "token issue user_id=7"); err == nil {
		t.Fatalf("expected error without issuer")
	}
}

func TestPromptsForMissingFields(t *testing.T) {
	session, _, requests, tokenState := newSession(t, []string{"3", "int main(void) { return 0; }"}, Options{})
	tokenState.AccessToken = "abc"

	if err := session.Execute(context.Background(), "submission create"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected one request, got %d", len(*requests))
	}
	var body struct {
		ActivityID int64  `json:"activity_id"`
		Code       string `json:"code"`
	}
	if err := json.Unmarshal([]byte((*requests)[0].body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ActivityID != 3 || body.Code != "int main(void) { return 0; }" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestQuotedParams(t *testing.T) {
	session, _, requests, tokenState := newSession(t, nil, Options{})
	tokenState.AccessToken = "abc"

	line := `submission create activity_id=3 code="int main(void) { return 1; }"`
	if err := session.Execute(context.Background(), line); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains((*requests)[0].body, `"code":"int main(void) { return 1; }"`) {
		t.Fatalf("quoted code not preserved: %s", (*requests)[0].body)
	}
}

func TestUnknownCommandAndBadParam(t *testing.T) {
	session, _, _, _ := newSession(t, nil, Options{})
	if err := session.Execute(context.Background(), "problem create"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := session.Execute(context.Background(), "submission status 42"); err == nil {
		t.Fatalf("expected invalid param error")
	}
}

func TestRunStopsOnExitAndEOF(t *testing.T) {
	session, out, _, _ := newSession(t, []string{"", "help", "exit", "submission list"}, Options{})
	session.Run(context.Background())
	if !strings.Contains(out.String(), "submission create") {
		t.Fatalf("help should list commands: %s", out.String())
	}
	if !strings.HasSuffix(out.String(), "bye\n") {
		t.Fatalf("expected bye, got %s", out.String())
	}

	session, out, _, _ = newSession(t, nil, Options{})
	session.Run(context.Background())
	if out.String() != "bye\n" {
		t.Fatalf("expected bye on EOF, got %q", out.String())
	}
}

func TestSetAndShow(t *testing.T) {
	session, out, _, tokenState := newSession(t, nil, Options{})
	if err := session.Execute(context.Background(), "set token abcdefghijklmnopqrstuvwxyz"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if tokenState.AccessToken != "abcdefghijklmnopqrstuvwxyz" {
		t.Fatalf("token not set")
	}
	if err := session.Execute(context.Background(), "show token"); err != nil {
		t.Fatalf("show token: %v", err)
	}
	if !strings.Contains(out.String(), "token: abcdef...wxyz") {
		t.Fatalf("token not masked: %s", out.String())
	}
	if err := session.Execute(context.Background(), "set timeout soon"); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}
