package judge0

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"classjudge/internal/grading/model"
	appErr "classjudge/pkg/errors"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, AuthToken: "secret"}, server.Client())
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func sampleProblem() *model.Problem {
	return &model.Problem{
		ID:            9,
		TimeLimitMS:   1500,
		MemoryLimitKB: 128000,
		TestCases: []model.TestCase{
			{ID: 11, Input: "1 2", ExpectedOutput: "3"},
			{ID: 12, Input: "2 2", ExpectedOutput: "4"},
			{ID: 13, Input: "5 5", ExpectedOutput: "10"},
		},
	}
}

func TestSubmitBatchPairsTokensWithTestCases(t *testing.T) {
	var got batchRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions/batch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Auth-Token") != "secret" {
			t.Errorf("missing auth token header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		_, _ = w.Write([]byte(`[{"token":"A"},{"token":"B"},{"token":"C"}]`))
	})

	sub := &model.Submission{ID: 1, SourceCode: "int main(){}"}
	assignments, err := client.SubmitBatch(context.Background(), sub, sampleProblem())
	if err != nil {
		t.Fatalf("submit batch failed: %v", err)
	}
	want := []Assignment{{"A", 11}, {"B", 12}, {"C", 13}}
	if len(assignments) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(assignments))
	}
	for i := range want {
		if assignments[i] != want[i] {
			t.Fatalf("assignment %d: expected %+v, got %+v", i, want[i], assignments[i])
		}
	}

	if len(got.Submissions) != 3 {
		t.Fatalf("expected 3 runs in batch, got %d", len(got.Submissions))
	}
	first := got.Submissions[0]
	if first.LanguageID != model.LanguageC || first.CPUTimeLimit != 1.5 || first.MemoryLimit != 128000 {
		t.Fatalf("unexpected run limits: %+v", first)
	}
	if first.Stdin != "1 2" || first.ExpectedOutput != "3" || first.SourceCode != "int main(){}" {
		t.Fatalf("unexpected run payload: %+v", first)
	}
}

func TestSubmitBatchFailsOnServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	})
	_, err := client.SubmitBatch(context.Background(), &model.Submission{}, sampleProblem())
	if !appErr.Is(err, appErr.JudgeUnavailable) {
		t.Fatalf("expected JudgeUnavailable, got %v", err)
	}
}

func TestSubmitBatchRejectsShortTokenList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"token":"A"}]`))
	})
	_, err := client.SubmitBatch(context.Background(), &model.Submission{}, sampleProblem())
	if !appErr.Is(err, appErr.JudgeUnavailable) {
		t.Fatalf("expected JudgeUnavailable, got %v", err)
	}
}

func TestSubmitBatchFailsOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	client, err := NewClient(Config{BaseURL: url}, nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = client.SubmitBatch(context.Background(), &model.Submission{}, sampleProblem())
	if !appErr.Is(err, appErr.JudgeUnavailable) {
		t.Fatalf("expected JudgeUnavailable, got %v", err)
	}
}

func TestFetchBatchResultsDecodesFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tokens") != "A,B" || q.Get("base64_encoded") != "true" || q.Get("fields") != batchResultFields {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		// Long values arrive wrapped across lines.
		wrapped := b64("main.c:1: error")
		wrapped = wrapped[:8] + "\n" + wrapped[8:]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"submissions": []map[string]interface{}{
				{"token": "A", "status_id": 3, "compile_output": nil},
				{"token": "B", "status_id": 6, "compile_output": wrapped},
			},
		})
	})

	results, err := client.FetchBatchResults(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("fetch batch results failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != model.StatusAccepted || results[0].CompileOutput != "" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Status != model.StatusCompileError || results[1].CompileOutput != "main.c:1: error" {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
}

func TestFetchBatchResultsMapsUnknownStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"submissions":[{"token":"A","status_id":77}]}`))
	})
	results, err := client.FetchBatchResults(context.Background(), []string{"A"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if results[0].Status != model.StatusUnknown || results[0].RawStatusID != 77 {
		t.Fatalf("expected unknown status with raw id, got %+v", results[0])
	}
}

func TestFetchBatchResultsWithoutTokens(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	results, err := client.FetchBatchResults(context.Background(), nil)
	if err != nil || results != nil {
		t.Fatalf("expected no results, got %v, %v", results, err)
	}
}

func TestFetchSingleDecodesDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/submissions/tok-1") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("fields") != singleResultFields {
			t.Errorf("unexpected fields %s", r.URL.Query().Get("fields"))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         map[string]interface{}{"id": 4, "description": "Wrong Answer"},
			"stdout":         b64("5\n"),
			"stderr":         nil,
			"compile_output": nil,
			"message":        b64("mismatch"),
		})
	})

	detail, err := client.FetchSingle(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("fetch single failed: %v", err)
	}
	if detail.Status != model.StatusWrongAnswer || detail.Description != "Wrong Answer" {
		t.Fatalf("unexpected status: %+v", detail)
	}
	if detail.Stdout != "5\n" || detail.Stderr != "" || detail.Message != "mismatch" {
		t.Fatalf("unexpected decoded fields: %+v", detail)
	}
}

func TestFetchSingleRejectsBadBase64(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"id":3},"stdout":"%%%"}`))
	})
	_, err := client.FetchSingle(context.Background(), "tok")
	if !appErr.Is(err, appErr.JudgeBadResponse) {
		t.Fatalf("expected JudgeBadResponse, got %v", err)
	}
}
