package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/vasu-devs/Socratis/internal/i18n"
	"github.com/vasu-devs/Socratis/internal/interview"
	"github.com/vasu-devs/Socratis/internal/model"
	"github.com/vasu-devs/Socratis/internal/questions"
	"github.com/vasu-devs/Socratis/internal/store"
	"github.com/vasu-devs/Socratis/internal/worker"
)

type testEnv struct {
	srv   *httptest.Server
	queue *worker.MemoryQueue
}

func newTestEnv(t *testing.T, checks ...Check) *testEnv {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	durable, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	pool := questions.NewPool()
	_, err = pool.Add("q.json", []byte(`[
		{"title":"Q1","description":"one","starterCode":"// start 1"},
		{"title":"Q2","description":"two","starterCode":"// start 2"}
	]`))
	require.NoError(t, err)

	q := worker.NewMemoryQueue(8)
	svc := interview.New(store.NewSessions(durable, nil), pool, model.InterviewConfig{NumQuestions: 2}, q)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(svc, []string{"http://allowed.example"}, checks...).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) start(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusCreated, status)
	id, _ := body["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func (e *testEnv) queued(t *testing.T) []string {
	t.Helper()
	var ids []string
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		job, err := e.queue.Dequeue(ctx)
		cancel()
		if err != nil {
			return ids
		}
		ids = append(ids, job.SessionID)
	}
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestStartAndGetSession(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/start", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, float64(2), body["totalQuestions"])
	assert.Equal(t, float64(0), body["currentQuestionIndex"])
	assert.Equal(t, "// start 1", body["code"])
	q, _ := body["question"].(map[string]any)
	assert.Equal(t, "Q1", q["title"])

	id := body["sessionId"].(string)
	status, body = env.do(t, http.MethodGet, "/api/session/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["sessionId"])
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/session/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errorCode(body))
	assert.Equal(t, "Interview session not found.", body["error"].(map[string]any)["message"])

	status, body = env.do(t, http.MethodGet, "/api/session/missing/report", nil, "Accept-Language", "ru")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Сессия интервью не найдена.", body["error"].(map[string]any)["message"])

	status, _ = env.do(t, http.MethodPost, "/api/next-question", map[string]any{"sessionId": "missing"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCandidateFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	status, body := env.do(t, http.MethodPost, "/api/next-question", map[string]any{
		"sessionId":  id,
		"code":       "function a() {}",
		"transcript": []map[string]string{{"role": "ai", "content": "hi"}, {"role": "user", "content": "hello"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interview.StatusNextQuestion, body["status"])
	assert.Equal(t, float64(1), body["currentQuestionIndex"])
	assert.Equal(t, true, body["isLastQuestion"])

	_, sess := env.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Empty(t, sess["transcript"], "candidate advance resets the transcript")
	assert.Equal(t, "// start 2", sess["code"])

	status, body = env.do(t, http.MethodPost, "/api/next-question", map[string]any{
		"sessionId": id, "code": "function b() {}",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interview.StatusCompleted, body["status"])
	assert.Equal(t, []string{id}, env.queued(t))

	status, body = env.do(t, http.MethodGet, "/api/session/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, false, body["ready"])
	assert.Nil(t, body["report"])
}

func TestAdvanceReplayIsHarmless(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	req := map[string]any{"sessionId": id, "code": "x", "questionIndex": 0}
	_, first := env.do(t, http.MethodPost, "/api/next-question", req)
	_, second := env.do(t, http.MethodPost, "/api/next-question", req)
	assert.Equal(t, first["currentQuestionIndex"], second["currentQuestionIndex"])

	status, body := env.do(t, http.MethodPost, "/api/next-question", map[string]any{"sessionId": id, "questionIndex": 5})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", errorCode(body))
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	tests := []struct {
		name string
		path string
		body any
		code string
	}{
		{"malformed json", "/api/next-question", "{not json", "bad_json"},
		{"missing session id", "/api/next-question", map[string]any{"code": "x"}, "validation"},
		{"negative question index", "/api/next-question", map[string]any{"sessionId": id, "questionIndex": -1}, "validation"},
		{"unknown role", "/api/submit", map[string]any{
			"sessionId": id, "transcript": []map[string]string{{"role": "narrator", "content": "x"}},
		}, "validation"},
		{"empty transcript append", "/api/session/" + id + "/transcript", map[string]any{"entries": []any{}}, "validation"},
		{"missing report", "/api/save-report", map[string]any{"sessionId": id}, "validation"},
		{"score out of range", "/api/save-report", map[string]any{
			"sessionId": id, "report": map[string]any{"overall_score": 11},
		}, "validation"},
		{"partial dimension scores", "/api/save-report", map[string]any{
			"sessionId": id, "report": map[string]any{
				"overall_score": 5, "correctness": true, "feedback_markdown": "x",
				"dimension_scores": map[string]any{"testing": 3},
			},
		}, "validation"},
		{"zero line number", "/api/save-report", map[string]any{
			"sessionId": id, "report": map[string]any{
				"overall_score": 5, "correctness": true, "feedback_markdown": "x",
				"dimension_scores": model.UniformScores(5),
				"code_issues":      []map[string]any{{"line_number": 0, "issue": "x", "severity": "info"}},
			},
		}, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}

	_, sess := env.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Equal(t, "active", sess["status"], "rejected requests do not change the session")
}

func TestTranscriptTimestampRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	status, _ := env.do(t, http.MethodPost, "/api/session/"+id+"/transcript", map[string]any{
		"entries": []map[string]string{
			{"role": "interviewer", "content": "hi", "timestamp": "2026-01-01T00:00:00Z"},
			{"role": "candidate", "content": "hello"},
		},
	})
	require.Equal(t, http.StatusOK, status)

	_, sess := env.do(t, http.MethodGet, "/api/session/"+id, nil)
	entries, _ := sess["transcript"].([]any)
	require.Len(t, entries, 2)
	first, _ := entries[0].(map[string]any)
	assert.Equal(t, "2026-01-01T00:00:00Z", first["timestamp"])
	second, _ := entries[1].(map[string]any)
	ts, _ := second["timestamp"].(string)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute, "missing timestamp is set by the server")
}

func TestAgentNextQuestion(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	status, body := env.do(t, http.MethodPost, "/api/session/"+id+"/transcript", map[string]any{
		"entries": []map[string]string{{"role": "interviewer", "content": "let's move on"}},
	})
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/api/agent/next-question", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interview.StatusAdvanced, body["status"])
	q, _ := body["question"].(map[string]any)
	assert.Equal(t, "Q2", q["title"])

	_, sess := env.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Len(t, sess["transcript"], 1, "agent advance keeps the transcript")

	status, body = env.do(t, http.MethodPost, "/api/agent/next-question", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interview.StatusNoMoreQuestions, body["status"])
}

func TestSubmitThenWritesRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	status, body := env.do(t, http.MethodPost, "/api/submit", map[string]any{"sessionId": id, "code": "final"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, interview.StatusCompleted, body["status"])

	status, body = env.do(t, http.MethodPatch, "/api/session/"+id, map[string]any{"code": "late"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "session_completed", errorCode(body))

	status, _ = env.do(t, http.MethodPost, "/api/submit", map[string]any{"sessionId": id, "code": "final"})
	assert.Equal(t, http.StatusOK, status, "submit is idempotent")
	assert.Equal(t, []string{id}, env.queued(t))
}

func TestSaveReport(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	report := model.Report{
		OverallScore:     7,
		Correctness:      true,
		DimensionScores:  model.UniformScores(7),
		CodeIssues:       []model.CodeIssue{{LineNumber: 2, Issue: "off by one", Severity: model.SeverityWarning}},
		FeedbackMarkdown: "## Executive Summary\nGood.",
	}
	status, body := env.do(t, http.MethodPost, "/api/save-report", map[string]any{"sessionId": id, "report": report})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = env.do(t, http.MethodGet, "/api/session/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "completed", body["status"])
	r, _ := body["report"].(map[string]any)
	assert.Equal(t, float64(7), r["overall_score"])
	assert.Empty(t, r["transcript_issues"])
}

func TestRequestEvaluation(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	status, body := env.do(t, http.MethodPost, "/api/session/"+id+"/evaluate", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", errorCode(body))

	_, _ = env.do(t, http.MethodPost, "/api/submit", map[string]any{"sessionId": id})
	env.queued(t)

	status, body = env.do(t, http.MethodPost, "/api/session/"+id+"/evaluate", nil)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, []string{id}, env.queued(t))
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := newTestEnv(t, Check{Name: "store", Ping: func(context.Context) error { return nil }})
	status, body := healthy.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = healthy.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["store"])

	broken := newTestEnv(t, Check{Name: "cache", Ping: func(context.Context) error { return errors.New("connection refused") }})
	status, body = broken.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["cache"])
}

func dialStream(t *testing.T, env *testEnv, id string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/session/" + id + "/stream"
	return websocket.DefaultDialer.Dial(url, header)
}

func readEvent(t *testing.T, conn *websocket.Conn) streamEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev streamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	id := env.start(t)

	conn, _, err := dialStream(t, env, id, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "transcript", "role": "assistant", "content": "Tell me your approach."}))
	ev := readEvent(t, conn)
	assert.Equal(t, eventAck, ev.Type)
	assert.Equal(t, eventTranscript, ev.Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "transcript", "role": "robot", "content": "?"}))
	ev = readEvent(t, conn)
	assert.Equal(t, eventError, ev.Type)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "validation", ev.Error.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "code", "code": "let x = 1;"}))
	ev = readEvent(t, conn)
	assert.Equal(t, eventAck, ev.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "call_end"}))
	ev = readEvent(t, conn)
	assert.Equal(t, eventCompleted, ev.Type)

	_, sess := env.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Equal(t, "completed", sess["status"])
	assert.Equal(t, "let x = 1;", sess["code"])
	assert.Len(t, sess["transcript"], 1)
	assert.Equal(t, []string{id}, env.queued(t))
}

func TestStreamRejects(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := dialStream(t, env, "missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := env.start(t)
	_, resp, err = dialStream(t, env, id, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialStream(t, env, id, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	conn.Close()
}
