package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cloudnav-ai/cloudnav/pkg/ai"
	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
	"github.com/cloudnav-ai/cloudnav/pkg/cloudcli"
	"github.com/cloudnav-ai/cloudnav/pkg/config"
)

// reply is one scripted model response.
type reply struct {
	text string
	err  error
}

// scriptedModel replays canned replies in order and records every call.
type scriptedModel struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	turns   [][]providers.Turn
}

func (m *scriptedModel) Name() string     { return "scripted" }
func (m *scriptedModel) GetModel() string { return "test-model" }
func (m *scriptedModel) IsReady() bool    { return true }

func (m *scriptedModel) Chat(_ context.Context, _ string, turns []providers.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, append([]providers.Turn(nil), turns...))
	if m.calls >= len(m.replies) {
		return "", errors.New("scripted model ran out of replies")
	}
	r := m.replies[m.calls]
	m.calls++
	return r.text, r.err
}

func (m *scriptedModel) ChatJSON(ctx context.Context, system string, turns []providers.Turn) (string, error) {
	return m.Chat(ctx, system, turns)
}

func (m *scriptedModel) ChatStream(ctx context.Context, system string, turns []providers.Turn, cb func(string)) error {
	out, err := m.Chat(ctx, system, turns)
	if err != nil {
		return err
	}
	cb(out)
	return nil
}

func (m *scriptedModel) ListModels(context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

type execCall struct {
	tool cloudcli.Tool
	argv []string
	env  []string
}

type execResult struct {
	res *cloudcli.ExecutionResult
	err error
}

// recordingExecutor records invocations and replays scripted results; the
// last result repeats once the script runs out.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	results []execResult
}

func (e *recordingExecutor) Execute(_ context.Context, tool cloudcli.Tool, argv, env []string) (*cloudcli.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, execCall{tool: tool, argv: argv, env: env})

	idx := len(e.calls) - 1
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	if idx < 0 {
		return &cloudcli.ExecutionResult{}, nil
	}
	r := e.results[idx]
	return r.res, r.err
}

func (e *recordingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Exec.LintEnabled = false
	cfg.Storage.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, model *scriptedModel, exec cloudcli.Executor) *Server {
	t.Helper()
	var client *ai.Client
	if model != nil {
		client = ai.NewClientWithProvider(model, time.Second)
	}
	s := NewServerWith(cfg, client, exec, nil, &VersionInfo{Version: "test"})
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func postPrompt(t *testing.T, handler http.Handler, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/prompt", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodePrompt(t *testing.T, rec *httptest.ResponseRecorder) *PromptResponse {
	t.Helper()
	var resp PromptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return &resp
}

const cmdListInstances = `{"outcome":"command","tool":"gcloud","command":"compute instances list"}`

func TestPromptExecutesAndSummarizes(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: cmdListInstances},
		{text: "You have 2 instances, both running."},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "vm-1 RUNNING\nvm-2 RUNNING\n"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"list my instances"}`, "ya29.caller-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodePrompt(t, rec)
	if resp.Outcome != OutcomeExecuted || !resp.Success {
		t.Errorf("outcome = %q success = %v", resp.Outcome, resp.Success)
	}
	if resp.Command == nil || resp.Command.Tool != "gcloud" || resp.Command.Command != "compute instances list" {
		t.Errorf("command = %+v", resp.Command)
	}
	if resp.Summary != "You have 2 instances, both running." {
		t.Errorf("summary = %q", resp.Summary)
	}
	if !strings.Contains(resp.Output, "vm-1 RUNNING") {
		t.Errorf("raw output missing: %q", resp.Output)
	}
	if resp.ConversationID == "" {
		t.Error("response must carry a conversation ID")
	}

	if exec.callCount() != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.callCount())
	}
	call := exec.calls[0]
	if call.tool != cloudcli.ToolGcloud {
		t.Errorf("tool = %q", call.tool)
	}
	tokenSeen := false
	for _, kv := range call.env {
		if kv == cloudcli.EnvAccessToken+"=ya29.caller-token" {
			tokenSeen = true
		}
	}
	if !tokenSeen {
		t.Error("caller token was not injected into the child environment")
	}
}

func TestPromptDenialNeverReachesExecutor(t *testing.T) {
	// The model insists on a denylisted command every round.
	denied := `{"outcome":"command","tool":"gcloud","command":"compute ssh vm-1"}`
	model := &scriptedModel{replies: []reply{{text: denied}, {text: denied}, {text: denied}}}
	exec := &recordingExecutor{}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"ssh into vm-1"}`, "tok")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body: %s)", rec.Code, rec.Body.String())
	}

	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Code != ErrCodePolicyDenied {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodePolicyDenied)
	}

	if exec.callCount() != 0 {
		t.Fatalf("executor was invoked %d times for a denied command", exec.callCount())
	}
}

func TestPromptDenialFeedbackEnablesCorrection(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"command","tool":"gcloud","command":"compute ssh vm-1"}`},
		{text: `{"outcome":"command","tool":"gcloud","command":"compute instances describe vm-1"}`},
		{text: "vm-1 is running."},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "status: RUNNING"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"check on vm-1"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodePrompt(t, rec)
	if resp.Command == nil || resp.Command.Command != "compute instances describe vm-1" {
		t.Errorf("executed command = %+v, want the corrected one", resp.Command)
	}
	if exec.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1", exec.callCount())
	}

	// The second generation round must have seen the denial as a
	// conversation turn.
	model.mu.Lock()
	secondRound := model.turns[1]
	model.mu.Unlock()
	last := secondRound[len(secondRound)-1]
	if !strings.Contains(last.Text, "blocked by policy") {
		t.Errorf("denial feedback turn missing, got %q", last.Text)
	}
}

func TestPromptQuestionOutcome(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"needs_project","message":"Which project should I look in?"}`},
	}}
	exec := &recordingExecutor{}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"list my instances"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodePrompt(t, rec)
	if resp.Outcome != OutcomeQuestion || resp.Question != "Which project should I look in?" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.QuestionKind != "needs_project" {
		t.Errorf("question kind = %q", resp.QuestionKind)
	}
	if exec.callCount() != 0 {
		t.Error("a question outcome must not execute anything")
	}
}

func TestPromptClientHistorySeedsConversation(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: cmdListInstances},
		{text: "done"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "ok"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	body := `{"prompt":"and the instances?","history":[` +
		`{"type":"user","content":"I work in proj-a"},` +
		`{"type":"ai","content":"Noted."}]}`
	rec := postPrompt(t, s.Handler(), body, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	model.mu.Lock()
	firstCall := model.turns[0]
	model.mu.Unlock()
	if len(firstCall) != 3 {
		t.Fatalf("model saw %d turns, want history(2) + prompt", len(firstCall))
	}
	if firstCall[0].Role != providers.RoleUser || firstCall[0].Text != "I work in proj-a" {
		t.Errorf("turn 0 = %+v", firstCall[0])
	}
	if firstCall[1].Role != providers.RoleAssistant || firstCall[1].Text != "Noted." {
		t.Errorf("turn 1 = %+v", firstCall[1])
	}
	if firstCall[2].Text != "and the instances?" {
		t.Errorf("turn 2 = %+v", firstCall[2])
	}
}

func TestPromptAmbiguousIsBadRequest(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"ambiguous","message":"Do you mean the VM or the SQL instance?"}`},
	}}
	exec := &recordingExecutor{}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"restart my instance"}`, "tok")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodePrompt(t, rec)
	if resp.Outcome != OutcomeQuestion || resp.QuestionKind != "ambiguous" {
		t.Errorf("resp = %+v", resp)
	}
	if exec.callCount() != 0 {
		t.Error("an ambiguous prompt must not execute anything")
	}
}

func TestPromptFailureExplanationFallsBackToStderr(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: cmdListInstances},
		{err: errors.New("API error (status 500): summarizer down")},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 1, Stderr: "ERROR: (gcloud) permission denied on project"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"list my instances"}`, "tok")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("command failure should be a 400 with the explanation as payload, got %d", rec.Code)
	}
	resp := decodePrompt(t, rec)
	if resp.Success || resp.ExitCode != 1 {
		t.Errorf("success = %v exit = %d", resp.Success, resp.ExitCode)
	}
	if !strings.Contains(resp.Summary, "permission denied on project") {
		t.Errorf("summary should fall back to raw stderr, got %q", resp.Summary)
	}
	if !strings.Contains(resp.Stderr, "permission denied") {
		t.Errorf("stderr missing from response: %q", resp.Stderr)
	}
}

func TestPromptSpawnFailure(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: cmdListInstances}}}
	exec := &recordingExecutor{results: []execResult{
		{err: &cloudcli.SpawnError{Tool: cloudcli.ToolGcloud, Err: errors.New("executable not found")}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"list my instances"}`, "tok")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var apiErr APIError
	_ = json.Unmarshal(rec.Body.Bytes(), &apiErr)
	if apiErr.Code != ErrCodeSpawnFailure {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestPromptAuth(t *testing.T) {
	s := newTestServer(t, testConfig(), &scriptedModel{}, &recordingExecutor{})
	h := s.Handler()

	if rec := postPrompt(t, h, `{"prompt":"x"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/prompt", bytes.NewBufferString(`{"prompt":"x"}`))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme: status = %d, want 401", rec.Code)
	}
}

func TestPromptValidation(t *testing.T) {
	s := newTestServer(t, testConfig(), &scriptedModel{}, &recordingExecutor{})
	h := s.Handler()

	if rec := postPrompt(t, h, `{"prompt":"  "}`, "tok"); rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt: status = %d, want 400", rec.Code)
	}
	if rec := postPrompt(t, h, `not json`, "tok"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", rec.Code)
	}
	if rec := postPrompt(t, h, `{"prompt":"x","conversation_id":"bad id!"}`, "tok"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad conversation id: status = %d, want 400", rec.Code)
	}
}

func TestPromptWithoutLLMConfigured(t *testing.T) {
	s := newTestServer(t, testConfig(), nil, &recordingExecutor{})

	rec := postPrompt(t, s.Handler(), `{"prompt":"x"}`, "tok")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestProjectRememberedPerConversation(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"command","tool":"gcloud","command":"compute instances list --project=proj-a"}`},
		{text: "done"},
		{text: cmdListInstances},
		{text: "done"},
		{text: cmdListInstances},
		{text: "done"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "ok"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)
	h := s.Handler()

	rec := postPrompt(t, h, `{"prompt":"list instances in proj-a"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("first prompt: status = %d", rec.Code)
	}
	convID := decodePrompt(t, rec).ConversationID

	rec = postPrompt(t, h, `{"prompt":"list them again","conversation_id":"`+convID+`"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("second prompt: status = %d", rec.Code)
	}

	if exec.callCount() != 2 {
		t.Fatalf("executor calls = %d, want 2", exec.callCount())
	}
	projectSeen := false
	for _, kv := range exec.calls[1].env {
		if kv == cloudcli.EnvCoreProject+"=proj-a" {
			projectSeen = true
		}
	}
	if !projectSeen {
		t.Error("remembered project was not injected into the second command's environment")
	}

	// A fresh conversation must not inherit it.
	rec = postPrompt(t, h, `{"prompt":"list instances"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("third prompt: status = %d", rec.Code)
	}
	for _, kv := range exec.calls[2].env {
		if strings.HasPrefix(kv, cloudcli.EnvCoreProject+"=") && kv == cloudcli.EnvCoreProject+"=proj-a" {
			t.Error("project leaked into an unrelated conversation")
		}
	}
}

func TestKubectlPreviousFlagIsNotAProject(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"command","tool":"kubectl","command":"logs -p my-pod"}`},
		{text: "done"},
		{text: `{"outcome":"command","tool":"kubectl","command":"get pods"}`},
		{text: "done"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "ok"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)
	h := s.Handler()

	rec := postPrompt(t, h, `{"prompt":"show previous logs for my-pod"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("first prompt: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	convID := decodePrompt(t, rec).ConversationID

	rec = postPrompt(t, h, `{"prompt":"list the pods","conversation_id":"`+convID+`"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("second prompt: status = %d", rec.Code)
	}

	if exec.callCount() != 2 {
		t.Fatalf("executor calls = %d, want 2", exec.callCount())
	}
	for _, kv := range exec.calls[1].env {
		if strings.HasPrefix(kv, cloudcli.EnvCoreProject+"=") {
			t.Errorf("kubectl's -p flag leaked into the environment as a project: %s", kv)
		}
	}
}

func TestLintFeedbackLoop(t *testing.T) {
	cfg := testConfig()
	cfg.Exec.LintEnabled = true

	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"command","tool":"gcloud","command":"compute instances list --zone2=us"}`},
		{text: cmdListInstances},
		{text: "two instances"},
	}}
	exec := &recordingExecutor{results: []execResult{
		// First lint run rejects, second accepts, then the real execution.
		{res: &cloudcli.ExecutionResult{ExitCode: 0,
			Stdout: `[{"command_string_index":0,"success":false,"error_message":"unrecognized arguments: --zone2","error_type":"UnrecognizedArgumentsError"}]`}},
		{res: &cloudcli.ExecutionResult{ExitCode: 0,
			Stdout: `[{"command_string_index":0,"success":true,"command_string":"gcloud compute instances list"}]`}},
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "vm-1\nvm-2"}},
	}}
	s := newTestServer(t, cfg, model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"list my instances"}`, "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodePrompt(t, rec)
	if resp.Command == nil || resp.Command.Command != "compute instances list" {
		t.Errorf("executed command = %+v", resp.Command)
	}

	if exec.callCount() != 3 {
		t.Fatalf("executor calls = %d, want 2 lint runs + 1 execution", exec.callCount())
	}
	if exec.calls[0].argv[0] != "meta" || exec.calls[1].argv[0] != "meta" {
		t.Error("first two executor calls should be lint invocations")
	}

	// The corrected generation round saw the lint error.
	model.mu.Lock()
	secondRound := model.turns[1]
	model.mu.Unlock()
	if !strings.Contains(secondRound[len(secondRound)-1].Text, "unrecognized arguments") {
		t.Error("lint feedback turn missing")
	}
}

func TestAmbientCredentialException(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"outcome":"command","tool":"gcloud","command":"storage sign-url gs://bucket/object"}`},
		{text: "here is your signed URL"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "https://signed"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)

	rec := postPrompt(t, s.Handler(), `{"prompt":"sign a url for my object"}`, "ya29.secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	for _, kv := range exec.calls[0].env {
		if strings.HasPrefix(kv, cloudcli.EnvAccessToken+"=") {
			t.Fatal("ambient-identity operation must not receive the caller token")
		}
	}
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t, testConfig(), &scriptedModel{}, &recordingExecutor{})
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var v VersionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.Version != "test" {
		t.Errorf("version = %+v, err = %v", v, err)
	}
}

func TestAdminEndpointsGatedByPassword(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, cfg, &scriptedModel{}, &recordingExecutor{})
	h := s.Handler()

	// No hash configured: the endpoint is disabled.
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("without hash: status = %d, want 404", rec.Code)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.AdminPasswordHash = string(hash)

	req = httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing password: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("X-Admin-Password", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("X-Admin-Password", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct password: status = %d, want 200", rec.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: cmdListInstances},
		{text: "done"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "ok"}},
	}}
	s := newTestServer(t, testConfig(), model, exec)
	h := s.Handler()

	rec := postPrompt(t, h, `{"prompt":"list my instances"}`, "tok")
	convID := decodePrompt(t, rec).ConversationID

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK || !strings.Contains(rec2.Body.String(), convID) {
		t.Errorf("list: status = %d, body = %s", rec2.Code, rec2.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID, nil)
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("get: status = %d", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/conversations/"+convID, nil)
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID, nil)
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec2.Code)
	}
}

func TestPromptRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.PromptRatePerMinute = 1

	model := &scriptedModel{replies: []reply{
		{text: cmdListInstances},
		{text: "done"},
	}}
	exec := &recordingExecutor{results: []execResult{
		{res: &cloudcli.ExecutionResult{ExitCode: 0, Stdout: "ok"}},
	}}
	s := newTestServer(t, cfg, model, exec)
	h := s.Handler()

	if rec := postPrompt(t, h, `{"prompt":"list"}`, "tok"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec := postPrompt(t, h, `{"prompt":"list"}`, "tok")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
}
