package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudnav-ai/cloudnav/pkg/ai"
	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
	"github.com/cloudnav-ai/cloudnav/pkg/cloudcli"
	"github.com/cloudnav-ai/cloudnav/pkg/db"
	"github.com/cloudnav-ai/cloudnav/pkg/log"
	"github.com/cloudnav-ai/cloudnav/pkg/metrics"
)

// maxGenerationRounds bounds the generate -> validate -> feed back loop. A
// policy denial or lint rejection is fed back to the model this many times
// before the request fails.
const maxGenerationRounds = 3

// maxRawOutputBytes caps raw stdout/stderr echoed back to the client.
const maxRawOutputBytes = 256 * 1024

type PromptRequest struct {
	Prompt         string        `json:"prompt"`
	ConversationID string        `json:"conversation_id,omitempty"`
	History        []HistoryTurn `json:"history,omitempty"`
}

// HistoryTurn is one client-supplied prior exchange. It seeds a conversation
// the server has no stored turns for, so stateless clients can keep context
// across requests themselves.
type HistoryTurn struct {
	Type    string `json:"type"` // "user" or "ai"
	Content string `json:"content"`
}

type CommandInfo struct {
	Tool    string `json:"tool"`
	Command string `json:"command"`
}

// Prompt outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeQuestion = "question"
)

type PromptResponse struct {
	ConversationID string       `json:"conversation_id"`
	Outcome        string       `json:"outcome"`
	Command        *CommandInfo `json:"command,omitempty"`
	ExitCode       int          `json:"exit_code"`
	Success        bool         `json:"success"`
	Summary        string       `json:"summary,omitempty"`
	Output         string       `json:"output,omitempty"`
	Stderr         string       `json:"stderr,omitempty"`
	Question       string       `json:"question,omitempty"`
	QuestionKind   string       `json:"question_kind,omitempty"`
}

// promptHooks lets the WebSocket variant observe pipeline progress and
// stream the summary. Both fields may be nil.
type promptHooks struct {
	onStage      func(stage string)
	summaryChunk func(chunk string)
}

func (h *promptHooks) stage(name string) {
	if h != nil && h.onStage != nil {
		h.onStage(name)
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "request body must be JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		WriteError(w, NewAPIError(ErrCodeValidation, "prompt must not be empty"))
		return
	}

	token, apiErr := bearerToken(r)
	if apiErr != nil {
		WriteError(w, apiErr)
		return
	}

	resp, status, apiErr := s.runPrompt(r.Context(), &req, token, getClientIdentifier(r), nil)
	if apiErr != nil {
		WriteError(w, apiErr)
		return
	}
	writeJSON(w, status, resp)
}

// runPrompt is the whole pipeline for one prompt round: generate a proposal,
// gate it through policy and lint with feedback retries, execute it with the
// caller's credentials, and narrate the result. The int is the HTTP status
// for the response: clarifying questions and successful commands are 200,
// an ambiguous request or a command that ran and failed is 400.
func (s *Server) runPrompt(ctx context.Context, req *PromptRequest, token, clientIP string, hooks *promptHooks) (*PromptResponse, int, *APIError) {
	if s.generator == nil {
		return nil, 0, NewAPIError(ErrCodeLLMNotConfigured, "no LLM provider is configured")
	}

	conv, err := s.store.GetOrCreate(req.ConversationID)
	if err != nil {
		return nil, 0, NewAPIError(ErrCodeValidation, err.Error())
	}

	s.collector.Inc(metrics.CounterPrompts)
	started := time.Now()

	audit := &db.AuditEntry{
		ConversationID: conv.ID,
		ClientIP:       clientIP,
		Prompt:         req.Prompt,
	}

	turns := conv.Turns
	if len(turns) == 0 && len(req.History) > 0 {
		for _, h := range req.History {
			role := providers.RoleUser
			if h.Type == "ai" || h.Type == "assistant" {
				role = providers.RoleAssistant
			}
			s.store.AppendTurn(conv.ID, role, h.Content)
			turns = append(turns, providers.Turn{Role: role, Text: h.Content})
		}
	}

	s.store.AppendTurn(conv.ID, providers.RoleUser, req.Prompt)
	turns = append(turns, providers.Turn{Role: providers.RoleUser, Text: req.Prompt})

	var proposal *ai.Proposal
	var tool cloudcli.Tool
	var argv []string
	var lastDenial string

	for round := 1; round <= maxGenerationRounds; round++ {
		hooks.stage("generating")
		prop, err := s.generator.Propose(ctx, turns, s.store.Project(conv.ID))
		if err != nil {
			if errors.Is(err, ai.ErrMalformedReply) {
				log.Warnf("generation round %d returned a malformed reply: %v", round, err)
				if round == maxGenerationRounds {
					s.collector.Inc(metrics.CounterLLMErrors)
					s.finishAudit(audit, db.VerdictParseFailed, err.Error(), started)
					return nil, 0, NewAPIError(ErrCodeGenerationFailed, err.Error())
				}
				turns = append(turns, providers.Turn{Role: providers.RoleUser,
					Text: "Your previous reply was not a valid proposal object. Reply with exactly one of the documented JSON shapes."})
				continue
			}
			s.collector.Inc(metrics.CounterLLMErrors)
			s.finishAudit(audit, db.VerdictLLMFailed, err.Error(), started)
			return nil, 0, ParseLLMError(err, s.aiClient.GetProvider())
		}

		if !prop.IsCommand() {
			s.collector.Inc(metrics.CounterQuestions)
			s.store.AppendTurn(conv.ID, providers.RoleAssistant, prop.Message)
			s.finishAudit(audit, db.VerdictQuestion, "", started)
			// A missing project or location is an ordinary conversational
			// turn; an ambiguous or multi-resource request signals the
			// client that the prompt itself needs rework.
			status := http.StatusOK
			if prop.Kind == ai.ProposalAmbiguous || prop.Kind == ai.ProposalMultiResource {
				status = http.StatusBadRequest
			}
			return &PromptResponse{
				ConversationID: conv.ID,
				Outcome:        OutcomeQuestion,
				Question:       prop.Message,
				QuestionKind:   string(prop.Kind),
			}, status, nil
		}

		audit.Tool = prop.Tool
		audit.Command = prop.Command

		t, err := cloudcli.ParseTool(prop.Tool)
		if err != nil {
			if retry := s.feedBack(&turns, round, err.Error()); retry {
				continue
			}
			s.finishAudit(audit, db.VerdictParseFailed, err.Error(), started)
			return nil, 0, NewAPIError(ErrCodeGenerationFailed, err.Error())
		}

		args, err := cloudcli.SplitCommand(prop.Command)
		if err != nil {
			reason := fmt.Sprintf("The proposed command is not acceptable: %v. Propose one plain command with no shell syntax.", err)
			if retry := s.feedBack(&turns, round, reason); retry {
				continue
			}
			s.finishAudit(audit, db.VerdictParseFailed, err.Error(), started)
			return nil, 0, NewAPIError(ErrCodeGenerationFailed, err.Error())
		}

		if verdict := s.policy.CheckCommand(prop.Tool, prop.Command); !verdict.Permitted {
			s.collector.Inc(metrics.CounterDenied)
			s.recordAudit(&db.AuditEntry{
				ConversationID: conv.ID,
				ClientIP:       clientIP,
				Prompt:         req.Prompt,
				Tool:           prop.Tool,
				Command:        prop.Command,
				Verdict:        db.VerdictDenied,
				ErrorMsg:       verdict.Reason,
				DurationMs:     time.Since(started).Milliseconds(),
			})
			lastDenial = verdict.Reason
			if retry := s.feedBack(&turns, round, verdict.Reason); retry {
				continue
			}
			return nil, 0, NewAPIError(ErrCodePolicyDenied, lastDenial)
		}

		if t == cloudcli.ToolGcloud && s.cfg.Exec.LintEnabled {
			hooks.stage("validating")
			lintEnv := s.injector.BuildEnv(t, args, "", "")
			if res := s.linter.Lint(ctx, prop.Command, lintEnv); !res.Success {
				s.collector.Inc(metrics.CounterLintFailed)
				reason := fmt.Sprintf("gcloud rejected the command: %s. Propose a corrected command.", res.Err)
				s.recordAudit(&db.AuditEntry{
					ConversationID: conv.ID,
					ClientIP:       clientIP,
					Prompt:         req.Prompt,
					Tool:           prop.Tool,
					Command:        prop.Command,
					Verdict:        db.VerdictLintFailed,
					ErrorMsg:       res.Err,
					DurationMs:     time.Since(started).Milliseconds(),
				})
				if retry := s.feedBack(&turns, round, reason); retry {
					continue
				}
				return nil, 0, NewAPIError(ErrCodeGenerationFailed, "could not produce a command gcloud accepts: "+res.Err)
			}
		}

		proposal, tool, argv = prop, t, args
		break
	}

	// Project handling: a flag on the command updates the conversation's
	// remembered project; otherwise the remembered one (if any) rides along
	// in the environment.
	project := cloudcli.ExtractProject(tool, argv)
	if project != "" {
		s.store.SetProject(conv.ID, project)
	} else {
		project = s.store.Project(conv.ID)
	}

	env := s.injector.BuildEnv(tool, argv, token, project)

	hooks.stage("executing")
	execStart := time.Now()
	result, err := s.executor.Execute(ctx, tool, argv, env)
	if err != nil {
		var spawnErr *cloudcli.SpawnError
		switch {
		case errors.As(err, &spawnErr):
			s.collector.Inc(metrics.CounterSpawnFailed)
			s.finishAudit(audit, db.VerdictSpawnFailed, err.Error(), started)
			return nil, 0, NewAPIError(ErrCodeSpawnFailure, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			s.finishAudit(audit, db.VerdictSpawnFailed, err.Error(), started)
			return nil, 0, NewAPIError(ErrCodeTimeout,
				fmt.Sprintf("%s did not finish within the execution timeout", tool))
		default:
			s.finishAudit(audit, db.VerdictSpawnFailed, err.Error(), started)
			return nil, 0, NewAPIError(ErrCodeInternalError, err.Error())
		}
	}
	log.Debugf("executed %s %v in %s (exit %d)", tool, argv, time.Since(execStart), result.ExitCode)

	resp := &PromptResponse{
		ConversationID: conv.ID,
		Outcome:        OutcomeExecuted,
		Command:        &CommandInfo{Tool: string(tool), Command: proposal.Command},
		ExitCode:       result.ExitCode,
		Success:        result.ExitCode == 0,
	}

	audit.ExitCode = result.ExitCode
	audit.Success = resp.Success

	hooks.stage("summarizing")
	if resp.Success {
		s.collector.Inc(metrics.CounterExecuted)
		resp.Output = ai.CompactOutput(result.Stdout, maxRawOutputBytes)
		resp.Summary = s.narrateSuccess(ctx, tool, proposal.Command, result.Stdout, hooks)
	} else {
		s.collector.Inc(metrics.CounterExecFailed)
		resp.Stderr = ai.CompactOutput(result.Stderr, maxRawOutputBytes)
		resp.Summary = s.narrateFailure(ctx, tool, proposal.Command, result.Stderr, result.ExitCode)
	}

	s.store.AppendTurn(conv.ID, providers.RoleAssistant,
		fmt.Sprintf("Ran `%s %s` (exit %d). %s", tool, proposal.Command, result.ExitCode, resp.Summary))
	s.finishAudit(audit, db.VerdictExecuted, "", started)

	status := http.StatusOK
	if !resp.Success {
		// The command itself failed. The explanation is the payload, but the
		// status still tells non-conversational clients something went wrong.
		status = http.StatusBadRequest
	}
	return resp, status, nil
}

// feedBack appends a correction turn for the model and reports whether
// another round is available.
func (s *Server) feedBack(turns *[]providers.Turn, round int, reason string) bool {
	if round == maxGenerationRounds {
		return false
	}
	*turns = append(*turns, providers.Turn{Role: providers.RoleUser, Text: reason})
	return true
}

// narrateSuccess summarizes stdout through the model, falling back to the raw
// output when the model is unavailable.
func (s *Server) narrateSuccess(ctx context.Context, tool cloudcli.Tool, command, stdout string, hooks *promptHooks) string {
	if hooks != nil && hooks.summaryChunk != nil {
		var sb strings.Builder
		err := s.summarizer.StreamSummary(ctx, string(tool), command, stdout, func(chunk string) {
			sb.WriteString(chunk)
			hooks.summaryChunk(chunk)
		})
		if err == nil && sb.Len() > 0 {
			return sb.String()
		}
		if err != nil {
			s.collector.Inc(metrics.CounterLLMErrors)
			log.Warnf("summary stream failed, returning raw output: %v", err)
		}
		return fallbackSummary(stdout)
	}

	summary, err := s.summarizer.SummarizeSuccess(ctx, string(tool), command, stdout)
	if err != nil {
		s.collector.Inc(metrics.CounterLLMErrors)
		log.Warnf("summarization failed, returning raw output: %v", err)
		return fallbackSummary(stdout)
	}
	return summary
}

// narrateFailure explains stderr through the model, falling back to the raw
// error output when the model is unavailable.
func (s *Server) narrateFailure(ctx context.Context, tool cloudcli.Tool, command, stderr string, exitCode int) string {
	explanation, err := s.summarizer.ExplainFailure(ctx, string(tool), command, stderr, exitCode)
	if err != nil {
		s.collector.Inc(metrics.CounterLLMErrors)
		log.Warnf("failure explanation failed, returning raw stderr: %v", err)
		if strings.TrimSpace(stderr) == "" {
			return fmt.Sprintf("The command failed with exit code %d and produced no error output.", exitCode)
		}
		return ai.CompactOutput(stderr, maxRawOutputBytes)
	}
	return explanation
}

func fallbackSummary(stdout string) string {
	if strings.TrimSpace(stdout) == "" {
		return "The command succeeded and produced no output."
	}
	return ai.CompactOutput(stdout, maxRawOutputBytes)
}

func (s *Server) recordAudit(e *db.AuditEntry) {
	if s.auditDB != nil {
		s.auditDB.RecordAudit(e)
	}
}

func (s *Server) finishAudit(e *db.AuditEntry, verdict, errMsg string, started time.Time) {
	e.Verdict = verdict
	e.ErrorMsg = errMsg
	e.DurationMs = time.Since(started).Milliseconds()
	s.recordAudit(e)
}
