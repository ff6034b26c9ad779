package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/medmesh/agent"
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/engine"
	"github.com/hupe1980/medmesh/internal/testutil"
	"github.com/hupe1980/medmesh/model"
	"github.com/hupe1980/medmesh/tool"
)

// --- fixtures ---

type fixture struct {
	orchestrator *agent.ModelAgent
	orchModel    *model.ScriptedModel
	phdModel     *model.ScriptedModel
	reviewCalls  atomic.Int32

	mu     sync.Mutex
	before []string
	after  []string
}

func newFixture(orch []core.Content, phd []core.Content) *fixture {
	f := &fixture{
		orchModel: model.NewScriptedModel("orch", orch...),
		phdModel:  model.NewScriptedModel("phd", phd...),
	}
	review := tool.NewFunctionTool("review", "Review a summary",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"summary": map[string]any{"type": "string"}},
			"required":   []string{"summary"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			f.reviewCalls.Add(1)
			return "approved: " + args["summary"].(string), nil
		},
		tool.WithApproval(),
	)
	phdAgent := agent.NewModelAgent("phd", f.phdModel, func(o *agent.Options) {
		o.Tools = []tool.Tool{review}
	})
	f.orchestrator = agent.NewModelAgent("orchestrator", f.orchModel, func(o *agent.Options) {
		o.Tools = []tool.Tool{agent.AsTool(phdAgent, "phd_agent", "Synthesise and review")}
	})
	return f
}

func (f *fixture) callbacks() []engine.Callback {
	record := func(dst *[]string) func(context.Context, *engine.CallbackContext) error {
		return func(_ context.Context, cc *engine.CallbackContext) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			*dst = append(*dst, cc.AgentID)
			return nil
		}
	}
	return []engine.Callback{
		engine.NewFunctionCallback(engine.CallbackBeforeAgent, record(&f.before)),
		engine.NewFunctionCallback(engine.CallbackAfterAgent, record(&f.after)),
	}
}

func (f *fixture) runner(optFns ...func(o *Options)) *Runner {
	return New(append([]func(o *Options){func(o *Options) { o.Callbacks = f.callbacks() }}, optFns...)...)
}

func reviewFixture() *fixture {
	return newFixture(
		[]core.Content{
			testutil.Delegate("d1", "phd_agent", "Fabry disease"),
			core.NewAssistantContent(""),
		},
		[]core.Content{
			testutil.NewContentBuilder().CallWithID("r1", "review", map[string]any{"summary": "ERT"}).Build(),
			testutil.Say("Reviewed summary: ERT"),
		},
	)
}

func lastResponse(t *testing.T, req model.Request) core.FunctionResponse {
	t.Helper()
	require.NotEmpty(t, req.Contents)
	responses := req.Contents[len(req.Contents)-1].FunctionResponses()
	require.Len(t, responses, 1)
	return responses[0]
}

// --- completion ---

func TestRun_Completes(t *testing.T) {
	f := newFixture([]core.Content{testutil.Say("Hello! What condition do you have?")}, nil)
	res, err := f.runner().Run(context.Background(), f.orchestrator, Input{
		SessionID: "s1",
		History:   []core.Content{core.NewUserContent("earlier"), core.NewAssistantContent("reply")},
		Message:   "Please greet the patient",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Hello! What condition do you have?", res.Output)
	assert.Empty(t, res.Interruptions)
	assert.Len(t, res.History, 4)
	assert.Len(t, res.NewItems, 1)
	assert.Equal(t, []string{"orchestrator"}, f.before)
	assert.Equal(t, []string{"orchestrator"}, f.after)

	req := f.orchModel.Requests()[0]
	assert.Equal(t, "Please greet the patient", req.Contents[2].Text())
	assert.Len(t, req.Tools, 1)
}

func TestRun_FallsBackToLastToolResult(t *testing.T) {
	f := newFixture(
		[]core.Content{testutil.Delegate("d1", "phd_agent", "hi"), core.NewAssistantContent("")},
		[]core.Content{testutil.Say("nested answer")},
	)
	res, err := f.runner().Run(context.Background(), f.orchestrator, Input{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "nested answer", res.Output)
	assert.Equal(t, []string{"orchestrator", "phd"}, f.before)
	assert.Equal(t, []string{"phd", "orchestrator"}, f.after)
}

// --- interruptions ---

func TestRun_ApproveResumes(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{SessionID: "s1", Message: "Fabry disease"})
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingApproval, res.Status)
	require.Len(t, res.Interruptions, 1)

	in := res.Interruptions[0]
	assert.Equal(t, "r1", in.CallID)
	assert.Equal(t, "review", in.ToolName)
	assert.Equal(t, "phd", in.Agent)
	assert.JSONEq(t, `{"summary":"ERT"}`, in.Arguments)
	assert.Zero(t, f.reviewCalls.Load())
	assert.Empty(t, f.after, "after_agent never fires for a paused run")

	require.NoError(t, res.State.Approve("r1"))
	res, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Reviewed summary: ERT", res.Output)
	assert.Equal(t, int32(1), f.reviewCalls.Load())
	assert.Equal(t, "approved: ERT", lastResponse(t, f.phdModel.Requests()[1]).Response)
	assert.Equal(t, 2, f.orchModel.Calls())
	assert.Equal(t, 4, res.State.ModelCalls)

	assert.Equal(t, []string{"orchestrator", "phd"}, f.before, "resume does not re-enter scopes")
	assert.Equal(t, []string{"phd", "orchestrator"}, f.after)
}

func TestRun_RejectSubstitutesMessage(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	require.NoError(t, err)
	require.NoError(t, res.State.Reject("r1", "Not accurate enough."))

	_, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)

	assert.Zero(t, f.reviewCalls.Load())
	resp := lastResponse(t, f.phdModel.Requests()[1])
	assert.Equal(t, "Not accurate enough.", resp.Response)
	assert.Empty(t, resp.Error)
}

func TestRun_AmbiguousDecisionRejects(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	require.NoError(t, err)
	require.NoError(t, res.State.Decide("r1", "maybe later"))

	_, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultRejectionMessage, lastResponse(t, f.phdModel.Requests()[1]).Response)
}

func TestRun_ResumeFromSerializedState(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{
		Message: "Fabry disease",
		Values:  map[string]any{core.StateKeyPatientID: "p1"},
	})
	require.NoError(t, err)

	data, err := res.State.Marshal()
	require.NoError(t, err)
	st, err := UnmarshalRunState(data)
	require.NoError(t, err)
	assert.Equal(t, "p1", st.Values[core.StateKeyPatientID])
	require.Contains(t, st.Root.Children, "d1")

	require.NoError(t, st.Decide("r1", " Y "))
	res, err = r.Resume(context.Background(), f.orchestrator, st)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int32(1), f.reviewCalls.Load())
	assert.Empty(t, res.State.Root.Children)
}

func TestResume_Errors(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	require.NoError(t, err)

	_, err = r.Resume(context.Background(), f.orchestrator, res.State)
	assert.ErrorIs(t, err, ErrUnresolvedInterruption)

	assert.ErrorIs(t, res.State.Approve("nope"), ErrUnknownInterruption)

	require.NoError(t, res.State.Approve("r1"))
	other := agent.NewModelAgent("other", model.NewScriptedModel("x"))
	_, err = r.Resume(context.Background(), other, res.State)
	assert.ErrorIs(t, err, ErrAgentMismatch)

	done, err := r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)
	_, err = r.Resume(context.Background(), f.orchestrator, done.State)
	assert.ErrorIs(t, err, ErrRunNotPaused)
	assert.ErrorIs(t, done.State.Approve("r1"), ErrRunNotPaused)
}

func TestResume_LeavesInputStateUntouched(t *testing.T) {
	f := reviewFixture()
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	require.NoError(t, err)
	require.NoError(t, res.State.Approve("r1"))

	_, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingApproval, res.State.Status)
	assert.Contains(t, res.State.Root.Children, "d1")
}

func TestRun_NestedApprovalPausesAgain(t *testing.T) {
	f := newFixture(
		[]core.Content{
			testutil.Delegate("d1", "phd_agent", "Fabry disease"),
			testutil.Say("Final answer"),
		},
		[]core.Content{
			testutil.NewContentBuilder().CallWithID("r1", "review", map[string]any{"summary": "ERT"}).Build(),
			testutil.NewContentBuilder().CallWithID("r2", "review", map[string]any{"summary": "ERT and chaperones"}).Build(),
			testutil.Say("Reviewed twice"),
		},
	)
	r := f.runner()

	res, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	require.NoError(t, err)
	require.NoError(t, res.State.Approve("r1"))

	res, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingApproval, res.Status)
	require.Len(t, res.Interruptions, 1)
	assert.Equal(t, "r2", res.Interruptions[0].CallID)
	assert.Equal(t, "phd", res.Interruptions[0].Agent)
	assert.Equal(t, []core.Interruption{res.Interruptions[0]}, res.State.Pending(), "the earlier decision does not cover the new call")
	assert.Equal(t, int32(1), f.reviewCalls.Load())
	assert.Empty(t, f.after)

	_, err = r.Resume(context.Background(), f.orchestrator, res.State)
	assert.ErrorIs(t, err, ErrUnresolvedInterruption)

	require.NoError(t, res.State.Approve("r2"))
	res, err = r.Resume(context.Background(), f.orchestrator, res.State)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Final answer", res.Output)
	assert.Equal(t, int32(2), f.reviewCalls.Load())
	assert.Equal(t, "approved: ERT and chaperones", lastResponse(t, f.phdModel.Requests()[2]).Response)
	assert.Equal(t, "Reviewed twice", lastResponse(t, f.orchModel.Requests()[1]).Response)
	assert.Equal(t, []string{"orchestrator", "phd"}, f.before, "each scope is entered once across both pauses")
	assert.Equal(t, []string{"phd", "orchestrator"}, f.after)
}

func TestRun_ParallelDelegatesPauseTogether(t *testing.T) {
	var reviewed atomic.Int32
	reviewer := func(name string, m *model.ScriptedModel) tool.Tool {
		review := tool.NewFunctionTool("review", "Review a summary", nil,
			func(_ *core.ToolContext, args map[string]any) (any, error) {
				reviewed.Add(1)
				return "approved: " + args["summary"].(string), nil
			},
			tool.WithApproval(),
		)
		a := agent.NewModelAgent(name, m, func(o *agent.Options) { o.Tools = []tool.Tool{review} })
		return agent.AsTool(a, name+"_agent", "Review "+name)
	}

	cardio := model.NewScriptedModel("cardio",
		testutil.NewContentBuilder().CallWithID("c1", "review", map[string]any{"summary": "cardiac"}).Build(),
		testutil.Say("cardio done"),
	)
	neuro := model.NewScriptedModel("neuro",
		testutil.NewContentBuilder().CallWithID("n1", "review", map[string]any{"summary": "neuro"}).Build(),
		testutil.Say("neuro done"),
	)
	orchModel := model.NewScriptedModel("orch",
		testutil.NewContentBuilder().
			CallWithID("d1", "cardio_agent", map[string]any{"input": "heart"}).
			CallWithID("d2", "neuro_agent", map[string]any{"input": "nerves"}).
			Build(),
		testutil.Say("combined"),
	)
	orch := agent.NewModelAgent("orchestrator", orchModel, func(o *agent.Options) {
		o.Tools = []tool.Tool{reviewer("cardio", cardio), reviewer("neuro", neuro)}
	})
	r := New()

	res, err := r.Run(context.Background(), orch, Input{Message: "Fabry disease"})
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingApproval, res.Status)
	require.Len(t, res.Interruptions, 2)
	assert.Equal(t, "c1", res.Interruptions[0].CallID)
	assert.Equal(t, "cardio", res.Interruptions[0].Agent)
	assert.Equal(t, "n1", res.Interruptions[1].CallID)
	assert.Equal(t, "neuro", res.Interruptions[1].Agent)
	assert.Contains(t, res.State.Root.Children, "d1")
	assert.Contains(t, res.State.Root.Children, "d2")

	require.NoError(t, res.State.Approve("c1"))
	_, err = r.Resume(context.Background(), orch, res.State)
	assert.ErrorIs(t, err, ErrUnresolvedInterruption, "one decision is not enough")

	require.NoError(t, res.State.Reject("n1", "Not for this patient."))
	res, err = r.Resume(context.Background(), orch, res.State)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "combined", res.Output)
	assert.Equal(t, int32(1), reviewed.Load())
	assert.Equal(t, "approved: cardiac", lastResponse(t, cardio.Requests()[1]).Response)
	assert.Equal(t, "Not for this patient.", lastResponse(t, neuro.Requests()[1]).Response)

	responses := orchModel.Requests()[1].Contents[2].FunctionResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, "d1", responses[0].ID)
	assert.Equal(t, "cardio done", responses[0].Response)
	assert.Equal(t, "d2", responses[1].ID)
	assert.Equal(t, "neuro done", responses[1].Response)
	assert.Empty(t, res.State.Root.Children)
}

// --- failures ---

func TestRun_MaxModelCalls(t *testing.T) {
	f := reviewFixture()
	var failed atomic.Bool
	r := f.runner(func(o *Options) {
		o.MaxModelCalls = 1
		o.Callbacks = append(o.Callbacks, engine.NewFunctionCallback(engine.CallbackOnError, func(context.Context, *engine.CallbackContext) error {
			failed.Store(true)
			return nil
		}))
	})

	_, err := r.Run(context.Background(), f.orchestrator, Input{Message: "Fabry disease"})
	assert.ErrorIs(t, err, ErrMaxModelCalls)
	assert.True(t, failed.Load())
}

func TestRun_ModelFailureInDelegateAborts(t *testing.T) {
	f := newFixture([]core.Content{testutil.Delegate("d1", "phd_agent", "x"), testutil.Say("unreachable")}, nil)
	_, err := f.runner().Run(context.Background(), f.orchestrator, Input{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent phd: model call failed")
	assert.Equal(t, 1, f.orchModel.Calls())
}

func TestRun_UnknownToolBecomesErrorResponse(t *testing.T) {
	f := newFixture([]core.Content{
		testutil.NewContentBuilder().CallWithID("u1", "nope", map[string]any{}).Build(),
		testutil.Say("recovered"),
	}, nil)
	res, err := f.runner().Run(context.Background(), f.orchestrator, Input{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Output)

	resp := lastResponse(t, f.orchModel.Requests()[1])
	assert.Contains(t, resp.Error, "NOT_FOUND")
	assert.Equal(t, "u1", resp.ID)
}

func TestRun_ParallelResultsKeepCallOrder(t *testing.T) {
	slow := tool.NewFunctionTool("slow", "slow", nil, func(*core.ToolContext, map[string]any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow", nil
	})
	fast := tool.NewFunctionTool("fast", "fast", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return "fast", nil
	})
	m := model.NewScriptedModel("m",
		testutil.NewContentBuilder().Call("slow", nil).Call("fast", nil).Call("slow", nil).Build(),
		testutil.Say("done"),
	)
	a := agent.NewModelAgent("worker", m, func(o *agent.Options) { o.Tools = []tool.Tool{slow, fast} })

	_, err := New().Run(context.Background(), a, Input{Message: "go"})
	require.NoError(t, err)

	responses := m.Requests()[1].Contents[2].FunctionResponses()
	require.Len(t, responses, 3)
	got := make([]string, len(responses))
	for i, r := range responses {
		got[i] = r.Response.(string)
	}
	assert.Equal(t, []string{"slow", "fast", "slow"}, got)
}

func TestRun_AssignsMissingCallIDs(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "echo", nil, func(*core.ToolContext, map[string]any) (any, error) { return "ok", nil })
	m := model.NewScriptedModel("m",
		core.NewFunctionCallContent(core.FunctionCall{Name: "echo", Arguments: "{}"}),
		testutil.Say("done"),
	)
	a := agent.NewModelAgent("worker", m, func(o *agent.Options) { o.Tools = []tool.Tool{echo} })

	res, err := New().Run(context.Background(), a, Input{Message: "go"})
	require.NoError(t, err)

	call := res.NewItems[0].FunctionCalls()[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, call.ID, res.NewItems[1].FunctionResponses()[0].ID)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture([]core.Content{testutil.Say("x")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.runner().Run(ctx, f.orchestrator, Input{Message: "x"})
	assert.True(t, errors.Is(err, context.Canceled))
}

// --- output ---

func TestFinalOutput(t *testing.T) {
	items := []core.Content{
		core.NewFunctionResponseContent(core.FunctionResponse{ID: "0", Name: "a", Response: "before offset"}),
		core.NewFunctionResponseContent(
			core.FunctionResponse{ID: "1", Name: "a", Response: "first"},
			core.FunctionResponse{ID: "2", Name: "b", Response: "second"},
		),
		core.NewFunctionResponseContent(
			core.FunctionResponse{ID: "3", Name: "c", Error: "boom"},
			core.FunctionResponse{ID: "4", Name: "d", Response: map[string]any{"k": 1}},
		),
		core.NewAssistantContent(""),
	}
	assert.Equal(t, "second", FinalOutput(items, 1))
	assert.Equal(t, "", FinalOutput(items, 2))
	assert.Equal(t, "before offset", FinalOutput(items[:1], 0))
}
