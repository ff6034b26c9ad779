package clinical

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/internal/testutil"
	"github.com/hupe1980/medmesh/pubmed"
	"github.com/hupe1980/medmesh/tool"
)

type fakeSearcher struct {
	articles []pubmed.Article
	err      error
	gotTerm  string
	gotMax   int
}

func (f *fakeSearcher) Lookup(_ context.Context, term string, maxResults int) ([]pubmed.Article, error) {
	f.gotTerm, f.gotMax = term, maxResults
	return f.articles, f.err
}

func toolCtx(patientID, name string) *core.ToolContext {
	state := core.NewSharedState(map[string]any{core.StateKeyPatientID: patientID})
	rc := core.NewRunContext(context.Background(), "s1", "r1", core.AgentInfo{Name: "research"}, state, nil)
	return core.NewToolContext(rc, core.FunctionCall{ID: "call_1", Name: name})
}

func TestSearchPubMed(t *testing.T) {
	t.Run("formats results", func(t *testing.T) {
		s := &fakeSearcher{articles: []pubmed.Article{{PMID: "1", Title: "T", Authors: []string{"A"}, Journal: "J", PubDate: "2020"}}}
		out, err := NewSearchPubMed(s).Call(toolCtx("p1", SearchPubMedName), map[string]any{"query": "Fabry"})
		require.NoError(t, err)
		assert.Equal(t, "PMID 1: T\n  A — J (2020)", out)
		assert.Equal(t, "Fabry", s.gotTerm)
		assert.Equal(t, 0, s.gotMax)
	})

	t.Run("no results sentinel", func(t *testing.T) {
		s := &fakeSearcher{err: pubmed.ErrNoResults}
		out, err := NewSearchPubMed(s).Call(toolCtx("p1", SearchPubMedName), map[string]any{"query": "zzz", "max_results": float64(5)})
		require.NoError(t, err)
		assert.Equal(t, pubmed.NoResultsMessage, out)
		assert.Equal(t, 5, s.gotMax)
	})

	t.Run("backend failure", func(t *testing.T) {
		s := &fakeSearcher{err: &pubmed.HTTPError{Endpoint: "esearch.fcgi", StatusCode: 500}}
		_, err := NewSearchPubMed(s).Call(toolCtx("p1", SearchPubMedName), map[string]any{"query": "x"})
		var toolErr *tool.ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, tool.CodeExecution, toolErr.Code)
	})

	t.Run("missing query", func(t *testing.T) {
		_, err := NewSearchPubMed(&fakeSearcher{}).Call(toolCtx("p1", SearchPubMedName), map[string]any{})
		var toolErr *tool.ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, tool.CodeValidation, toolErr.Code)
	})
}

func TestMemoryTools_NamespaceIsolation(t *testing.T) {
	store := testutil.NewRecordingStore()
	ts := NewToolset(&fakeSearcher{}, store, nil)

	out, err := ts.SaveResearchFindings.Call(toolCtx("p1", SaveResearchFindingsName), map[string]any{
		"patient_id": "p1", "context": "Fabry disease", "findings": "ERT with agalsidase beta",
	})
	require.NoError(t, err)
	assert.Equal(t, FindingsSaved, out)
	require.Len(t, store.Adds(core.ResearchNamespace("p1")), 1)

	out, err = ts.SearchResearchMemory.Call(toolCtx("p1", SearchResearchMemoryName), map[string]any{"query": "agalsidase", "patient_id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Fabry disease\nERT with agalsidase beta", out)

	out, err = ts.SearchPatientHistory.Call(toolCtx("p1", SearchPatientHistoryName), map[string]any{"query": "agalsidase", "patient_id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, NoPatientHistoryFound, out)

	out, err = ts.SearchResearchMemory.Call(toolCtx("p2", SearchResearchMemoryName), map[string]any{"query": "agalsidase", "patient_id": "p2"})
	require.NoError(t, err)
	assert.Equal(t, NoResearchFound, out)
}

func TestMemoryTools_RunPatientWins(t *testing.T) {
	store := testutil.NewRecordingStore()
	_, err := NewSearchPatientHistory(store).Call(toolCtx("p1", SearchPatientHistoryName), map[string]any{"query": "q", "patient_id": "p2"})
	require.NoError(t, err)

	searches := store.Searches()
	require.Len(t, searches, 1)
	assert.Equal(t, core.PatientNamespace("p1"), searches[0].Namespace)
}

func TestMemoryTools_BackendErrorRetried(t *testing.T) {
	store := testutil.NewRecordingStore()
	store.SearchErr = errors.New("unreachable")
	cfg := tool.RetryConfig{MaxRetries: 2}
	ts := NewToolset(&fakeSearcher{}, store, &cfg)

	_, err := ts.SearchResearchMemory.Call(toolCtx("p1", SearchResearchMemoryName), map[string]any{"query": "q", "patient_id": "p1"})
	require.Error(t, err)
	assert.True(t, core.IsMemoryBackendError(err))
	assert.Len(t, store.Searches(), 3)
}

func TestMemoryTools_SaveIsNotRetried(t *testing.T) {
	store := testutil.NewRecordingStore()
	store.AddErr = errors.New("timeout")
	cfg := tool.RetryConfig{MaxRetries: 2}
	ts := NewToolset(&fakeSearcher{}, store, &cfg)

	_, err := ts.SaveResearchFindings.Call(toolCtx("p1", SaveResearchFindingsName), map[string]any{
		"patient_id": "p1", "context": "Fabry disease", "findings": "ERT",
	})
	require.Error(t, err)
	assert.True(t, core.IsMemoryBackendError(err))
	assert.Len(t, store.Adds(), 1)
}

func TestReviewSummary(t *testing.T) {
	ts := NewToolset(&fakeSearcher{}, testutil.NewRecordingStore(), &tool.RetryConfig{MaxRetries: 1})
	assert.True(t, tool.NeedsApproval(ts.ReviewSummary))
	assert.False(t, tool.NeedsApproval(ts.SearchPubMed))

	out, err := ts.ReviewSummary.Call(toolCtx("p1", ReviewSummaryName), map[string]any{"summary": "ERT is first line", "patient_id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Patient ID: p1, Patient Summary: 'ERT is first line'", out)
	assert.Len(t, ts.All(), 5)
}
