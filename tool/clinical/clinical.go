// Package clinical provides the domain tools used by the research and review
// agents: literature search, namespaced memory search and save, and the
// reviewer-gated summary review.
package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/pubmed"
	"github.com/hupe1980/medmesh/tool"
)

// Tool names as exposed to models.
const (
	SearchPubMedName         = "search_pubmed"
	SearchResearchMemoryName = "search_research_memory"
	SearchPatientHistoryName = "search_patient_history"
	SaveResearchFindingsName = "save_research_findings"
	ReviewSummaryName        = "review_summary"
)

// Sentinel texts returned instead of empty results.
const (
	NoResearchFound       = "No prior research found."
	NoPatientHistoryFound = "No patient conversation history found."
	FindingsSaved         = "Research findings saved."
)

// LiteratureSearcher is the lookup the search_pubmed tool consumes.
// *pubmed.Client implements it.
type LiteratureSearcher interface {
	Lookup(ctx context.Context, term string, maxResults int) ([]pubmed.Article, error)
}

type searchPubMedArgs struct {
	Query      string `json:"query" description:"Disease, condition or clinical question to search for"`
	MaxResults int    `json:"max_results,omitempty" description:"Maximum number of papers to return (default 3)"`
}

// NewSearchPubMed returns the literature search tool. An empty result is
// reported as pubmed.NoResultsMessage, never as an error.
func NewSearchPubMed(searcher LiteratureSearcher) *tool.FunctionTool {
	return tool.NewTypedTool(
		SearchPubMedName,
		"Search PubMed for clinical papers relevant to a disease or condition. Returns titles, authors, journal, and year for the top results.",
		func(tc *core.ToolContext, args searchPubMedArgs) (string, error) {
			articles, err := searcher.Lookup(tc.Context(), args.Query, args.MaxResults)
			if errors.Is(err, pubmed.ErrNoResults) {
				return pubmed.NoResultsMessage, nil
			}
			if err != nil {
				return "", err
			}
			return pubmed.FormatArticles(articles), nil
		},
	)
}

type memorySearchArgs struct {
	Query     string `json:"query" description:"What to look for"`
	PatientID string `json:"patient_id" description:"Identifier of the patient"`
}

// NewSearchResearchMemory searches the research namespace of the patient.
func NewSearchResearchMemory(store core.MemoryStore) *tool.FunctionTool {
	return newMemorySearch(
		store,
		SearchResearchMemoryName,
		"Search past research findings previously saved about a patient's condition",
		core.NamespaceResearch,
		NoResearchFound,
	)
}

// NewSearchPatientHistory searches the patient conversation namespace.
func NewSearchPatientHistory(store core.MemoryStore) *tool.FunctionTool {
	return newMemorySearch(
		store,
		SearchPatientHistoryName,
		"Search the patient's past conversations to understand what they've been told and what they've shared",
		core.NamespacePatient,
		NoPatientHistoryFound,
	)
}

func newMemorySearch(store core.MemoryStore, name, description string, kind core.NamespaceKind, empty string) *tool.FunctionTool {
	return tool.NewTypedTool(name, description, func(tc *core.ToolContext, args memorySearchArgs) (string, error) {
		ns := core.NewNamespace(kind, patientID(tc, args.PatientID))
		results, err := store.Search(tc.Context(), args.Query, ns)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return empty, nil
		}
		return strings.Join(results, "\n"), nil
	})
}

type saveFindingsArgs struct {
	PatientID string `json:"patient_id" description:"Identifier of the patient"`
	Context   string `json:"context" description:"The question or condition the findings answer"`
	Findings  string `json:"findings" description:"The findings to store"`
}

// NewSaveResearchFindings stores a context/findings pair in the research
// namespace of the patient.
func NewSaveResearchFindings(store core.MemoryStore) *tool.FunctionTool {
	return tool.NewTypedTool(
		SaveResearchFindingsName,
		"Save research findings about a patient's condition to memory",
		func(tc *core.ToolContext, args saveFindingsArgs) (string, error) {
			ns := core.ResearchNamespace(patientID(tc, args.PatientID))
			if err := store.Add(tc.Context(), ns, core.Exchange{Query: args.Context, Response: args.Findings}); err != nil {
				return "", err
			}
			return FindingsSaved, nil
		},
	)
}

// ReviewArgs are the arguments of review_summary. Drivers decode them to show
// the summary to the reviewer.
type ReviewArgs struct {
	Summary   string `json:"summary" description:"Technical summary to be reviewed"`
	PatientID string `json:"patient_id" description:"Identifier of the patient"`
}

// ReviewOutput is the text review_summary returns once approved.
func ReviewOutput(summary, patientID string) string {
	return fmt.Sprintf("Patient ID: %s, Patient Summary: '%s'", patientID, summary)
}

// NewReviewSummary returns the reviewer-gated tool. It never runs before a
// reviewer approved the call; a rejection replaces its output.
func NewReviewSummary() *tool.FunctionTool {
	return tool.NewTypedTool(
		ReviewSummaryName,
		"Pause for human review of the technical summary before it reaches the patient.",
		func(_ *core.ToolContext, args ReviewArgs) (string, error) {
			return ReviewOutput(args.Summary, args.PatientID), nil
		},
		tool.WithApproval(),
	)
}

// patientID prefers the patient of the run so a model cannot reach into
// another patient's namespace.
func patientID(tc *core.ToolContext, fromArgs string) string {
	id := tc.PatientID()
	if id == "" {
		return fromArgs
	}
	if fromArgs != "" && fromArgs != id {
		tc.LogWarn("clinical.patient_id.mismatch", "argument", fromArgs, "run", id)
	}
	return id
}
