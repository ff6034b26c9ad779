package clinical

import (
	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/tool"
)

// Toolset groups the clinical tools so agent definitions can pick from a
// single instance sharing one memory store and searcher.
type Toolset struct {
	SearchPubMed         tool.Tool
	SearchResearchMemory tool.Tool
	SearchPatientHistory tool.Tool
	SaveResearchFindings tool.Tool
	ReviewSummary        tool.Tool
}

// NewToolset builds every clinical tool. When retry is non-nil the read
// tools backed by external services are wrapped with tool.WithRetry.
// save_research_findings is not: a write that timed out after the backend
// stored it would be stored twice.
func NewToolset(searcher LiteratureSearcher, store core.MemoryStore, retry *tool.RetryConfig) Toolset {
	wrap := func(t tool.Tool) tool.Tool {
		if retry == nil || retry.MaxRetries <= 0 {
			return t
		}
		return tool.WithRetry(t, *retry)
	}
	return Toolset{
		SearchPubMed:         wrap(NewSearchPubMed(searcher)),
		SearchResearchMemory: wrap(NewSearchResearchMemory(store)),
		SearchPatientHistory: wrap(NewSearchPatientHistory(store)),
		SaveResearchFindings: NewSaveResearchFindings(store),
		ReviewSummary:        NewReviewSummary(),
	}
}

// All returns every tool in declaration order.
func (ts Toolset) All() []tool.Tool {
	return []tool.Tool{
		ts.SearchPubMed,
		ts.SearchResearchMemory,
		ts.SearchPatientHistory,
		ts.SaveResearchFindings,
		ts.ReviewSummary,
	}
}
