package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/medmesh/core"
)

func TestInMemoryStore_RankingAndNamespaces(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	patient := core.PatientNamespace("p1")
	research := core.ResearchNamespace("p1")

	require.NoError(t, s.Add(ctx, patient, core.Exchange{Query: "I have asthma", Response: "Noted."}))
	require.NoError(t, s.Add(ctx, patient, core.Exchange{Query: "My asthma is worse at night", Response: "Night asthma is common."}))
	require.NoError(t, s.Add(ctx, research, core.Exchange{Query: "asthma", Response: "ICS first line"}))

	got, err := s.Search(ctx, "asthma at night", patient)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "worse at night", "better overlap ranks first")

	none, err := s.Search(ctx, "diabetes", patient)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	other, err := s.Search(ctx, "asthma", core.PatientNamespace("p2"))
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.Equal(t, 1, s.Len(research))
}

func TestInMemoryStore_EmptyQueryAndCancelledContext(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Search(context.Background(), "   ", core.PatientNamespace("p1"))
	require.NoError(t, err)
	assert.Empty(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, "x", core.PatientNamespace("p1"))
	assert.True(t, core.IsMemoryBackendError(err))
}
