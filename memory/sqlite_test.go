package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/medmesh/core"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AddSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	patient := core.PatientNamespace("p1")

	require.NoError(t, s.Add(ctx, patient, core.Exchange{Query: "I was diagnosed with Fabry disease", Response: "Thank you for sharing."}))
	require.NoError(t, s.Add(ctx, core.ResearchNamespace("p1"), core.Exchange{Query: "Fabry", Response: "Enzyme replacement therapy"}))

	got, err := s.Search(ctx, "Fabry disease?", patient)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "diagnosed with Fabry disease")

	got, err = s.Search(ctx, "migraine", patient)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewSQLiteStore(SQLiteConfig{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, core.ResearchNamespace("p9"), core.Exchange{Query: "asthma", Response: "inhaled corticosteroids"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(SQLiteConfig{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Search(ctx, "corticosteroids", core.ResearchNamespace("p9"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_QuerySyntaxIsNeutralised(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Search(context.Background(), `NEAR( "unbalanced * OR`, core.PatientNamespace("p1"))
	assert.NoError(t, err)
}

func TestSanitizeFTS(t *testing.T) {
	assert.Equal(t, `"fabry" OR "disease"`, sanitizeFTS(`fabry "disease"?`))
	assert.Equal(t, "", sanitizeFTS(` ?! `))
}

func TestSQLiteStore_ClosedDBIsBackendError(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Add(context.Background(), core.PatientNamespace("p1"), core.Exchange{Query: "q", Response: "r"})
	assert.True(t, core.IsMemoryBackendError(err))
}
