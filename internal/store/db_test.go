package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "spp.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveModelUpsertsByHash(t *testing.T) {
	db := openTestDB(t)

	first := &Model{Name: "initial", Source: "upload", DumpSHA256: "abc", DumpText: "J48 pruned tree", Leaves: 2, Size: 3}
	first.SetLabels([]string{"FAIL", "PASS"})
	stored, err := db.SaveModel(first)
	require.NoError(t, err)
	require.NotZero(t, stored.ID)

	again, err := db.SaveModel(&Model{Name: "renamed", Source: "file", DumpSHA256: "abc", DumpText: "J48 pruned tree"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, "renamed", again.Name)
	assert.Equal(t, []string{"FAIL", "PASS"}, again.Labels())

	models, total, err := db.ListModels(0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, models, 1)
	assert.Empty(t, models[0].DumpText)
}

func TestActivateModel(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ActiveModel()
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	a, err := db.SaveModel(&Model{Name: "a", DumpSHA256: "a"})
	require.NoError(t, err)
	b, err := db.SaveModel(&Model{Name: "b", DumpSHA256: "b"})
	require.NoError(t, err)

	require.NoError(t, db.ActivateModel(a.ID))
	require.NoError(t, db.ActivateModel(b.ID))
	active, err := db.ActiveModel()
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	reloaded, err := db.GetModel(a.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Active)

	assert.ErrorIs(t, db.ActivateModel(999), gorm.ErrRecordNotFound)
}

func TestBatchLifecycle(t *testing.T) {
	db := openTestDB(t)

	batch, err := db.CreateBatch("spring", "spring.csv", 3, 1)
	require.NoError(t, err)
	rows := []BatchStudent{
		{StudentID: 1, StudyHours: 4, Attendance: 60, Participation: 2, RowIndex: 1},
		{StudentID: 2, StudyHours: 16, Attendance: 90, Participation: 8, RowIndex: 2},
		{StudentID: 3, StudyHours: 11, Attendance: 75, Participation: 4, RowIndex: 3},
	}
	require.NoError(t, db.ReplaceBatchStudents(batch.ID, rows))

	count, err := db.CountBatchStudents(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, p := range []Prediction{
		{ModelID: 7, BatchID: batch.ID, RowIndex: 1, StudentID: 1, Label: "FAIL", Confidence: 0.9},
		{ModelID: 7, BatchID: batch.ID, RowIndex: 2, StudentID: 2, Label: "PASS", Confidence: 0.8},
		{ModelID: 7, BatchID: batch.ID, RowIndex: 2, StudentID: 2, Label: "PASS", Confidence: 0.7},
		{ModelID: 8, BatchID: batch.ID, RowIndex: 3, StudentID: 3, Label: "PASS", Confidence: 0.6},
	} {
		p := p
		require.NoError(t, db.SavePrediction(&p))
	}

	done, err := db.CountBatchResults(batch.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	status, err := db.ListBatchStudentsForEval(batch.ID, 7, 0, 10)
	require.NoError(t, err)
	require.Len(t, status, 3)
	assert.True(t, status[0].HasResult)
	assert.True(t, status[1].HasResult)
	assert.False(t, status[2].HasResult)
	assert.Equal(t, 3, status[2].StudentID)

	preds, total, err := db.ListPredictions(PredictionQuery{BatchID: batch.ID, ModelID: 7, Sort: "student_asc"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, preds, 2)
	assert.Equal(t, 0.7, preds[1].Confidence)

	require.NoError(t, db.UpdateBatchProcessingInfo(batch.ID, 7))
	reloaded, err := db.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.ProcessedStudents)
	assert.NotNil(t, reloaded.LastEvaluatedAt)

	req, err := db.CreateBatchRequest(batch.ID, 7, "initial", "running", "job-1")
	require.NoError(t, err)
	require.NoError(t, db.UpdateBatchRequest(req.ID, "completed"))
	finished, err := db.GetBatchRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", finished.Status)
	assert.NotNil(t, finished.FinishedAt)
}

func TestBatchKeepsRepeatedStudentIDs(t *testing.T) {
	db := openTestDB(t)

	batch, err := db.CreateBatch("dupes", "dupes.csv", 2, 0)
	require.NoError(t, err)
	require.NoError(t, db.ReplaceBatchStudents(batch.ID, []BatchStudent{
		{StudentID: 7, StudyHours: 4, Attendance: 60, Participation: 2, RowIndex: 1},
		{StudentID: 7, StudyHours: 16, Attendance: 90, Participation: 8, RowIndex: 2},
	}))
	for _, p := range []Prediction{
		{ModelID: 1, BatchID: batch.ID, RowIndex: 1, StudentID: 7, Label: "FAIL"},
		{ModelID: 1, BatchID: batch.ID, RowIndex: 2, StudentID: 7, Label: "PASS"},
	} {
		p := p
		require.NoError(t, db.SavePrediction(&p))
	}

	done, err := db.CountBatchResults(batch.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	status, err := db.ListBatchStudentsForEval(batch.ID, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.True(t, status[0].HasResult)
	assert.True(t, status[1].HasResult)

	_, total, err := db.ListPredictions(PredictionQuery{BatchID: batch.ID, ModelID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestAdHocPredictionsAccumulate(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 2; i++ {
		p := &Prediction{ModelID: 1, StudentID: 5, Label: "pass"}
		p.SetPath([]map[string]any{{"attribute": "x"}})
		require.NoError(t, db.SavePrediction(p))
	}
	preds, total, err := db.ListPredictions(PredictionQuery{StudentID: 5, Label: "pass"})
	require.NoError(t, err)
	// labels are stored as given; filtering upper-cases the query
	assert.EqualValues(t, 0, total)
	assert.Empty(t, preds)

	_, total, err = db.ListPredictions(PredictionQuery{StudentID: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestSummaries(t *testing.T) {
	db := openTestDB(t)
	for _, p := range []Prediction{
		{ModelID: 1, StudentID: 1, Label: "PASS", Confidence: 0.8, PathJSON: `["a"]`, Reached: "PASS"},
		{ModelID: 1, StudentID: 2, Label: "PASS", Confidence: 0.6, PathJSON: `["a"]`, Reached: "PASS"},
		{ModelID: 1, StudentID: 3, Label: "FAIL", Confidence: 0.9, PathJSON: `["b"]`, Reached: "FAIL"},
		{ModelID: 2, StudentID: 4, Label: "FAIL", Confidence: 0.9, PathJSON: `["c"]`, Reached: "FAIL"},
	} {
		p := p
		require.NoError(t, db.SavePrediction(&p))
	}

	labels, err := db.LabelCounts(0, 1)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "PASS", labels[0].Label)
	assert.Equal(t, 2, labels[0].Total)
	assert.InDelta(t, 0.7, labels[0].AvgConfidence, 1e-9)

	paths, err := db.TopPaths(0, 1, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, `["a"]`, paths[0].PathJSON)
	assert.Equal(t, 2, paths[0].Total)
}
