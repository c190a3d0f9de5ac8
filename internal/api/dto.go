package api

import (
	"strings"
	"time"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/classifier"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/predict"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/store"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
)

// ParseRequest carries a tree dump to parse without storing it.
type ParseRequest struct {
	Dump string `json:"dump"`
}

// ParseResponse is the parsed tree with its counts.
type ParseResponse struct {
	Tree   *tree.Branch `json:"tree"`
	Leaves int          `json:"leaves"`
	Size   int          `json:"size"`
	Labels []string     `json:"labels"`
}

// CreateModelRequest stores a tree dump as a model.
type CreateModelRequest struct {
	Name     string `json:"name"`
	Dump     string `json:"dump"`
	Activate bool   `json:"activate"`
}

// ModelDTO is the API representation of a stored model.
type ModelDTO struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	SHA256    string    `json:"sha256"`
	Leaves    int       `json:"leaves"`
	Size      int       `json:"size"`
	Labels    []string  `json:"labels"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelsResponse is the paginated response for models.
type ModelsResponse struct {
	Items []ModelDTO `json:"items"`
	Total int64      `json:"total"`
}

// ModelTreeResponse returns a stored model's tree.
type ModelTreeResponse struct {
	Model ModelDTO     `json:"model"`
	Tree  *tree.Branch `json:"tree"`
	Text  string       `json:"text"`
}

// ExplainRequest asks for the explanation of an already predicted label.
// The tree is taken from Dump when set, else from ModelID, else from the
// active model.
type ExplainRequest struct {
	ModelID uint            `json:"model_id"`
	Dump    string          `json:"dump"`
	Record  features.Record `json:"record"`
	Label   string          `json:"label"`
}

// ExplainResponse wraps the rendered explanation.
type ExplainResponse struct {
	ModelID uint             `json:"model_id,omitempty"`
	Label   string           `json:"label"`
	Text    string           `json:"text"`
	Path    []tree.Condition `json:"path"`
	Reached string           `json:"reached,omitempty"`
}

// PredictRequest scores one student against a model (the active one when
// ModelID is zero).
type PredictRequest struct {
	ModelID uint           `json:"model_id"`
	Student features.Input `json:"student"`
}

// PredictionDTO is the API representation for a persisted prediction.
type PredictionDTO struct {
	ID               uint                    `json:"id"`
	ModelID          uint                    `json:"model_id"`
	BatchID          uint                    `json:"batch_id,omitempty"`
	Student          features.Input          `json:"student"`
	Label            string                  `json:"label"`
	Confidence       float64                 `json:"confidence"`
	Reached          string                  `json:"reached,omitempty"`
	Path             []tree.Condition        `json:"path"`
	Distribution     classifier.Distribution `json:"distribution"`
	Explanation      string                  `json:"explanation"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
	CreatedAt        time.Time               `json:"created_at"`
}

// PredictionsResponse holds prediction items and totals.
type PredictionsResponse struct {
	Items []PredictionDTO `json:"items"`
	Total int64           `json:"total"`
}

// UploadResponse reports batch statistics after processing a CSV upload.
type UploadResponse struct {
	BatchID     uint   `json:"batch_id"`
	BatchName   string `json:"batch_name"`
	RowCount    int    `json:"row_count"`
	SkippedRows int    `json:"skipped_rows"`
}

// BatchDTO represents metadata for an uploaded student CSV.
type BatchDTO struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	OriginalFilename  string     `json:"original_filename"`
	RowCount          int        `json:"row_count"`
	SkippedRows       int        `json:"skipped_rows"`
	ProcessedStudents int        `json:"processed_students"`
	CreatedAt         time.Time  `json:"created_at"`
	LastEvaluatedAt   *time.Time `json:"last_evaluated_at"`
}

// BatchesResponse is the paginated response for batches.
type BatchesResponse struct {
	Items []BatchDTO `json:"items"`
	Total int64      `json:"total"`
}

// BatchRequestDTO represents evaluation request tracking metadata.
type BatchRequestDTO struct {
	ID         uint       `json:"id"`
	BatchID    uint       `json:"batch_id"`
	ModelID    uint       `json:"model_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	JobID      string     `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// EvaluateRequest controls pagination for batch runs.
type EvaluateRequest struct {
	BatchID uint `json:"batch_id"`
	ModelID uint `json:"model_id"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Resume  bool `json:"resume"`
	Force   bool `json:"force"`
}

// StartEvaluationResponse describes the asynchronous evaluation kickoff payload.
type StartEvaluationResponse struct {
	JobID     string    `json:"job_id"`
	BatchID   uint      `json:"batch_id"`
	ModelID   uint      `json:"model_id"`
	RequestID uint      `json:"request_id"`
	Total     int64     `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// EvaluateStatusResponse describes the state of the active evaluation job.
type EvaluateStatusResponse struct {
	Running        bool           `json:"running"`
	JobID          string         `json:"job_id"`
	BatchID        uint           `json:"batch_id"`
	ModelID        uint           `json:"model_id"`
	RequestID      uint           `json:"request_id"`
	State          string         `json:"state"`
	Message        string         `json:"message"`
	Processed      int            `json:"processed"`
	Total          int64          `json:"total"`
	LastPrediction *PredictionDTO `json:"last_prediction,omitempty"`
}

// SummaryResponse aggregates the predictions of a batch.
type SummaryResponse struct {
	BatchID  uint              `json:"batch_id"`
	ModelID  uint              `json:"model_id"`
	Labels   []LabelSummaryDTO `json:"labels"`
	TopPaths []PathSummaryDTO  `json:"top_paths"`
}

// LabelSummaryDTO counts one predicted label.
type LabelSummaryDTO struct {
	Label         string  `json:"label"`
	Total         int64   `json:"total"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// PathSummaryDTO counts students that followed one rule path.
type PathSummaryDTO struct {
	Path    []tree.Condition `json:"path"`
	Rule    string           `json:"rule"`
	Reached string           `json:"reached,omitempty"`
	Total   int64            `json:"total"`
}

// ConfigResponse describes the explainer setup.
type ConfigResponse struct {
	Attributes  []explain.Attribute `json:"attributes"`
	ActiveModel *ModelDTO           `json:"active_model,omitempty"`
	Remote      bool                `json:"remote_classifier"`
	Cache       explain.CacheStats  `json:"explainer_cache"`
}

// ModelFromStore converts a store.Model into the DTO representation.
func ModelFromStore(m store.Model) ModelDTO {
	labels := m.Labels()
	if labels == nil {
		labels = []string{}
	}
	return ModelDTO{
		ID:        m.ID,
		Name:      m.Name,
		Source:    m.Source,
		SHA256:    m.DumpSHA256,
		Leaves:    m.Leaves,
		Size:      m.Size,
		Labels:    labels,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

// FromModel converts a store.Prediction into the DTO representation.
func FromModel(p store.Prediction) PredictionDTO {
	path := []tree.Condition{}
	_ = p.DecodePath(&path)
	var dist classifier.Distribution
	_ = p.DecodeDistribution(&dist)
	if dist == nil {
		dist = classifier.Distribution{}
	}
	return PredictionDTO{
		ID:      p.ID,
		ModelID: p.ModelID,
		BatchID: p.BatchID,
		Student: features.Input{
			StudentID:            p.StudentID,
			WeeklySelfStudyHours: p.StudyHours,
			AttendancePercentage: p.Attendance,
			ClassParticipation:   p.Participation,
		},
		Label:            p.Label,
		Confidence:       round2(p.Confidence),
		Reached:          p.Reached,
		Path:             path,
		Distribution:     dist,
		Explanation:      strings.TrimSpace(p.Explanation),
		ProcessingTimeMs: p.ProcessingTimeMs,
		CreatedAt:        p.CreatedAt,
	}
}

// BatchFromModel converts a store.Batch into a DTO.
func BatchFromModel(b store.Batch) BatchDTO {
	return BatchDTO{
		ID:                b.ID,
		Name:              b.Name,
		OriginalFilename:  b.OriginalFilename,
		RowCount:          b.RowCount,
		SkippedRows:       b.SkippedRows,
		ProcessedStudents: b.ProcessedStudents,
		CreatedAt:         b.CreatedAt,
		LastEvaluatedAt:   b.LastEvaluatedAt,
	}
}

// BatchRequestFromModel converts a store.BatchRequest into a DTO.
func BatchRequestFromModel(r store.BatchRequest) BatchRequestDTO {
	return BatchRequestDTO{
		ID:         r.ID,
		BatchID:    r.BatchID,
		ModelID:    r.ModelID,
		Type:       r.Type,
		Status:     r.Status,
		JobID:      r.JobID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// predictionRecord builds the row stored for a scored student.
func predictionRecord(modelID, batchID uint, res predict.Result, elapsedMs int64) *store.Prediction {
	row := &store.Prediction{
		ModelID:          modelID,
		BatchID:          batchID,
		StudentID:        res.Input.StudentID,
		StudyHours:       res.Input.WeeklySelfStudyHours,
		Attendance:       res.Input.AttendancePercentage,
		Participation:    res.Input.ClassParticipation,
		Label:            res.Label,
		Confidence:       res.Confidence,
		Reached:          res.Reached,
		Explanation:      res.Explanation,
		ProcessingTimeMs: elapsedMs,
	}
	row.SetPath(res.Path)
	row.SetDistribution(res.Distribution)
	return row
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
