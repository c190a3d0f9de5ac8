package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Model is a loaded decision tree, stored as the dump text the classifier
// printed.
type Model struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"size:128;index"`
	Source     string `gorm:"size:32"`
	DumpSHA256 string `gorm:"size:64;uniqueIndex"`
	DumpText   string `gorm:"type:text"`
	Leaves     int
	Size       int
	LabelsJSON string `gorm:"type:text"`
	Active     bool   `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetLabels stores the class labels as JSON.
func (m *Model) SetLabels(labels []string) {
	if labels == nil {
		m.LabelsJSON = "[]"
		return
	}
	payload, _ := json.Marshal(labels)
	m.LabelsJSON = string(payload)
}

// Labels returns the decoded class labels.
func (m *Model) Labels() []string {
	return decodeStrings(m.LabelsJSON)
}

// Prediction is one scored student, ad hoc (BatchID 0) or from a batch run.
// RowIndex points at the BatchStudent row and is 0 for ad hoc predictions.
type Prediction struct {
	ID               uint `gorm:"primaryKey"`
	ModelID          uint `gorm:"index"`
	BatchID          uint `gorm:"index"`
	RowIndex         int
	StudentID        int `gorm:"index"`
	StudyHours       float64
	Attendance       float64
	Participation    float64
	Label            string `gorm:"size:32;index"`
	Confidence       float64
	Reached          string `gorm:"size:32"`
	PathJSON         string `gorm:"type:text"`
	DistributionJSON string `gorm:"type:text"`
	Explanation      string `gorm:"type:text"`
	ProcessingTimeMs int64
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// SetPath stores the matched rule path. v is any JSON-encodable path.
func (p *Prediction) SetPath(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte("[]")
	}
	p.PathJSON = string(payload)
}

// SetDistribution stores the class probabilities.
func (p *Prediction) SetDistribution(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte("[]")
	}
	p.DistributionJSON = string(payload)
}

// DecodePath unmarshals the stored path into out.
func (p *Prediction) DecodePath(out any) error {
	return decodeInto(p.PathJSON, out)
}

// DecodeDistribution unmarshals the stored distribution into out.
func (p *Prediction) DecodeDistribution(out any) error {
	return decodeInto(p.DistributionJSON, out)
}

// Batch is an uploaded CSV of students.
type Batch struct {
	ID                uint   `gorm:"primaryKey"`
	Name              string `gorm:"size:128;index"`
	OriginalFilename  string `gorm:"size:256"`
	RowCount          int
	SkippedRows       int
	ProcessedStudents int
	LastEvaluatedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BatchStudent is one row of a batch.
type BatchStudent struct {
	ID            uint `gorm:"primaryKey"`
	BatchID       uint `gorm:"index"`
	StudentID     int
	StudyHours    float64
	Attendance    float64
	Participation float64
	RowIndex      int
	CreatedAt     time.Time
}

// BatchRequest tracks an evaluation job for a batch (initial run, resume).
type BatchRequest struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    uint   `gorm:"index"`
	ModelID    uint   `gorm:"index"`
	Type       string `gorm:"size:32"`
	Status     string `gorm:"size:32"`
	JobID      string `gorm:"size:64"`
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

func decodeStrings(raw string) []string {
	var out []string
	if err := decodeInto(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeInto(raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
