package store

import (
	"errors"
	"fmt"
)

// LabelCount is the number of predictions carrying one label.
type LabelCount struct {
	Label         string  `json:"label"`
	Total         int     `json:"total"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// PathCount is how often one rule path explained a prediction.
type PathCount struct {
	PathJSON string `json:"path_json"`
	Reached  string `json:"reached"`
	Total    int    `json:"total"`
}

// LabelCounts aggregates predictions by label. Zero IDs match every batch or
// model.
func (d *Database) LabelCounts(batchID, modelID uint) ([]LabelCount, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	query := d.gorm.Table("predictions").
		Select("label, COUNT(*) AS total, AVG(confidence) AS avg_confidence").
		Group("label").
		Order("total DESC, label ASC")
	if batchID > 0 {
		query = query.Where("batch_id = ?", batchID)
	}
	if modelID > 0 {
		query = query.Where("model_id = ?", modelID)
	}
	var rows []LabelCount
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("label counts: %w", err)
	}
	return rows, nil
}

// TopPaths returns the most frequent rule paths of a model's predictions.
func (d *Database) TopPaths(batchID, modelID uint, limit int) ([]PathCount, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	if limit <= 0 {
		limit = 10
	}
	query := d.gorm.Table("predictions").
		Select("path_json, reached, COUNT(*) AS total").
		Group("path_json, reached").
		Order("total DESC").
		Limit(limit)
	if batchID > 0 {
		query = query.Where("batch_id = ?", batchID)
	}
	if modelID > 0 {
		query = query.Where("model_id = ?", modelID)
	}
	var rows []PathCount
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("top paths: %w", err)
	}
	return rows, nil
}
