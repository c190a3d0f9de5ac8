package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Model{}, &Prediction{}, &Batch{}, &BatchStudent{}, &BatchRequest{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_predictions_batch_model_row ON predictions(batch_id, model_id, row_index)",
		"CREATE INDEX IF NOT EXISTS idx_predictions_model_label ON predictions(model_id, label)",
		"CREATE INDEX IF NOT EXISTS idx_batch_students_batch_row ON batch_students(batch_id, row_index)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveModel inserts a model, or renames the existing row with the same dump.
// The stored row is returned.
func (d *Database) SaveModel(m *Model) (*Model, error) {
	if m == nil {
		return nil, errors.New("model is nil")
	}
	if strings.TrimSpace(m.DumpSHA256) == "" {
		return nil, errors.New("model dump hash is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dump_sha256"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "source", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return nil, err
	}
	var stored Model
	if err := d.gorm.Where("dump_sha256 = ?", m.DumpSHA256).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// ActivateModel marks one model as the one used for scoring.
func (d *Database) ActivateModel(id uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Model{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Model(&Model{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&Model{}).Where("id = ?", id).Update("active", true).Error
	})
}

// ActiveModel returns the active model, gorm.ErrRecordNotFound when none is.
func (d *Database) ActiveModel() (*Model, error) {
	var m Model
	if err := d.gorm.Where("active = ?", true).Order("updated_at DESC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetModel retrieves a model by ID.
func (d *Database) GetModel(id uint) (*Model, error) {
	var m Model
	if err := d.gorm.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListModels returns models newest first, without their dump text.
func (d *Database) ListModels(offset, limit int) ([]Model, int64, error) {
	var total int64
	if err := d.gorm.Model(&Model{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&Model{}).Omit("dump_text").Order("id DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var models []Model
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return models, total, nil
}

// SavePrediction stores a prediction. A batch prediction replaces the earlier
// result for the same batch row and model; student ids may repeat in a batch.
func (d *Database) SavePrediction(p *Prediction) error {
	if p == nil {
		return errors.New("prediction is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.BatchID == 0 {
		return d.gorm.Create(p).Error
	}
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ? AND model_id = ? AND row_index = ?", p.BatchID, p.ModelID, p.RowIndex).
			Delete(&Prediction{}).Error; err != nil {
			return err
		}
		return tx.Create(p).Error
	})
}

// PredictionQuery encapsulates filters and pagination for listing predictions.
type PredictionQuery struct {
	BatchID   uint
	ModelID   uint
	StudentID int
	Label     string
	Sort      string
	Offset    int
	Limit     int
}

// ListPredictions returns paginated predictions applying optional filters.
func (d *Database) ListPredictions(opts PredictionQuery) ([]Prediction, int64, error) {
	base := d.gorm.Model(&Prediction{})
	if opts.BatchID > 0 {
		base = base.Where("batch_id = ?", opts.BatchID)
	}
	if opts.ModelID > 0 {
		base = base.Where("model_id = ?", opts.ModelID)
	}
	if opts.StudentID > 0 {
		base = base.Where("student_id = ?", opts.StudentID)
	}
	if label := strings.TrimSpace(opts.Label); label != "" {
		base = base.Where("label = ?", strings.ToUpper(label))
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	var rows []Prediction
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "student_asc":
		return "predictions.student_id ASC, predictions.id DESC"
	case "student_desc":
		return "predictions.student_id DESC, predictions.id DESC"
	case "confidence_desc":
		return "predictions.confidence DESC, predictions.id DESC"
	case "confidence_asc":
		return "predictions.confidence ASC, predictions.id DESC"
	case "created_asc":
		return "predictions.created_at ASC"
	case "created_desc":
		return "predictions.created_at DESC"
	default:
		return "predictions.id DESC"
	}
}

// CreateBatch inserts a new batch record.
func (d *Database) CreateBatch(name, filename string, rowCount, skipped int) (*Batch, error) {
	batch := &Batch{Name: name, OriginalFilename: filename, RowCount: rowCount, SkippedRows: skipped}
	if err := d.gorm.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// ReplaceBatchStudents replaces all student rows of a batch.
func (d *Database) ReplaceBatchStudents(batchID uint, rows []BatchStudent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batchID).Delete(&BatchStudent{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].BatchID = batchID
		}
		// keep below SQLite's bound variable limit
		return tx.CreateInBatches(rows, 100).Error
	})
}

// CountBatchStudents returns the number of students in a batch.
func (d *Database) CountBatchStudents(batchID uint) (int, error) {
	var count int64
	if err := d.gorm.Model(&BatchStudent{}).Where("batch_id = ?", batchID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountBatchResults returns how many students of a batch have a prediction
// from the given model.
func (d *Database) CountBatchResults(batchID, modelID uint) (int, error) {
	var count int64
	query := d.gorm.Table("batch_students AS bs").
		Joins("JOIN predictions p ON p.batch_id = bs.batch_id AND p.row_index = bs.row_index AND p.model_id = ?", modelID).
		Where("bs.batch_id = ?", batchID).
		Distinct("bs.id")
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// BatchStudentStatus is a batch row plus whether it already has a result.
type BatchStudentStatus struct {
	BatchStudent
	HasResult bool
}

// ListBatchStudentsForEval returns batch rows in upload order with their
// evaluation status for modelID.
func (d *Database) ListBatchStudentsForEval(batchID, modelID uint, offset, limit int) ([]BatchStudentStatus, error) {
	var rows []BatchStudentStatus
	query := `
		SELECT bs.*,
		       CASE WHEN EXISTS (
		           SELECT 1 FROM predictions p
		           WHERE p.batch_id = bs.batch_id AND p.row_index = bs.row_index AND p.model_id = ?
		       ) THEN 1 ELSE 0 END AS has_result
		FROM batch_students bs
		WHERE bs.batch_id = ?
		ORDER BY bs.row_index
		LIMIT ? OFFSET ?`
	if err := d.gorm.Raw(query, modelID, batchID, limit, offset).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBatches returns batches ordered by creation time.
func (d *Database) ListBatches(offset, limit int) ([]Batch, int64, error) {
	var total int64
	if err := d.gorm.Model(&Batch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&Batch{}).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var batches []Batch
	if err := query.Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// GetBatch retrieves a batch by ID.
func (d *Database) GetBatch(batchID uint) (*Batch, error) {
	var batch Batch
	if err := d.gorm.First(&batch, batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// CreateBatchRequest records a new evaluation request for a batch.
func (d *Database) CreateBatchRequest(batchID, modelID uint, requestType, status, jobID string) (*BatchRequest, error) {
	request := &BatchRequest{
		BatchID:   batchID,
		ModelID:   modelID,
		Type:      requestType,
		Status:    status,
		JobID:     jobID,
		StartedAt: time.Now(),
	}
	if err := d.gorm.Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

// UpdateBatchRequest updates the status and timestamps of a batch request.
func (d *Database) UpdateBatchRequest(requestID uint, status string) error {
	updates := map[string]any{"status": status}
	if status == "completed" || status == "failed" || status == "cancelled" {
		now := time.Now()
		updates["finished_at"] = &now
	}
	return d.gorm.Model(&BatchRequest{}).Where("id = ?", requestID).Updates(updates).Error
}

// GetBatchRequest fetches a batch request record by ID.
func (d *Database) GetBatchRequest(requestID uint) (*BatchRequest, error) {
	var request BatchRequest
	if err := d.gorm.First(&request, requestID).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// UpdateBatchProcessingInfo refreshes processed counts and timestamp for a batch.
func (d *Database) UpdateBatchProcessingInfo(batchID, modelID uint) error {
	processed, err := d.CountBatchResults(batchID, modelID)
	if err != nil {
		return err
	}
	now := time.Now()
	return d.gorm.Model(&Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"processed_students": processed,
			"last_evaluated_at":  &now,
		}).Error
}
