package api

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/predict"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/store"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/util"
)

const (
	evaluationThrottle = 500 * time.Millisecond
	defaultChunkSize   = 1000
	maxChunkSize       = 5000
)

// Batch request states.
const (
	requestRunning   = "running"
	requestCompleted = "completed"
	requestFailed    = "failed"
	requestCancelled = "cancelled"
)

// evaluationJob tracks the state of a running batch run.
type evaluationJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int64
	batchID   uint
	modelID   uint
	batchName string
	requestID uint
}

type studentResult struct {
	Prediction store.Prediction
	Duration   time.Duration
	Err        error
}

// startEvaluation launches a new asynchronous batch run. The caller must
// hold s.jobMu.
func (s *Server) startEvaluation(req EvaluateRequest, batch *store.Batch, model *store.Model, predictor *predict.Predictor, total int64) (*evaluationJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("evaluation already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &evaluationJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     total,
		batchID:   batch.ID,
		modelID:   model.ID,
		batchName: batch.Name,
	}

	requestType := "evaluate"
	if req.Resume && !req.Force {
		requestType = "resume"
	}
	request, err := s.db.CreateBatchRequest(batch.ID, model.ID, requestType, requestRunning, job.id)
	if err != nil {
		job.cancel()
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	job.requestID = request.ID

	s.activeJob = job
	go s.runEvaluation(ctx, job, req, predictor)
	return job, nil
}

func (s *Server) runEvaluation(ctx context.Context, job *evaluationJob, req EvaluateRequest, predictor *predict.Predictor) {
	finishStatus := requestCompleted

	defer func() {
		job.cancel()
		if err := s.db.UpdateBatchRequest(job.requestID, finishStatus); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("update batch request")
		}
		if err := s.db.UpdateBatchProcessingInfo(job.batchID, job.modelID); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("refresh batch processing info")
		}
		s.jobMu.Lock()
		if s.activeJob == job {
			s.activeJob = nil
		}
		s.jobMu.Unlock()
	}()

	fail := func(err error, msg string) {
		finishStatus = requestFailed
		s.evalNotifier.Broadcast(EvaluationEvent{
			Type:    eventError,
			JobID:   job.id,
			BatchID: job.batchID,
			ModelID: job.modelID,
			Message: fmt.Sprintf("%s: %v", msg, err),
		})
		logrus.WithError(err).WithField("job", job.id).Error(msg)
	}

	skipExisting := req.Resume && !req.Force
	totalProcessed := 0
	if skipExisting {
		done, err := s.db.CountBatchResults(job.batchID, job.modelID)
		if err != nil {
			fail(err, "count existing predictions")
			return
		}
		totalProcessed = done
	}

	logrus.WithFields(logrus.Fields{
		"job":        job.id,
		"batch_id":   job.batchID,
		"batch_name": job.batchName,
		"model_id":   job.modelID,
		"total":      job.total,
		"processed":  totalProcessed,
		"resume":     req.Resume,
		"force":      req.Force,
	}).Info("evaluation job started")

	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      eventStarted,
		JobID:     job.id,
		BatchID:   job.batchID,
		ModelID:   job.modelID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   "evaluation started",
	})

	workerCount := s.workers
	if workerCount <= 0 {
		workerCount = determineWorkerCount()
	}
	chunkSize := req.Limit
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkSize > maxChunkSize {
		chunkSize = maxChunkSize
	}

	taskCh := make(chan store.BatchStudent, workerCount*4)
	resultCh := make(chan studentResult, workerCount*4)
	errCh := make(chan error, 1)

	var (
		lastEmit     time.Time
		hasPending   bool
		pendingEvent EvaluationEvent
	)

	flush := func(force bool) {
		if !hasPending {
			return
		}
		if !force && !lastEmit.IsZero() && time.Since(lastEmit) < evaluationThrottle {
			return
		}
		s.evalNotifier.Broadcast(pendingEvent)
		lastEmit = time.Now()
		hasPending = false
	}

	var workerWG sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for task := range taskCh {
				if ctx.Err() != nil {
					return
				}
				res := s.scoreStudent(ctx, job, predictor, task)
				select {
				case resultCh <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		workerWG.Wait()
		close(resultCh)
	}()

	go func() {
		defer close(taskCh)
		defer close(errCh)
		offset := req.Offset
		for {
			if ctx.Err() != nil {
				return
			}
			rows, err := s.db.ListBatchStudentsForEval(job.batchID, job.modelID, offset, chunkSize)
			if err != nil {
				errCh <- fmt.Errorf("list batch students: %w", err)
				return
			}
			for _, row := range rows {
				if skipExisting && row.HasResult {
					continue
				}
				select {
				case taskCh <- row.BatchStudent:
				case <-ctx.Done():
					return
				}
			}
			offset += len(rows)
			if len(rows) < chunkSize {
				return
			}
		}
	}()

	activeResultCh := resultCh
	activeErrCh := errCh
	for activeResultCh != nil || activeErrCh != nil {
		select {
		case <-ctx.Done():
			flush(true)
			finishStatus = requestCancelled
			s.evalNotifier.Broadcast(EvaluationEvent{
				Type:      eventCancelled,
				JobID:     job.id,
				BatchID:   job.batchID,
				ModelID:   job.modelID,
				Total:     job.total,
				Processed: totalProcessed,
				Message:   "evaluation cancelled",
			})
			logrus.WithField("job", job.id).WithField("batch_id", job.batchID).Warn("evaluation job cancelled")
			return
		case err, ok := <-activeErrCh:
			if !ok {
				activeErrCh = nil
				continue
			}
			flush(true)
			fail(err, "list batch students")
			return
		case res, ok := <-activeResultCh:
			if !ok {
				activeResultCh = nil
				continue
			}
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) {
					continue
				}
				flush(true)
				fail(res.Err, "score student")
				return
			}

			row := res.Prediction
			if err := s.db.SavePrediction(&row); err != nil {
				flush(true)
				fail(err, "save prediction")
				return
			}
			s.metrics.predictions.WithLabelValues(row.Label, "batch").Inc()

			dto := FromModel(row)
			totalProcessed++
			pendingEvent = EvaluationEvent{
				Type:       eventPrediction,
				JobID:      job.id,
				BatchID:    job.batchID,
				ModelID:    job.modelID,
				Total:      job.total,
				Processed:  totalProcessed,
				Prediction: &dto,
			}
			hasPending = true
			logrus.WithFields(logrus.Fields{
				"job":           job.id,
				"student_id":    row.StudentID,
				"label":         row.Label,
				"processing_ms": row.ProcessingTimeMs,
				"elapsed":       res.Duration,
			}).Debug("student scored")
			flush(false)
		}
	}

	flush(true)
	duration := time.Since(job.startedAt).Round(time.Millisecond)
	s.evalNotifier.Broadcast(EvaluationEvent{
		Type:      eventComplete,
		JobID:     job.id,
		BatchID:   job.batchID,
		ModelID:   job.modelID,
		Total:     job.total,
		Processed: totalProcessed,
		Message:   fmt.Sprintf("evaluation finished in %s", duration),
	})
	logrus.WithFields(logrus.Fields{
		"job":       job.id,
		"batch_id":  job.batchID,
		"processed": totalProcessed,
		"duration":  duration,
	}).Info("evaluation job completed")
}

func (s *Server) scoreStudent(ctx context.Context, job *evaluationJob, predictor *predict.Predictor, row store.BatchStudent) studentResult {
	timer := util.StartTimer()
	in := features.Input{
		StudentID:            row.StudentID,
		WeeklySelfStudyHours: row.StudyHours,
		AttendancePercentage: row.Attendance,
		ClassParticipation:   row.Participation,
	}
	res, err := predictor.Predict(ctx, in)
	if err != nil {
		return studentResult{Err: err}
	}
	pred := predictionRecord(job.modelID, job.batchID, res, timer.ElapsedMs())
	pred.RowIndex = row.RowIndex
	return studentResult{Prediction: *pred, Duration: timer.Elapsed()}
}

func determineWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}
