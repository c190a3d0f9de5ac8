package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/classifier"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/predict"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/store"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/tree"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/util"
)

// Model sources.
const (
	sourceUpload = "upload"
	sourceFile   = "file"
	sourceRemote = "remote"
)

const explainerCacheSize = 16

var errEmptyTree = errors.New("dump contains no decision tree")

// Config defines server dependencies.
type Config struct {
	DBPath         string
	AllowedOrigins []string
	SilentDB       bool
	Workers        int
	// Attributes defaults to explain.DefaultAttributes.
	Attributes *explain.AttributeTable
	// Classifier enables the remote model server when BaseURL is set.
	Classifier classifier.Config
	// ModelPath is a tree dump file registered and activated on start.
	ModelPath string
	ModelName string
}

// Server wires HTTP handlers with persistence and the explainer.
type Server struct {
	db             *store.Database
	attrs          *explain.AttributeTable
	explainers     *explain.Cache
	remote         *classifier.Client
	allowedOrigins []string
	workers        int
	metrics        *metrics
	evalNotifier   *EvaluationNotifier
	jobMu          sync.Mutex
	activeJob      *evaluationJob

	predictorMu sync.Mutex
	predictors  map[uint]*predict.Predictor

	modelPath string
	modelName string
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	attrs := cfg.Attributes
	if attrs == nil {
		attrs = explain.DefaultAttributes()
	}
	cache := explain.NewCache(attrs, explainerCacheSize)

	server := &Server{
		db:             db,
		attrs:          attrs,
		explainers:     cache,
		allowedOrigins: cfg.AllowedOrigins,
		workers:        cfg.Workers,
		metrics:        newMetrics(cache),
		evalNotifier:   NewEvaluationNotifier(),
		predictors:     make(map[uint]*predict.Predictor),
		modelPath:      strings.TrimSpace(cfg.ModelPath),
		modelName:      cfg.ModelName,
	}

	if server.modelPath != "" {
		if _, err := server.loadModelFile(server.modelPath, server.modelName); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load model %s: %w", server.modelPath, err)
		}
	}

	if client, err := classifier.NewClient(cfg.Classifier); err == nil {
		server.remote = client
		if err := server.loadRemoteModel(); err != nil {
			logrus.WithError(err).Warn("remote classifier unavailable, scoring with the stored tree")
		}
	} else if errors.Is(err, classifier.ErrDisabled) {
		logrus.Info("remote classifier disabled - no URL configured")
	} else {
		_ = db.Close()
		return nil, fmt.Errorf("classifier client: %w", err)
	}

	return server, nil
}

// Close releases the database.
func (s *Server) Close() error {
	s.jobMu.Lock()
	if s.activeJob != nil {
		s.activeJob.cancel()
	}
	s.jobMu.Unlock()
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()
	r.Use(s.metrics.observe())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", s.metrics.handler())
	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/parse", s.handleParse)
		api.POST("/models", s.handleCreateModel)
		api.GET("/models", s.handleListModels)
		api.GET("/models/:id/tree", s.handleModelTree)
		api.POST("/models/:id/activate", s.handleActivateModel)
		api.POST("/explain", s.handleExplain)
		api.POST("/predict", s.handlePredict)
		api.POST("/upload", s.handleUpload)
		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:id", s.handleGetBatch)
		api.GET("/requests/:id/status", s.handleRequestStatus)
		api.POST("/evaluate", s.handleEvaluate)
		api.GET("/evaluate/status", s.handleEvaluateStatus)
		api.DELETE("/evaluate/:jobID", s.handleCancelEvaluate)
		api.GET("/evaluate/stream", s.handleEvaluateStream)
		api.GET("/results", s.handleResults)
		api.GET("/summary", s.handleSummary)
		api.GET("/export.csv", s.handleExportCSV)
		api.GET("/export.json", s.handleExportJSON)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	resp := ConfigResponse{
		Attributes: s.attrs.Attributes(),
		Remote:     s.remote != nil,
		Cache:      s.explainers.Stats(),
	}
	active, err := s.db.ActiveModel()
	switch {
	case err == nil:
		dto := ModelFromStore(*active)
		resp.ActiveModel = &dto
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleParse(c *gin.Context) {
	var req ParseRequest
	if err := s.bindDump(c, &req.Dump, &req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	root := tree.Parse(req.Dump)
	leaves, size := tree.Stats(root)
	labels := tree.Labels(root)
	if labels == nil {
		labels = []string{}
	}
	c.JSON(http.StatusOK, ParseResponse{Tree: root, Leaves: leaves, Size: size, Labels: labels})
}

func (s *Server) handleCreateModel(c *gin.Context) {
	var req CreateModelRequest
	if err := s.bindDump(c, &req.Dump, &req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if c.ContentType() != gin.MIMEJSON {
		req.Name = c.Query("name")
		req.Activate, _ = strconv.ParseBool(c.Query("activate"))
	}
	model, err := s.registerModel(req.Name, req.Dump, sourceUpload, req.Activate)
	if err != nil {
		if errors.Is(err, errEmptyTree) {
			s.renderError(c, http.StatusBadRequest, err)
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusCreated, ModelFromStore(*model))
}

func (s *Server) handleListModels(c *gin.Context) {
	offset, pageSize := pagination(c, 25)
	rows, total, err := s.db.ListModels(offset, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]ModelDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, ModelFromStore(row))
	}
	c.JSON(http.StatusOK, ModelsResponse{Items: dtos, Total: total})
}

func (s *Server) handleModelTree(c *gin.Context) {
	modelID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	model, err := s.db.GetModel(modelID)
	if err != nil {
		s.renderLookupError(c, err, fmt.Sprintf("model %d not found", modelID))
		return
	}
	root := s.explainers.Get(model.DumpText).Tree()
	c.JSON(http.StatusOK, ModelTreeResponse{
		Model: ModelFromStore(*model),
		Tree:  root,
		Text:  tree.Format(root),
	})
}

func (s *Server) handleActivateModel(c *gin.Context) {
	modelID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.db.ActivateModel(modelID); err != nil {
		s.renderLookupError(c, err, fmt.Sprintf("model %d not found", modelID))
		return
	}
	model, err := s.db.GetModel(modelID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.WithFields(logrus.Fields{"model_id": model.ID, "name": model.Name}).Info("model activated")
	c.JSON(http.StatusOK, ModelFromStore(*model))
}

func (s *Server) handleExplain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("label is required"))
		return
	}

	dump := req.Dump
	var modelID uint
	if strings.TrimSpace(dump) == "" {
		model, err := s.resolveModel(req.ModelID)
		if err != nil {
			s.renderLookupError(c, err, "model not found")
			return
		}
		dump, modelID = model.DumpText, model.ID
	}

	record := req.Record
	if record == nil {
		record = features.Record{}
	}
	exp := s.explainers.Get(dump).Explain(record, label)
	s.metrics.explanations.Inc()
	c.JSON(http.StatusOK, ExplainResponse{
		ModelID: modelID,
		Label:   label,
		Text:    exp.Text,
		Path:    exp.Path,
		Reached: exp.Reached,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	model, err := s.resolveModel(req.ModelID)
	if err != nil {
		s.renderLookupError(c, err, "model not found")
		return
	}
	predictor, err := s.predictorFor(c.Request.Context(), model)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	timer := util.StartTimer()
	res, err := predictor.Predict(c.Request.Context(), req.Student)
	if err != nil {
		s.renderError(c, http.StatusBadGateway, err)
		return
	}
	row := predictionRecord(model.ID, 0, res, timer.ElapsedMs())
	if err := s.db.SavePrediction(row); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	s.metrics.predictions.WithLabelValues(row.Label, "api").Inc()
	c.JSON(http.StatusOK, FromModel(*row))
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("students")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, errors.New("students csv file is required"))
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}
	batchName := strings.TrimSpace(c.PostForm("batch_name"))
	if batchName == "" {
		batchName = strings.TrimSuffix(filepath.Base(fileHeader.Filename), filepath.Ext(fileHeader.Filename))
	}

	src, err := fileHeader.Open()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	defer src.Close()

	parsed, err := features.ReadCSV(src)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if len(parsed.Inputs) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("no students detected in csv"))
		return
	}

	batch, err := s.db.CreateBatch(batchName, fileHeader.Filename, len(parsed.Inputs), parsed.Skipped)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	rows := make([]store.BatchStudent, 0, len(parsed.Inputs))
	for i, in := range parsed.Inputs {
		rows = append(rows, store.BatchStudent{
			StudentID:     in.StudentID,
			StudyHours:    in.WeeklySelfStudyHours,
			Attendance:    in.AttendancePercentage,
			Participation: in.ClassParticipation,
			RowIndex:      i + 1,
		})
	}
	if err := s.db.ReplaceBatchStudents(batch.ID, rows); err != nil {
		s.renderError(c, http.StatusInternalServerError, fmt.Errorf("store batch students: %w", err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"rows":     len(rows),
		"skipped":  parsed.Skipped,
	}).Info("student batch uploaded")
	c.JSON(http.StatusOK, UploadResponse{
		BatchID:     batch.ID,
		BatchName:   batch.Name,
		RowCount:    len(rows),
		SkippedRows: parsed.Skipped,
	})
}

func (s *Server) handleListBatches(c *gin.Context) {
	offset, pageSize := pagination(c, 25)
	rows, total, err := s.db.ListBatches(offset, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, BatchFromModel(row))
	}
	c.JSON(http.StatusOK, BatchesResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	batch, err := s.db.GetBatch(batchID)
	if err != nil {
		s.renderLookupError(c, err, fmt.Sprintf("batch %d not found", batchID))
		return
	}

	dto := BatchFromModel(*batch)
	if active, err := s.db.ActiveModel(); err == nil {
		processed, err := s.db.CountBatchResults(batch.ID, active.ID)
		if err != nil {
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
		dto.ProcessedStudents = processed
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleRequestStatus(c *gin.Context) {
	requestID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	request, err := s.db.GetBatchRequest(requestID)
	if err != nil {
		s.renderLookupError(c, err, fmt.Sprintf("request %d not found", requestID))
		return
	}
	c.JSON(http.StatusOK, BatchRequestFromModel(*request))
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.BatchID == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_id is required"))
		return
	}

	batch, err := s.db.GetBatch(req.BatchID)
	if err != nil {
		s.renderLookupError(c, err, fmt.Sprintf("batch %d not found", req.BatchID))
		return
	}
	model, err := s.resolveModel(req.ModelID)
	if err != nil {
		s.renderLookupError(c, err, "model not found")
		return
	}
	total, err := s.db.CountBatchStudents(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if total == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch has no students to evaluate"))
		return
	}
	predictor, err := s.predictorFor(c.Request.Context(), model)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("evaluation already running"))
		return
	}

	job, err := s.startEvaluation(req, batch, model, predictor, int64(total))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, StartEvaluationResponse{
		JobID:     job.id,
		BatchID:   batch.ID,
		ModelID:   model.ID,
		RequestID: job.requestID,
		Total:     job.total,
		StartedAt: job.startedAt,
	})
}

func (s *Server) handleCancelEvaluate(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no evaluation running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("evaluation cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleEvaluateStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	resp := EvaluateStatusResponse{Running: job != nil}
	if job != nil {
		resp.JobID = job.id
		resp.BatchID = job.batchID
		resp.ModelID = job.modelID
		resp.RequestID = job.requestID
		resp.Total = job.total
	}

	if status := s.evalNotifier.LastStatus(); status != nil && (job == nil || status.JobID == job.id) {
		resp.JobID = status.JobID
		resp.State = status.Type
		resp.Message = status.Message
		resp.Processed = status.Processed
		if status.Total != 0 {
			resp.Total = status.Total
		}
		if status.BatchID != 0 {
			resp.BatchID = status.BatchID
		}
		if status.ModelID != 0 {
			resp.ModelID = status.ModelID
		}
		resp.LastPrediction = status.Prediction
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvaluateStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.evalNotifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket connected")
	defer s.evalNotifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("evaluation websocket unexpected close")
			} else {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("evaluation websocket closed")
			}
			return
		}
	}
}

func (s *Server) handleResults(c *gin.Context) {
	query, err := s.predictionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	query.Offset, query.Limit = pagination(c, 100)

	rows, total, err := s.db.ListPredictions(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]PredictionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, PredictionsResponse{Items: dtos, Total: total})
}

func (s *Server) handleSummary(c *gin.Context) {
	query, err := s.predictionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	labels, err := s.db.LabelCounts(query.BatchID, query.ModelID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	paths, err := s.db.TopPaths(query.BatchID, query.ModelID, limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	resp := SummaryResponse{
		BatchID:  query.BatchID,
		ModelID:  query.ModelID,
		Labels:   make([]LabelSummaryDTO, 0, len(labels)),
		TopPaths: make([]PathSummaryDTO, 0, len(paths)),
	}
	for _, l := range labels {
		resp.Labels = append(resp.Labels, LabelSummaryDTO{
			Label:         l.Label,
			Total:         int64(l.Total),
			AvgConfidence: round2(l.AvgConfidence),
		})
	}
	for _, p := range paths {
		row := store.Prediction{PathJSON: p.PathJSON}
		path := []tree.Condition{}
		if err := row.DecodePath(&path); err != nil {
			logrus.WithError(err).Warn("decode stored rule path")
			continue
		}
		resp.TopPaths = append(resp.TopPaths, PathSummaryDTO{
			Path:    path,
			Rule:    ruleText(path),
			Reached: p.Reached,
			Total:   int64(p.Total),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleExportCSV(c *gin.Context) {
	query, err := s.predictionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	query.Limit = -1
	rows, _, err := s.db.ListPredictions(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=student-predictions.csv")
	c.Header("Content-Type", "text/csv")

	writer := csv.NewWriter(c.Writer)
	headers := []string{
		"student_id", features.StudyHours, features.Attendance, features.Participation,
		"label", "confidence", "reached", "rule_path", "explanation", "model_id", "batch_id",
	}
	if err := writer.Write(headers); err != nil {
		return
	}
	for _, row := range rows {
		dto := FromModel(row)
		line := []string{
			strconv.Itoa(dto.Student.StudentID),
			formatFloat(dto.Student.WeeklySelfStudyHours),
			formatFloat(dto.Student.AttendancePercentage),
			formatFloat(dto.Student.ClassParticipation),
			dto.Label,
			fmt.Sprintf("%.2f", dto.Confidence),
			dto.Reached,
			ruleText(dto.Path),
			dto.Explanation,
			strconv.FormatUint(uint64(dto.ModelID), 10),
			strconv.FormatUint(uint64(dto.BatchID), 10),
		}
		if err := writer.Write(line); err != nil {
			return
		}
	}
	writer.Flush()
}

func (s *Server) handleExportJSON(c *gin.Context) {
	query, err := s.predictionQuery(c)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	query.Limit = -1
	rows, _, err := s.db.ListPredictions(query)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]PredictionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.Header("Content-Disposition", "attachment; filename=student-predictions.json")
	c.JSON(http.StatusOK, dtos)
}

// registerModel parses and stores a dump. Storing the same dump again keeps
// the existing row.
func (s *Server) registerModel(name, dump, source string, activate bool) (*store.Model, error) {
	root := s.explainers.Get(dump).Tree()
	leaves, size := tree.Stats(root)
	if leaves == 0 {
		return nil, errEmptyTree
	}
	key := explain.Key(dump)
	if strings.TrimSpace(name) == "" {
		name = "model-" + key[:8]
	}
	model := &store.Model{
		Name:       strings.TrimSpace(name),
		Source:     source,
		DumpSHA256: key,
		DumpText:   dump,
		Leaves:     leaves,
		Size:       size,
	}
	model.SetLabels(tree.Labels(root))
	stored, err := s.db.SaveModel(model)
	if err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	if activate {
		if err := s.db.ActivateModel(stored.ID); err != nil {
			return nil, fmt.Errorf("activate model: %w", err)
		}
		stored.Active = true
	}
	s.forgetPredictor(stored.ID)
	logrus.WithFields(logrus.Fields{
		"model_id": stored.ID,
		"name":     stored.Name,
		"source":   source,
		"leaves":   leaves,
		"size":     size,
		"active":   stored.Active,
	}).Info("model registered")
	return stored, nil
}

func (s *Server) loadModelFile(path, name string) (*store.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s.registerModel(name, string(data), sourceFile, true)
}

func (s *Server) loadRemoteModel() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dump, err := s.remote.Dump(ctx)
	if err != nil {
		return err
	}
	_, err = s.registerModel("remote", dump, sourceRemote, true)
	return err
}

// resolveModel returns the model with id, or the active model when id is 0.
func (s *Server) resolveModel(id uint) (*store.Model, error) {
	if id == 0 {
		return s.db.ActiveModel()
	}
	return s.db.GetModel(id)
}

// predictorFor returns the predictor of a stored model, building it on first
// use. Trees fetched from the model server are scored remotely and fall back
// to replaying the stored tree.
func (s *Server) predictorFor(ctx context.Context, model *store.Model) (*predict.Predictor, error) {
	s.predictorMu.Lock()
	defer s.predictorMu.Unlock()
	if p, ok := s.predictors[model.ID]; ok {
		return p, nil
	}

	replay, err := classifier.NewReplay(model.DumpText, model.Labels()...)
	if err != nil {
		return nil, fmt.Errorf("model %d: %w", model.ID, err)
	}
	var scorer classifier.Classifier = replay
	if model.Source == sourceRemote && s.remote != nil {
		scorer = classifier.WithFallback(s.remote, replay)
	}
	p, err := predict.New(ctx, scorer, s.attrs)
	if err != nil {
		return nil, fmt.Errorf("model %d: %w", model.ID, err)
	}
	s.predictors[model.ID] = p
	return p, nil
}

func (s *Server) forgetPredictor(id uint) {
	s.predictorMu.Lock()
	delete(s.predictors, id)
	s.predictorMu.Unlock()
}

// bindDump reads a tree dump from a JSON body into req, or from a plain text
// body into *dump.
func (s *Server) bindDump(c *gin.Context, dump *string, req any) error {
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(req); err != nil {
			return err
		}
	} else {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return err
		}
		*dump = string(data)
	}
	if strings.TrimSpace(*dump) == "" {
		return errors.New("dump is required")
	}
	return nil
}

func (s *Server) predictionQuery(c *gin.Context) (store.PredictionQuery, error) {
	var q store.PredictionQuery
	var err error
	if q.BatchID, err = optionalUint(firstNonEmpty(c.Query("batch_id"), c.Query("batchId")), "batch_id"); err != nil {
		return q, err
	}
	if q.ModelID, err = optionalUint(firstNonEmpty(c.Query("model_id"), c.Query("modelId")), "model_id"); err != nil {
		return q, err
	}
	if value := firstNonEmpty(c.Query("student_id"), c.Query("studentId")); value != "" {
		id, err := strconv.Atoi(value)
		if err != nil {
			return q, fmt.Errorf("invalid student_id: %s", value)
		}
		q.StudentID = id
	}
	q.Label = strings.TrimSpace(c.Query("label"))
	q.Sort = strings.TrimSpace(c.Query("sort"))
	return q, nil
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// renderLookupError maps a missing row to 404 and anything else to 500.
func (s *Server) renderLookupError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.renderError(c, http.StatusNotFound, errors.New(notFound))
		return
	}
	s.renderError(c, http.StatusInternalServerError, err)
}

func pagination(c *gin.Context, defaultSize int) (offset, pageSize int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ = strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	return page * pageSize, pageSize
}

func ruleText(path []tree.Condition) string {
	parts := make([]string, 0, len(path))
	for _, cond := range path {
		parts = append(parts, cond.String())
	}
	return strings.Join(parts, " AND ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalUint(value, name string) (uint, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, value)
	}
	return uint(parsed), nil
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier: %w", err)
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
