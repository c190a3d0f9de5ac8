package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/api"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/classifier"
	"github.com/noela-dervishi/StudentPerformancePrediction/internal/config"
)

func main() {
	configureLogging()

	settings, err := config.Load(strings.TrimSpace(os.Getenv("SPP_CONFIG")))
	if err != nil {
		logrus.Fatalf("load settings: %v", err)
	}
	if settings == nil {
		settings = &config.Settings{}
	}

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}
	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	classifierCfg := classifier.Config{
		BaseURL:   firstNonEmpty(os.Getenv("SPP_CLASSIFIER_URL"), settings.Classifier.URL),
		Token:     firstNonEmpty(os.Getenv("SPP_CLASSIFIER_TOKEN"), settings.Classifier.Token),
		Timeout:   settings.Classifier.Timeout,
		CacheTTL:  settings.Classifier.CacheTTL,
		CacheSize: settings.Classifier.CacheSize,
	}
	if timeout := os.Getenv("SPP_CLASSIFIER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			classifierCfg.Timeout = d
		}
	}
	if ttl := os.Getenv("SPP_CLASSIFIER_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			classifierCfg.CacheTTL = d
		}
	}

	workers := settings.Server.Workers
	if v := strings.TrimSpace(os.Getenv("SPP_WORKERS")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			workers = val
		}
	}

	origins := settings.Server.AllowedOrigins
	if v := strings.TrimSpace(os.Getenv("SPP_ALLOWED_ORIGINS")); v != "" {
		origins = splitList(v)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:1000", "http://127.0.0.1:1000"}
	}

	cfg := api.Config{
		DBPath:         firstNonEmpty(os.Getenv("SPP_DB_PATH"), settings.Server.DBPath, filepath.Join(dataDir, "students.db")),
		AllowedOrigins: origins,
		Workers:        workers,
		Attributes:     settings.AttributeTable(),
		Classifier:     classifierCfg,
		ModelPath:      firstNonEmpty(os.Getenv("SPP_MODEL_PATH"), settings.Model.Path),
		ModelName:      settings.Model.Name,
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close server")
		}
	}()

	watch := settings.Model.Watch
	if v := strings.TrimSpace(os.Getenv("SPP_MODEL_WATCH")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			watch = parsed
		}
	}
	if cfg.ModelPath != "" && watch {
		stop, err := server.WatchModel(context.Background())
		if err != nil {
			logrus.WithError(err).Warn("model file watch disabled")
		} else {
			defer stop()
		}
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.WithFields(logrus.Fields{
		"db":      cfg.DBPath,
		"workers": cfg.Workers,
		"remote":  cfg.Classifier.BaseURL != "",
	}).Infof("starting student prediction backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}

func configureLogging() {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("SPP_LOG_FORMAT")), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level := strings.TrimSpace(os.Getenv("SPP_LOG_LEVEL"))
	if level == "" {
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Warn("ignoring SPP_LOG_LEVEL")
		return
	}
	logrus.SetLevel(parsed)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
