package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/ai"
	"github.com/spigell/careerhub/internal/hub"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/metrics"
	"github.com/spigell/careerhub/internal/persistence"
	"github.com/spigell/careerhub/internal/stats"
)

const (
	uploadField = "resume"

	analyzedAction = "Analyzed Resume"
	analyzedIcon   = "Upload"
	analyzedColor  = "text-blue-400"
)

type analyzeResponse struct {
	Analysis *ai.Analysis `json:"analysis"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.Header.Get(identityHeader))
	log := logger.WithFields(s.logger, logger.StringFields(logger.StringField{Key: logger.FieldIdentity, Value: identity})...)

	if r.ContentLength > s.cfg.MaxUploadBytes {
		metrics.AnalysisRequests.WithLabelValues("too_large").Inc()
		WriteError(w, http.StatusRequestEntityTooLarge, "File too large", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	data, mimeType, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.AnalysisRequests.WithLabelValues("too_large").Inc()
			WriteError(w, http.StatusRequestEntityTooLarge, "File too large", nil)
			return
		}
		metrics.AnalysisRequests.WithLabelValues("no_file").Inc()
		WriteError(w, http.StatusBadRequest, "No file uploaded", nil)
		return
	}

	log.Info("resume received", zap.String("mime_type", mimeType), zap.Int("size", len(data)))

	analysis, err := s.analyzer.Analyze(r.Context(), data, mimeType)
	switch {
	case err == nil:
	case errors.Is(err, ai.ErrDisabled):
		metrics.AnalysisRequests.WithLabelValues("disabled").Inc()
		WriteError(w, http.StatusServiceUnavailable, "AI analysis is not configured", nil)
		return
	case errors.Is(err, ai.ErrExtraction):
		metrics.AnalysisRequests.WithLabelValues("extraction_failed").Inc()
		log.Warn("text extraction failed", zap.Error(err))
		WriteError(w, http.StatusBadRequest, "Text extraction failed", nil)
		return
	default:
		metrics.AnalysisRequests.WithLabelValues("failed").Inc()
		log.Error("resume analysis failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "AI analysis failed", err)
		return
	}

	// Hub failures are logged only; the analysis is still returned.
	for _, ev := range []hub.Event{
		hub.Activity(identity, analyzedAction, analyzedIcon, analyzedColor),
		hub.Increment(identity, stats.MetricResumes, 1),
	} {
		if err := s.hub.Submit(r.Context(), ev); err != nil {
			log.Warn("recording analysis in hub", zap.String(logger.FieldEventType, string(ev.Type)), zap.Error(err))
		}
	}

	metrics.AnalysisRequests.WithLabelValues("ok").Inc()
	if err := WriteJSON(w, http.StatusOK, analyzeResponse{Analysis: analysis}); err != nil {
		log.Debug("writing analysis response", zap.Error(err))
	}
}

func readUpload(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("uploaded file is empty")
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return data, mimeType, nil
}

func (s *Server) globalStats(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, s.hub.Snapshot(""))
}

func (s *Server) identityStats(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(mux.Vars(r)["identity"])
	if identity == "" {
		WriteError(w, http.StatusBadRequest, "identity is required", nil)
		return
	}
	_ = WriteJSON(w, http.StatusOK, s.hub.Snapshot(identity))
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		WriteError(w, http.StatusServiceUnavailable, "user storage is not configured", nil)
		return
	}

	identity := mux.Vars(r)["identity"]
	u, err := s.users.Find(r.Context(), identity)
	switch {
	case err == nil:
		_ = WriteJSON(w, http.StatusOK, u)
	case errors.Is(err, persistence.ErrNotFound):
		WriteError(w, http.StatusNotFound, "User not found", nil)
	default:
		s.logger.Error("loading user record", zap.String(logger.FieldIdentity, identity), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "Failed to load user", err)
	}
}

type health struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
	QueueDepth  int    `json:"queue_depth"`
	Identities  int    `json:"identities"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, health{
		Status:      "ok",
		Subscribers: s.registry.Count(),
		QueueDepth:  s.hub.Pending(),
		Identities:  s.hub.Identities(),
	})
}
