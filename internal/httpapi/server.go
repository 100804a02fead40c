// Package httpapi is the request-handling layer around the inference core:
// upload-and-classify, report lookup and IoT vitals ingestion. It owns all
// HTTP concerns; the core stays synchronous and transport-free.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lungai/internal/config"
	"lungai/internal/store"
	"lungai/internal/xray"
)

// Classifier is the slice of the inference service the HTTP layer needs.
type Classifier interface {
	ClassifyImage(path string) (*xray.Prediction, error)
	ExplainImage(imagePath, outPath string) (string, bool)
	Available() bool
}

type Server struct {
	svc Classifier
	db  *store.Memory
	cfg config.Config
	log zerolog.Logger
}

var allowedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
}

// NewRouter wires the full route tree with request-id, recoverer, CORS and
// Prometheus middleware.
func NewRouter(svc Classifier, db *store.Memory, cfg config.Config, log zerolog.Logger) http.Handler {
	s := &Server{svc: svc, db: db, cfg: cfg, log: log.With().Str("component", "http").Logger()}

	if svc.Available() {
		demoModeGauge.Set(0)
	} else {
		demoModeGauge.Set(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Post("/predict", s.handlePredict)
	r.Post("/patients", s.handleAddPatient)
	r.Get("/reports/{id}", s.handleGetReport)
	r.Get("/patients/{id}/reports", s.handlePatientReports)
	r.Post("/api/vitals", s.handleVitals)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"demo_mode": !s.svc.Available(),
	})
}

func (s *Server) handleAddPatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Age    int    `json:"age"`
		Gender string `json:"gender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Age < 0 || req.Age > 130 {
		writeJSONError(w, http.StatusBadRequest, "age out of range")
		return
	}
	p := s.db.AddPatient(strings.TrimSpace(req.Name), req.Age, req.Gender)
	writeJSON(w, http.StatusCreated, p)
}

// handlePredict accepts a multipart X-ray upload, classifies it, attempts a
// Grad-CAM heatmap and records a report. A failed heatmap never fails the
// request; a failed decode does.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "no image file provided; use form field 'image'")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeJSONError(w, http.StatusBadRequest, "invalid file type; upload PNG or JPEG")
		return
	}

	var patient store.Patient
	var hasPatient bool
	if pid := r.FormValue("patient_id"); pid != "" {
		if patient, hasPatient = s.db.Patient(pid); !hasPatient {
			writeJSONError(w, http.StatusNotFound, "patient not found")
			return
		}
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("create upload dir")
		writeJSONError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	name := uuid.New().String() + ext
	imagePath := filepath.Join(s.cfg.UploadDir, name)
	if err := saveUpload(file, imagePath); err != nil {
		s.log.Error().Err(err).Msg("save upload")
		writeJSONError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	pred, err := s.svc.ClassifyImage(imagePath)
	if err != nil {
		var de *xray.DecodeError
		if errors.As(err, &de) {
			writeJSONError(w, http.StatusBadRequest, "invalid or unreadable image")
			return
		}
		s.log.Error().Err(err).Msg("classification failed")
		writeJSONError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	heatmapPath := ""
	if err := os.MkdirAll(s.cfg.HeatmapDir, 0o755); err == nil {
		out := filepath.Join(s.cfg.HeatmapDir, "heatmap_"+strings.TrimSuffix(name, ext)+".png")
		if p, ok := s.svc.ExplainImage(imagePath, out); ok {
			heatmapPath = p
		}
	}

	resp := map[string]any{
		"prediction":   pred,
		"image_path":   imagePath,
		"heatmap_path": nullable(heatmapPath),
	}
	if hasPatient {
		report := s.db.AddReport(store.Report{
			PatientID:   patient.ID,
			ImagePath:   imagePath,
			Prediction:  pred.Label,
			Confidence:  pred.Confidence,
			Severity:    pred.Severity,
			HeatmapPath: heatmapPath,
			DemoMode:    pred.DemoMode,
		})
		resp["report_id"] = report.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.db.Report(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handlePatientReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.db.Patient(id); !ok {
		writeJSONError(w, http.StatusNotFound, "patient not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": s.db.ReportsFor(id)})
}

// handleVitals ingests one reading from a bedside device, stores it and
// recomputes the clinical risk of the patient's latest report with the fresh
// SpO2 value.
func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string   `json:"device_id"`
		PatientID   string   `json:"patient_id"`
		SpO2        *float64 `json:"spo2"`
		Temperature *float64 `json:"temperature"`
		HeartRate   *int     `json:"heart_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch {
	case req.PatientID == "":
		writeJSONError(w, http.StatusBadRequest, "missing field: patient_id")
		return
	case req.SpO2 == nil:
		writeJSONError(w, http.StatusBadRequest, "missing field: spo2")
		return
	case req.Temperature == nil:
		writeJSONError(w, http.StatusBadRequest, "missing field: temperature")
		return
	case req.HeartRate == nil:
		writeJSONError(w, http.StatusBadRequest, "missing field: heart_rate")
		return
	}
	if _, ok := s.db.Patient(req.PatientID); !ok {
		writeJSONError(w, http.StatusNotFound, "patient not found")
		return
	}
	spo2, temp, hr := *req.SpO2, *req.Temperature, *req.HeartRate
	switch {
	case spo2 < 0 || spo2 > 100:
		writeJSONError(w, http.StatusBadRequest, "spo2 must be between 0 and 100")
		return
	case temp < 30 || temp > 45:
		writeJSONError(w, http.StatusBadRequest, "temperature must be between 30 and 45")
		return
	case hr < 20 || hr > 300:
		writeJSONError(w, http.StatusBadRequest, "heart_rate must be between 20 and 300")
		return
	}

	v := s.db.AddVitals(store.Vitals{
		PatientID:   req.PatientID,
		SpO2:        spo2,
		Temperature: temp,
		HeartRate:   hr,
		DeviceID:    req.DeviceID,
	})

	alert := spo2 < s.cfg.SpO2Alert
	if alert {
		s.log.Warn().Str("patient", req.PatientID).Float64("spo2", spo2).Msg("low oxygen saturation alert")
	}

	resp := map[string]any{"status": "ok", "vitals_id": v.ID, "alert": alert}
	if rep, ok := s.db.LatestReport(req.PatientID); ok {
		sev := rep.Severity
		resp["risk"] = xray.ClinicalRisk(rep.Prediction, rep.Confidence*100, sev, &spo2)
	}
	writeJSON(w, http.StatusOK, resp)
}

func saveUpload(src io.Reader, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
