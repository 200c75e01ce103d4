package results

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/codescan/internal/camera"
	"github.com/zombor/codescan/internal/scanner"
)

// maxFrameSize bounds uploaded frames (high resolution phone photos fit)
const maxFrameSize = int64(20 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// contentTypeFor guesses the frame type from the file name when the part has none
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return ""
	}
}

// admissionResponse is the reply to a submitted frame
type admissionResponse struct {
	Admission string `json:"admission"`
}

// handleSubmitFrame feeds an uploaded image to the scanner. The response
// only reports admission; the result, if any, arrives through the listener.
func (s *Server) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameSize)
	if err := r.ParseMultipartForm(maxFrameSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "Frame is too large. Maximum size is 20MB.", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		jsonError(w, "Empty file", http.StatusBadRequest)
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)
	admission := s.controller.Submit(camera.NewEncodedFrame(data, contentType))

	code := http.StatusAccepted
	switch admission {
	case scanner.Admitted:
	case scanner.DroppedShutdown:
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusTooManyRequests
	}
	setCORSHeaders(w)
	writeJSON(w, code, admissionResponse{Admission: admission.String()})
}

// handlePause stops frame admission
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.controller.Pause()
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

// handleResume restarts frame admission
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.controller.Resume()
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

// handleStats returns the scanner counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

// handleListRecords returns all decoded results
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListRecords()
	if err != nil {
		slog.Error("Error listing records", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetRecord returns a single result
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetRecord(r.PathValue("id"))
	if err != nil {
		corsError(w, "Result not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDeleteRecord deletes a result
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRecord(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Result not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting record", "error", err)
		corsError(w, "Error deleting result", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTimeouts returns the sessions that ran out of time
func (s *Server) handleListTimeouts(w http.ResponseWriter, r *http.Request) {
	timeouts, err := s.service.ListTimeouts()
	if err != nil {
		slog.Error("Error listing timeouts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, timeouts)
}

// handleGetSnapshot serves a timeout snapshot PNG
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetSnapshot(r.PathValue("name"))
	if err != nil {
		corsError(w, "Snapshot not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}
