package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-import/internal/blob"
	"github.com/sells-group/lead-import/internal/mapping"
	"github.com/sells-group/lead-import/internal/model"
	"github.com/sells-group/lead-import/internal/parser"
	"github.com/sells-group/lead-import/internal/queue"
	"github.com/sells-group/lead-import/internal/store"
)

// maxUploadBytes caps one uploaded import file.
const maxUploadBytes = 64 << 20

// handleCreateJob accepts a multipart upload (file + owner_id), stores
// the file, auto-detects the column mapping from the header row, and
// creates the job. A re-upload of identical content for the same owner is
// rejected before a job is created.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	fileType, err := detectFileType(header.Filename)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	m, err := detectMapping(data, fileType)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	key := blob.ObjectKey(ownerID, filepath.Base(header.Filename))
	hash, err := s.blobs.Upload(r.Context(), key, bytes.NewReader(data))
	if err != nil {
		zap.L().Error("file upload failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	job := &model.Job{
		OwnerID:  ownerID,
		FileName: filepath.Base(header.Filename),
		FilePath: key,
		FileHash: hash,
		FileType: fileType,
		Mapping:  m,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, store.ErrDuplicateFile) {
			respondError(w, http.StatusConflict, "this file has already been submitted")
			return
		}
		zap.L().Error("job create failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// handleStartJob freezes the mapping and enqueues the parse phase.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.store.TransitionJob(r.Context(), id,
		[]model.JobStatus{model.JobStatusPending}, model.JobStatusQueued)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "job already started")
		return
	}

	if err := s.pub.Publish(r.Context(), queue.NewParseMessage(id)); err != nil {
		zap.L().Error("parse enqueue failed", zap.String("job_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(model.JobStatusQueued)})
}

// handleCancelJob conditionally cancels: only jobs still in the
// cancellable set move, so a completion that raced the cancel wins.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.store.TransitionJob(r.Context(), id, model.CancellableStatuses, model.JobStatusCancelled)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "job is already terminal")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.JobStatusCancelled)})
}

type optionsRequest struct {
	Assignment *model.AssignmentConfig `json:"assignment"`
	Duplicate  *model.DuplicateConfig  `json:"duplicate"`
}

// handleUpdateOptions replaces assignment/duplicate configuration while
// the job has not begun committing.
func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid options body")
		return
	}
	if req.Assignment != nil && !validAssignMode(req.Assignment.Mode) {
		respondError(w, http.StatusUnprocessableEntity, "unknown assignment mode")
		return
	}
	if req.Duplicate != nil && !validDupStrategy(req.Duplicate.Strategy) {
		respondError(w, http.StatusUnprocessableEntity, "unknown duplicate strategy")
		return
	}

	ok, err := s.store.UpdateJobOptions(r.Context(), id, req.Assignment, req.Duplicate)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "job options are frozen once importing begins")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// fileURLExpiry bounds how long a handed-out file reference stays usable.
const fileURLExpiry = 15 * time.Minute

// handleJobFileURL returns a short-lived reference to the job's uploaded
// file, so the owning application can fetch it without proxying through
// this service.
func (s *Server) handleJobFileURL(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	url, err := s.blobs.SignedURL(r.Context(), job.FilePath, fileURLExpiry)
	if err != nil {
		zap.L().Error("sign file url failed", zap.String("job_id", job.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not sign file url")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(fileURLExpiry.Seconds()),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Status:  model.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	zap.L().Error("store error", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func detectFileType(name string) (model.FileType, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return model.FileTypeCSV, nil
	case ".xlsx":
		return model.FileTypeXLSX, nil
	default:
		return "", errUnsupportedFileType
	}
}

var errUnsupportedFileType = errors.New("unsupported file type, expected .csv or .xlsx")

// detectMapping reads the header row and auto-detects column targets.
func detectMapping(data []byte, fileType model.FileType) (*model.ColumnMapping, error) {
	var src parser.Source
	var err error
	switch fileType {
	case model.FileTypeXLSX:
		src, err = parser.NewXLSX(data, parser.XLSXOptions{})
	default:
		src, err = parser.NewDelimited(bytes.NewReader(data), parser.DelimitedOptions{})
	}
	if err != nil {
		return nil, errors.New("could not read file header")
	}

	header, err := src.Next()
	if err != nil {
		return nil, errors.New("file has no header row")
	}
	return mapping.Detect(header), nil
}

func validAssignMode(m model.AssignMode) bool {
	switch m {
	case model.AssignModeNone, model.AssignModeSingle, model.AssignModeRoundRobin, model.AssignModeByColumn:
		return true
	}
	return false
}

func validDupStrategy(st model.DupStrategy) bool {
	switch st {
	case model.DupStrategySkip, model.DupStrategyUpdate, model.DupStrategyCreate:
		return true
	}
	return false
}
