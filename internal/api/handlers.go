package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"crm-backup/internal/display"
)

// Health reports liveness and whether backups can run
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, router.logger, http.StatusOK, &APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":        "ok",
			"keyConfigured": router.service.KeyConfigured(),
		},
	})
}

// CreateBackup takes a snapshot and streams the sealed artifact to the caller
func (router *Router) CreateBackup(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	log := router.logger.WithContext(r.Context()).WithField("actor", actor)

	artifact, err := router.service.CreateBackup(r.Context(), actor)
	if err != nil {
		log.WithError(err).Error("Backup failed")
		respondError(w, router.logger, statusForError(err), messageForError("Backup", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("X-Backup-Checksum", artifact.Checksum)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		log.WithError(err).Error("Failed to write backup artifact")
		return
	}

	log.WithFields(map[string]interface{}{
		"filename": artifact.Filename,
		"size":     len(artifact.Data),
		"records":  artifact.Records,
	}).Info("Backup downloaded")
}

// RestoreBackup replaces the governed tables with the artifact in the request body
func (router *Router) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	log := router.logger.WithContext(r.Context()).WithField("actor", actor)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, router.maxRestoreBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, router.logger, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Backup file exceeds the %s upload limit", display.FormatBytes(router.maxRestoreBytes)))
			return
		}
		respondError(w, router.logger, http.StatusBadRequest, "Failed to read backup file")
		return
	}
	if len(data) == 0 {
		respondError(w, router.logger, http.StatusBadRequest, "Backup file is required")
		return
	}

	result, err := router.service.RestoreBackup(r.Context(), actor, data)
	if err != nil {
		log.WithError(err).Error("Restore failed")
		var none int64
		resp := &APIResponse{
			Success:         false,
			Message:         messageForError("Restore", err),
			RecordsRestored: &none,
		}
		if result != nil {
			resp.Errors = result.Errors
			resp.Warnings = result.Warnings
		}
		respondJSON(w, router.logger, statusForError(err), resp)
		return
	}

	log.WithFields(map[string]interface{}{
		"records_restored": result.RecordsRestored,
		"records_deleted":  result.RecordsDeleted,
		"warnings":         len(result.Warnings),
	}).Info("Restore completed")

	respondJSON(w, router.logger, http.StatusOK, &APIResponse{
		Success:         true,
		Message:         fmt.Sprintf("Restored %d records", result.RecordsRestored),
		Data:            result,
		Warnings:        result.Warnings,
		RecordsRestored: &result.RecordsRestored,
	})
}

func actorOf(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Actor
	}
	return ""
}
