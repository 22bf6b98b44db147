package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/dto"
	"worker-transcribe/repository"
	"worker-transcribe/service"
)

type API struct {
	deps           ServiceDependencies
	maxUploadBytes int64
	production     bool
}

func NewAPI(deps ServiceDependencies, maxUploadBytes int64, production bool) *API {
	return &API{deps: deps, maxUploadBytes: maxUploadBytes, production: production}
}

func (a *API) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/upload", a.upload)
		api.GET("/status/:fileId", a.status)
		api.POST("/retry/:fileId", a.retry)
		// Unauthenticated on purpose: operators and cron call it directly.
		api.GET("/worker/trigger", a.triggerWorker)
		api.GET("/transcript/:fileId", a.transcript)
		api.GET("/speakers/:fileId", a.listSpeakers)
		api.PUT("/speakers/:fileId", a.putSpeaker)
		api.DELETE("/speakers/:fileId/:speakerTag", a.deleteSpeaker)
		api.GET("/diagnostics/consistency", a.consistency)
	}
}

func (a *API) upload(c *gin.Context) {
	if a.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file exceeds upload limit"})
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is required"})
		default:
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid multipart form"})
		}
		return
	}

	opts := service.SubmitOptions{Location: c.PostForm("location")}
	if raw := c.PostForm("speakerCount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "speakerCount must be an integer"})
			return
		}
		opts.SpeakerCountHint = &n
	}
	if raw := c.PostForm("allowDuplicates"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "allowDuplicates must be a boolean"})
			return
		}
		opts.AllowDuplicates = allow
	}

	f, err := fileHeader.Open()
	if err != nil {
		a.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		a.fail(c, err)
		return
	}

	file, job, err := a.deps.Intake.Submit(c.Request.Context(), data, fileHeader.Filename, declaredType(fileHeader.Header.Get("Content-Type"), fileHeader.Filename), opts)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{
		FileId:              file.ID,
		TranscriptionStatus: job.Status,
		Message:             "File uploaded, transcription queued",
		IsDraft:             file.IsDraft,
	})
}

// declaredType falls back to the filename extension when the client sent no useful type.
func declaredType(contentType, filename string) string {
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return contentType
}

func (a *API) status(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	resp, err := a.deps.Query.Status(c.Request.Context(), fileID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) retry(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	job, file, err := a.deps.Recovery.Retry(c.Request.Context(), fileID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RetryResponse{
		Success: true,
		Message: "Transcription retry queued",
		Job:     job,
		File:    file,
	})
}

func (a *API) triggerWorker(c *gin.Context) {
	// The batch outlives a disconnected caller so claimed jobs still reach a terminal state.
	resp, err := a.deps.Worker.ProcessPending(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) transcript(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	resp, err := a.deps.Query.Transcript(c.Request.Context(), fileID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) listSpeakers(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	labels, err := a.deps.Query.SpeakerLabels(c.Request.Context(), fileID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

func (a *API) putSpeaker(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	var req dto.SpeakerLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "speakerTag and displayName are required"})
		return
	}
	label, err := a.deps.Query.SetSpeakerLabel(c.Request.Context(), fileID, req.SpeakerTag, req.DisplayName)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, label)
}

func (a *API) deleteSpeaker(c *gin.Context) {
	fileID, ok := a.fileID(c)
	if !ok {
		return
	}
	if err := a.deps.Query.DeleteSpeakerLabel(c.Request.Context(), fileID, c.Param("speakerTag")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) consistency(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}
	report, err := a.deps.Checker.Scan(c.Request.Context(), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *API) fileID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("fileId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid file id"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) fail(c *gin.Context, err error) {
	var (
		validation *service.ValidationError
		duplicate  *service.DuplicateError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validation.Error()})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: "file has already been uploaded",
			DuplicateInfo: &dto.DuplicateInfo{
				ExistingFileId: duplicate.ExistingFileID,
				OriginalName:   duplicate.OriginalName,
				UploadedAt:     duplicate.UploadedAt,
			},
		})
	case errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, service.ErrNoJob),
		errors.Is(err, service.ErrTranscriptNotReady),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg := err.Error()
		if a.production {
			msg = "internal server error"
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msg})
	}
}
