package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bizhanchik/Nerdie/internal/config"
	"github.com/bizhanchik/Nerdie/internal/domain"
	"github.com/bizhanchik/Nerdie/internal/services"
	"github.com/bizhanchik/Nerdie/internal/storage"
)

type API struct {
	cfg      config.Config
	files    *storage.FileManager
	store    *storage.Store
	pipeline *services.Pipeline
	lessons  *services.LessonGenerator
	chat     *services.ChatService
	pdf      *services.PDFService
	share    *services.ShareService
	log      *logrus.Logger
}

func NewAPI(cfg config.Config, fm *storage.FileManager, store *storage.Store, pipeline *services.Pipeline, lessons *services.LessonGenerator, chat *services.ChatService, pdf *services.PDFService, share *services.ShareService, log *logrus.Logger) *API {
	return &API{cfg: cfg, files: fm, store: store, pipeline: pipeline, lessons: lessons, chat: chat, pdf: pdf, share: share, log: log}
}

func registerRoutes(r *gin.Engine, api *API) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)

		apiGroup.GET("/folders", api.handleListFolders)
		apiGroup.POST("/folders", api.handleCreateFolder)
		apiGroup.PATCH("/folders/:id", api.handleRenameFolder)
		apiGroup.DELETE("/folders/:id", api.handleDeleteFolder)
		apiGroup.GET("/folders/:id/lectures", api.handleListLecturesByFolder)

		apiGroup.GET("/lectures", api.handleListLectures)
		apiGroup.GET("/lectures/:id", api.handleGetLecture)
		apiGroup.PATCH("/lectures/:id", api.handleUpdateLecture)
		apiGroup.DELETE("/lectures/:id", api.handleDeleteLecture)
		apiGroup.GET("/lectures/:id/pack-status", api.handlePackStatus)

		apiGroup.POST("/lectures/process-recording", api.handleProcessRecording)
		apiGroup.POST("/lectures/process-photos", api.handleProcessPhotos)
		apiGroup.POST("/lectures/:id/retry", api.handleRetryProcessing)
		apiGroup.GET("/lectures/:id/progress", api.handleProgress)

		apiGroup.POST("/lectures/:id/chat", api.handleChat)

		apiGroup.POST("/lectures/:id/lesson", api.handleGenerateLesson)
		apiGroup.GET("/lessons", api.handleListLessons)
		apiGroup.GET("/lessons/:id", api.handleGetLesson)
		apiGroup.DELETE("/lessons/:id", api.handleDeleteLesson)
		apiGroup.POST("/lessons/:id/complete", api.handleCompleteLesson)

		apiGroup.GET("/profile", api.handleGetProfile)
		apiGroup.PUT("/profile", api.handleSaveProfile)

		apiGroup.POST("/lectures/:id/pdf", api.handleGeneratePDF)
		apiGroup.POST("/lectures/:id/share", api.handleShareLecture)
	}

	r.GET("/pdf/:id", api.handleServePDF)
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Folders ---------------------------------------------------------------

func (a *API) handleListFolders(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.ListFolders())
}

func (a *API) handleCreateFolder(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	folder, err := a.store.CreateFolder(strings.TrimSpace(payload.Name))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, folder)
}

func (a *API) handleRenameFolder(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	folder, err := a.store.RenameFolder(c.Param("id"), strings.TrimSpace(payload.Name))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, folder)
}

func (a *API) handleDeleteFolder(c *gin.Context) {
	if err := a.store.DeleteFolder(c.Param("id")); err != nil {
		respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListLecturesByFolder(c *gin.Context) {
	if _, err := a.store.GetFolder(c.Param("id")); err != nil {
		respondMessage(c, http.StatusNotFound, "folder not found")
		return
	}
	c.JSON(http.StatusOK, a.store.ListLecturesByFolder(c.Param("id")))
}

// Lectures ---------------------------------------------------------------

func (a *API) handleListLectures(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.ListLectures())
}

func (a *API) handleGetLecture(c *gin.Context) {
	lec, err := a.store.GetLecture(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}
	c.JSON(http.StatusOK, lec)
}

func (a *API) handleUpdateLecture(c *gin.Context) {
	lec, err := a.store.GetLecture(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	var payload struct {
		Title    *string `json:"title"`
		FolderID *string `json:"folderId"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if payload.Title != nil {
		title := strings.TrimSpace(*payload.Title)
		if title == "" {
			respondMessage(c, http.StatusBadRequest, "title cannot be empty")
			return
		}
		lec.Title = title
	}
	if payload.FolderID != nil {
		if *payload.FolderID != "" {
			if _, err := a.store.GetFolder(*payload.FolderID); err != nil {
				respondMessage(c, http.StatusNotFound, "folder not found")
				return
			}
		}
		lec.FolderID = *payload.FolderID
	}

	if err := a.store.SaveLecture(lec); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, lec)
}

func (a *API) handleDeleteLecture(c *gin.Context) {
	lecID := c.Param("id")
	lec, err := a.store.GetLecture(lecID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	if err := a.store.DeleteLecture(lecID); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	if lec.AudioURI != "" {
		_ = os.Remove(lec.AudioURI)
	}
	for _, photo := range lec.PhotoURIs {
		_ = os.Remove(photo)
	}
	_ = os.Remove(a.files.PDFPath(lecID))

	c.Status(http.StatusNoContent)
}

func (a *API) handlePackStatus(c *gin.Context) {
	lec, err := a.store.GetLecture(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}
	c.JSON(http.StatusOK, services.PackStatus(lec))
}

// Processing ---------------------------------------------------------------

func (a *API) handleProcessRecording(c *gin.Context) {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "missing audio file")
		return
	}

	duration, _ := strconv.Atoi(c.PostForm("duration"))
	folderID := c.PostForm("folderId")
	if folderID != "" {
		if _, err := a.store.GetFolder(folderID); err != nil {
			respondMessage(c, http.StatusNotFound, "folder not found")
			return
		}
	}

	upload, err := fileHeader.Open()
	if err != nil {
		respondMessage(c, http.StatusInternalServerError, "unable to read uploaded file")
		return
	}
	defer upload.Close()

	audioPath, err := a.files.SaveUploadedAudio(upload, fileHeader.Filename)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, err.Error())
		return
	}

	preparedPath, err := a.files.PrepareForTranscription(audioPath)
	if err != nil {
		a.log.WithError(err).Warn("audio preparation failed, uploading original")
		preparedPath = audioPath
	}

	lec, err := a.pipeline.ProcessRecording(c.Request.Context(), preparedPath, duration, folderID, nil)
	if err != nil {
		respondPipelineError(c, lec, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lecture": lec})
}

func (a *API) handleProcessPhotos(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := form.File["photos"]
	if len(files) == 0 {
		respondMessage(c, http.StatusBadRequest, "missing photos")
		return
	}

	folderID := c.PostForm("folderId")
	if folderID != "" {
		if _, err := a.store.GetFolder(folderID); err != nil {
			respondMessage(c, http.StatusNotFound, "folder not found")
			return
		}
	}

	photoPaths := make([]string, 0, len(files))
	for _, fileHeader := range files {
		upload, err := fileHeader.Open()
		if err != nil {
			respondMessage(c, http.StatusInternalServerError, "unable to read uploaded photo")
			return
		}

		path, err := a.files.SaveUploadedPhoto(upload, fileHeader.Filename)
		upload.Close()
		if err != nil {
			respondMessage(c, http.StatusBadRequest, err.Error())
			return
		}
		photoPaths = append(photoPaths, path)
	}

	lec, err := a.pipeline.ProcessPhotos(c.Request.Context(), photoPaths, folderID, nil)
	if err != nil {
		respondPipelineError(c, lec, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lecture": lec})
}

func (a *API) handleRetryProcessing(c *gin.Context) {
	lec, err := a.pipeline.Retry(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		respondPipelineError(c, lec, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lecture": lec})
}

func (a *API) handleProgress(c *gin.Context) {
	lecID := c.Param("id")
	if progress, ok := a.pipeline.Progress(lecID); ok {
		c.JSON(http.StatusOK, gin.H{"running": true, "progress": progress})
		return
	}

	lec, err := a.store.GetLecture(lecID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": false, "status": lec.Status})
}

// Chat ---------------------------------------------------------------------

func (a *API) handleChat(c *gin.Context) {
	var payload struct {
		Question string `json:"question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	msg, err := a.chat.Ask(c.Request.Context(), c.Param("id"), strings.TrimSpace(payload.Question))
	if err != nil {
		if errors.Is(err, services.ErrNoTranscription) {
			respondMessage(c, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			respondMessage(c, http.StatusNotFound, "lecture not found")
			return
		}
		respondAIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Lessons --------------------------------------------------------------------

func (a *API) handleGenerateLesson(c *gin.Context) {
	var payload struct {
		Regenerate bool `json:"regenerate"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			respondMessage(c, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	lesson, err := a.lessons.Generate(c.Request.Context(), c.Param("id"), payload.Regenerate)
	if err != nil {
		var exists *services.ErrLessonExists
		switch {
		case errors.As(err, &exists):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "a lesson already exists for this lecture",
				"lesson": exists.Existing,
			})
		case errors.Is(err, services.ErrPackIncomplete):
			respondMessage(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			respondMessage(c, http.StatusNotFound, "lecture not found")
		default:
			respondAIError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lesson": lesson})
}

func (a *API) handleListLessons(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.ListLessons())
}

func (a *API) handleGetLesson(c *gin.Context) {
	lesson, err := a.store.GetLesson(c.Param("id"))
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lesson not found")
		return
	}
	c.JSON(http.StatusOK, lesson)
}

func (a *API) handleDeleteLesson(c *gin.Context) {
	if err := a.store.DeleteLesson(c.Param("id")); err != nil {
		respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleCompleteLesson(c *gin.Context) {
	var payload struct {
		Score *int `json:"score" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	lesson, err := a.lessons.Complete(c.Param("id"), *payload.Score)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondMessage(c, http.StatusNotFound, "lesson not found")
			return
		}
		respondMessage(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, lesson)
}

// Profile --------------------------------------------------------------------

func (a *API) handleGetProfile(c *gin.Context) {
	profile, ok := a.store.GetProfile()
	if !ok {
		respondMessage(c, http.StatusNotFound, "profile not created yet")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (a *API) handleSaveProfile(c *gin.Context) {
	var profile domain.UserProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if profile.Age != nil && (*profile.Age < 1 || *profile.Age > 120) {
		respondMessage(c, http.StatusBadRequest, "age out of range")
		return
	}

	if err := a.store.SaveProfile(profile); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// PDF export + sharing ---------------------------------------------------------

func (a *API) handleGeneratePDF(c *gin.Context) {
	lecID := c.Param("id")
	lec, err := a.store.GetLecture(lecID)
	if err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	if lec.Status != domain.StatusProcessed {
		respondMessage(c, http.StatusBadRequest, "lecture has no completed learning pack")
		return
	}

	folder, _ := a.store.GetFolder(lec.FolderID)

	pdfPath := a.files.PDFPath(lec.ID)
	if err := a.pdf.GeneratePackPDF(lec, folder, pdfPath); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pdfPath": pdfPath})
}

func (a *API) handleShareLecture(c *gin.Context) {
	lecID := c.Param("id")
	if _, err := a.store.GetLecture(lecID); err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	if _, err := os.Stat(a.files.PDFPath(lecID)); err != nil {
		respondMessage(c, http.StatusBadRequest, "no pdf available for this lecture")
		return
	}

	url, expiresAt, err := a.share.Generate(lecID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "expiresAt": expiresAt.UTC()})
}

func (a *API) handleServePDF(c *gin.Context) {
	lecID := c.Param("id")
	expiresParam := c.Query("exp")
	signature := c.Query("sig")

	if expiresParam == "" || signature == "" {
		respondMessage(c, http.StatusBadRequest, "missing signature")
		return
	}

	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "invalid expiration")
		return
	}

	if expires < time.Now().Unix() {
		respondMessage(c, http.StatusGone, "link expired")
		return
	}

	if !a.share.Validate(c.Request.URL.Path, expires, signature) {
		respondMessage(c, http.StatusForbidden, "invalid signature")
		return
	}

	if _, err := a.store.GetLecture(lecID); err != nil {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	pdfPath := a.files.PDFPath(lecID)
	if _, err := os.Stat(pdfPath); err != nil {
		respondMessage(c, http.StatusNotFound, "pdf not found")
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(pdfPath, filepath.Base(pdfPath))
}

// Error responses ---------------------------------------------------------------

func respondError(c *gin.Context, status int, err error) {
	respondMessage(c, status, err.Error())
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		respondMessage(c, http.StatusNotFound, err.Error())
		return
	}
	respondMessage(c, http.StatusInternalServerError, err.Error())
}

// respondPipelineError maps a pipeline failure onto an HTTP status, keeping
// the classified taxonomy visible so the UI can offer retry or redirect to
// settings for credential problems.
func respondPipelineError(c *gin.Context, lec domain.Lecture, err error) {
	if errors.Is(err, services.ErrRunInFlight) {
		respondMessage(c, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		respondMessage(c, http.StatusNotFound, "lecture not found")
		return
	}

	var aiErr *domain.AIError
	if errors.As(err, &aiErr) {
		body := gin.H{
			"error":     aiErr.Message,
			"type":      aiErr.Type,
			"step":      aiErr.Step,
			"retryable": aiErr.Retryable,
		}
		if lec.ID != "" {
			body["lectureId"] = lec.ID
		}
		c.JSON(statusForAIError(aiErr.Type), body)
		return
	}

	respondMessage(c, http.StatusInternalServerError, err.Error())
}

func respondAIError(c *gin.Context, err error) {
	respondPipelineError(c, domain.Lecture{}, err)
}

func statusForAIError(t domain.AIErrorType) int {
	switch t {
	case domain.ErrAPIKeyMissing, domain.ErrAPIKeyInvalid:
		return http.StatusUnauthorized
	case domain.ErrRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrNetwork, domain.ErrTranscriptionFailed, domain.ErrGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
