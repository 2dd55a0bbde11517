package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/storage"
	"chat-backend/pkg/response"
)

const maxUploadSize = 10 << 20 // 10 MB

type UploadHandler struct {
	store *storage.MediaStore
}

func NewUploadHandler(store *storage.MediaStore) *UploadHandler {
	return &UploadHandler{store: store}
}

func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}

	url, err := h.store.Upload(c.Request.Context(), file)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "upload failed")
		return
	}
	response.Created(c, gin.H{"url": url, "content_type": file.Header.Get("Content-Type")})
}
