package web

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/authgate/internal/authgate"
	"go.uber.org/zap"
)

// HandleProfile returns the authenticated user's identity. Token material
// never leaves the service; only presence is reported.
func HandleProfile(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		user, found := authgate.UserFromContext(contextGin)
		if !found {
			logger.Warn("missing user on context",
				zap.String("code", "api.me.missing_user"))
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"id":         user.ID,
			"has_tokens": user.AccessToken != "" && user.RefreshToken != "",
		})
	}
}

// HandleUpload streams a multipart file to the provider on the user's
// behalf. The route runs behind the gate and the token refresher, so the
// context user carries a current access token.
func HandleUpload(httpClient *http.Client, uploadURL string, logger *zap.Logger) gin.HandlerFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		user, found := authgate.UserFromContext(contextGin)
		if !found {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}

		fileHeader, fileErr := contextGin.FormFile("file")
		if fileErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
			return
		}
		file, openErr := fileHeader.Open()
		if openErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		defer func() { _ = file.Close() }()

		status, forwardErr := forwardToProvider(contextGin, httpClient, uploadURL, user.AccessToken, fileHeader, file)
		if forwardErr != nil {
			logger.Error("provider upload failed",
				zap.String("code", "api.upload.provider_failure"),
				zap.Int64("user_id", user.ID),
				zap.Error(forwardErr))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upload_failed"})
			return
		}
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			logger.Warn("provider rejected upload",
				zap.String("code", "api.upload.provider_rejected"),
				zap.Int64("user_id", user.ID),
				zap.Int("status", status))
			contextGin.AbortWithStatusJSON(status, gin.H{"error": "upload_rejected"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"name": fileHeader.Filename, "size": fileHeader.Size})
	}
}

func forwardToProvider(contextGin *gin.Context, httpClient *http.Client, uploadURL string, accessToken string, fileHeader *multipart.FileHeader, file io.Reader) (int, error) {
	request, requestErr := http.NewRequestWithContext(contextGin.Request.Context(), http.MethodPost, uploadURL, file)
	if requestErr != nil {
		return 0, requestErr
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("X-File-Name", fileHeader.Filename)
	request.ContentLength = fileHeader.Size

	response, doErr := httpClient.Do(request)
	if doErr != nil {
		return 0, doErr
	}
	defer func() { _ = response.Body.Close() }()
	if _, drainErr := io.Copy(io.Discard, response.Body); drainErr != nil {
		return response.StatusCode, fmt.Errorf("drain provider response: %w", drainErr)
	}
	return response.StatusCode, nil
}
