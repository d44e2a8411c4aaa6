// Package platform holds helpers shared by the session clients.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
)

// Media is a downloaded attachment ready for upload.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}

// Reader returns a fresh reader over the file contents.
func (m Media) Reader() io.Reader {
	return bytes.NewReader(m.Data)
}

var defaultClient = &http.Client{Timeout: constants.MediaDownloadTimeoutSec * time.Second}

// Download fetches att.URL into memory. Missing or oversized files come back
// as MEDIA_UNAVAILABLE. Network failures and 5xx answers are transient.
func Download(ctx context.Context, client *http.Client, att models.Attachment) (Media, error) {
	if client == nil {
		client = defaultClient
	}
	u, err := url.Parse(att.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return Media{}, apperrors.NewMediaUnavailableError("attachment has no downloadable url", err)
	}
	if att.Size > constants.MaxMediaBytes {
		return Media{}, apperrors.NewMediaUnavailableError(fmt.Sprintf("attachment exceeds %d bytes", constants.MaxMediaBytes), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return Media{}, apperrors.NewMediaUnavailableError("invalid attachment url", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Media{}, apperrors.NewTransientDeliveryError("media download", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return Media{}, apperrors.NewTransientDeliveryError("media download", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Media{}, apperrors.NewMediaUnavailableError(fmt.Sprintf("source file returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxMediaBytes+1))
	if err != nil {
		return Media{}, apperrors.NewTransientDeliveryError("media download", err)
	}
	if len(data) > constants.MaxMediaBytes {
		return Media{}, apperrors.NewMediaUnavailableError(fmt.Sprintf("attachment exceeds %d bytes", constants.MaxMediaBytes), nil)
	}

	media := Media{
		Name:        att.FileName,
		ContentType: att.ContentType,
		Data:        data,
	}
	if media.ContentType == "" {
		media.ContentType = resp.Header.Get("Content-Type")
	}
	if media.Name == "" {
		media.Name = fileName(u, media.ContentType, att.Kind)
	}
	return media, nil
}

func fileName(u *url.URL, contentType string, kind models.AttachmentKind) string {
	if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
		return base
	}
	ext := ""
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(parsed); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return string(kind) + ext
}
