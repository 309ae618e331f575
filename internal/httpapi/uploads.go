package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/digkill/imagecredits/internal/storage"
)

// multipartOverhead leaves room for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploader == nil {
		s.writeError(w, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(storage.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, storage.ErrTooLarge.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, storage.MaxUploadBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read file error")
		return
	}

	url, err := s.deps.Uploader.Upload(r.Context(), data, header.Header.Get("Content-Type"))
	switch {
	case err == nil:
		s.log.Info("reference image uploaded", "user_id", currentUser(r), "bytes", len(data))
		s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case errors.Is(err, storage.ErrTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, storage.ErrNotImage), errors.Is(err, storage.ErrEmpty):
		s.badRequest(w, err)
	default:
		s.internalError(w, r, err)
	}
}
