package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"mitsnews.org/internal/assets"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/submission"
)

const uploadField = "files"

type uploadResult struct {
	Name   string      `json:"name"`
	Status string      `json:"status"`
	Ref    *assets.Ref `json:"ref,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// handleUpload stages every file of the multipart field concurrently. The
// response lists one result per file: 201 when all were stored, 207 otherwise.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if err := auth.RequireCapability(session, auth.CapImageManageOwn); err != nil {
		handleDomainError(w, r, err)
		return
	}

	limit := a.maxUploadBytes*int64(a.maxUploadFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[uploadField]
	switch {
	case len(files) == 0:
		writeError(w, r, http.StatusBadRequest, "no files in field "+uploadField)
		return
	case len(files) > a.maxUploadFiles:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", a.maxUploadFiles))
		return
	}

	uploads := make([]assets.Upload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, assets.Upload{Name: fh.Filename, Open: openPart(fh)})
	}

	outcomes := a.assets.StageBatch(r.Context(), session, uploads)
	results := make([]uploadResult, 0, len(outcomes))
	code := http.StatusCreated
	for _, o := range outcomes {
		res := uploadResult{Name: o.Name, Status: "stored", Ref: o.Ref}
		if o.Err != nil {
			res.Status = "failed"
			if errors.Is(o.Err, submission.ErrInvalidInput) {
				res.Status = "rejected"
			}
			res.Error = o.Err.Error()
			code = http.StatusMultiStatus
		}
		results = append(results, res)
	}
	writeJSON(w, code, map[string]any{"results": results})
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

func (a *API) handleRemoveUpload(w http.ResponseWriter, r *http.Request) {
	ref := assets.Ref{Key: r.PathValue("key")}
	if err := a.assets.Remove(r.Context(), auth.SessionFromContext(r.Context()), ref); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
