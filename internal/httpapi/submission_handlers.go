package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"mitsnews.org/internal/assets"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/submission"
)

type createSubmissionRequest struct {
	submission.CreateRequest
	Images []assets.Ref `json:"images"`
}

type createSubmissionResponse struct {
	Submission submission.Submission `json:"submission"`
	Images     []submission.Image    `json:"images"`
	ImageError string                `json:"image_error,omitempty"`
}

type bindImagesRequest struct {
	Images []assets.Ref `json:"images"`
}

type reviewRequest struct {
	Decision string `json:"decision"`
}

// handleCreateSubmission creates the record and, when refs are supplied, binds
// them right away. A failed bind does not undo the submission; the caller gets
// the error text and may bind again.
func (a *API) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session := auth.SessionFromContext(r.Context())
	sub, err := a.engine.Create(r.Context(), session, req.CreateRequest)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	resp := createSubmissionResponse{Submission: sub, Images: []submission.Image{}}
	if len(req.Images) > 0 {
		images, err := a.assets.Bind(r.Context(), session, sub.ID, req.Images)
		if err != nil {
			resp.ImageError = err.Error()
		} else {
			resp.Images = images
		}
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/submissions/%s", sub.ID))
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListOwn(w http.ResponseWriter, r *http.Request) {
	subs, err := a.engine.ListOwn(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(subs))
}

func (a *API) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	d, err := a.engine.Get(r.Context(), auth.SessionFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presentDetail(d))
}

func (a *API) handleBindImages(w http.ResponseWriter, r *http.Request) {
	var req bindImagesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	images, err := a.assets.Bind(r.Context(), auth.SessionFromContext(r.Context()), r.PathValue("id"), req.Images)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"images": images})
}

func (a *API) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	if err := a.assets.RemoveImage(r.Context(), auth.SessionFromContext(r.Context()), r.PathValue("id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision := submission.Status(strings.TrimSpace(req.Decision))
	sub, err := a.engine.Review(r.Context(), auth.SessionFromContext(r.Context()), r.PathValue("id"), decision)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleGallery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := a.engine.Gallery(r.Context(), submission.GalleryFilter{
		Type:   q.Get("type"),
		Search: q.Get("search"),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	items, err := a.engine.PendingQueue(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(presentQueue(items)))
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	items, err := a.engine.ApprovedArchive(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(presentQueue(items)))
}
