package httpapi

import (
	"strings"

	"mitsnews.org/internal/submission"
)

// Shown when the owner profile is missing or blank.
const (
	unknownUser = "Unknown User"
	noEmail     = "No email"
)

type ownerView struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func presentOwner(o *submission.Owner) ownerView {
	v := ownerView{FullName: unknownUser, Email: noEmail}
	if o == nil {
		return v
	}
	if name := strings.TrimSpace(o.FullName); name != "" {
		v.FullName = name
	}
	if email := strings.TrimSpace(o.Email); email != "" {
		v.Email = email
	}
	return v
}

type queueItemView struct {
	submission.Submission
	Owner      ownerView `json:"owner"`
	ImageCount int       `json:"image_count"`
}

func presentQueue(items []submission.QueueItem) []queueItemView {
	out := make([]queueItemView, 0, len(items))
	for _, it := range items {
		out = append(out, queueItemView{
			Submission: it.Submission,
			Owner:      presentOwner(it.Owner),
			ImageCount: it.ImageCount,
		})
	}
	return out
}

type detailView struct {
	submission.Submission
	Owner  ownerView          `json:"owner"`
	Images []submission.Image `json:"images"`
}

func presentDetail(d submission.Detail) detailView {
	images := d.Images
	if images == nil {
		images = []submission.Image{}
	}
	return detailView{Submission: d.Submission, Owner: presentOwner(d.Owner), Images: images}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}
