// Command smoke drives one submission through upload, create, review and the
// public gallery against a running API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/config"
)

// 1x1 PNG.
var pixel = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90wS\xde\x00\x00\x00\x0cIDATx\x9cc\xf8\x0f\x00\x00\x01\x01\x00\x05\x18\xd8N\x00\x00\x00\x00IEND\xaeB`\x82")

type client struct {
	base string
	http *http.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	var (
		base    = flag.String("base", "http://localhost"+cfg.HTTPAddr, "API base URL")
		adminID = flag.String("admin", "local-admin", "user id of an admin profile")
	)
	flag.Parse()
	if cfg.AuthSecret == "" {
		log.Fatal("missing MITSNEWS_AUTH_SECRET")
	}

	issuer, err := auth.NewAuthenticator(cfg.AuthSecret, auth.NewMemoryProfiles(),
		auth.WithIssuer(cfg.AuthIssuer), auth.WithAudience(cfg.AuthAudience))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	contributorID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	contributor, err := issuer.IssueToken(auth.Identity{UserID: contributorID, Email: contributorID + "@smoke.test", FullName: "Smoke Test"}, 10*time.Minute)
	if err != nil {
		log.Fatalf("issue contributor token: %v", err)
	}
	admin, err := issuer.IssueToken(auth.Identity{UserID: *adminID}, 10*time.Minute)
	if err != nil {
		log.Fatalf("issue admin token: %v", err)
	}

	c := client{base: *base, http: &http.Client{Timeout: 30 * time.Second}}

	var uploaded struct {
		Results []struct {
			Status string          `json:"status"`
			Ref    json.RawMessage `json:"ref"`
			Error  string          `json:"error"`
		} `json:"results"`
	}
	c.upload(contributor, "pixel.png", pixel, &uploaded)
	if len(uploaded.Results) != 1 || uploaded.Results[0].Status != "stored" {
		log.Fatalf("upload failed: %+v", uploaded.Results)
	}

	title := "Smoke test " + contributorID
	var created struct {
		Submission struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"submission"`
		Images     []json.RawMessage `json:"images"`
		ImageError string            `json:"image_error"`
	}
	c.call(http.MethodPost, "/v1/submissions", contributor, map[string]any{
		"type":          "department",
		"department":    "CSE",
		"section":       "Department Activities",
		"title":         title,
		"description":   "Automated smoke submission.",
		"activity_date": time.Now().UTC().Format("2006-01-02"),
		"images":        []json.RawMessage{uploaded.Results[0].Ref},
	}, http.StatusCreated, &created)
	if created.Submission.Status != "pending" || len(created.Images) != 1 {
		log.Fatalf("unexpected create result: %+v", created)
	}

	var reviewed struct {
		Status     string `json:"status"`
		ReviewedBy string `json:"reviewed_by"`
	}
	c.call(http.MethodPost, "/v1/submissions/"+created.Submission.ID+"/review", admin,
		map[string]string{"decision": "approved"}, http.StatusOK, &reviewed)
	if reviewed.Status != "approved" || reviewed.ReviewedBy != *adminID {
		log.Fatalf("unexpected review result: %+v", reviewed)
	}

	var gallery struct {
		Items []struct {
			ID     string            `json:"id"`
			Images []json.RawMessage `json:"images"`
		} `json:"items"`
	}
	c.call(http.MethodGet, "/v1/gallery?"+url.Values{"search": {contributorID}}.Encode(), "", nil, http.StatusOK, &gallery)
	if len(gallery.Items) != 1 || gallery.Items[0].ID != created.Submission.ID || len(gallery.Items[0].Images) != 1 {
		log.Fatalf("submission missing from gallery: %+v", gallery.Items)
	}

	fmt.Printf("smoke ok: submission %s approved with %d image(s)\n", created.Submission.ID, len(gallery.Items[0].Images))
}

func (c client) call(method, path, token string, body any, want int, out any) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.send(req, token, want, out)
}

func (c client) upload(token, name string, data []byte, out any) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", name)
	if err != nil {
		log.Fatalf("multipart: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	req, err := http.NewRequest(http.MethodPost, c.base+"/v1/uploads", &buf)
	if err != nil {
		log.Fatalf("request upload: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.send(req, token, http.StatusCreated, out)
}

func (c client) send(req *http.Request, token string, want int, out any) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", req.Method, req.URL.Path, want, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", req.Method, req.URL.Path, err)
		}
	}
}
