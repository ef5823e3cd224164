package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/logger"
)

var UploadTimeout = 10 * time.Minute

// Client uploads course content through the backend's /api/ipfs routes.
// Every failure is reported as ContentUploadFailed.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: UploadTimeout},
		log:     log,
	}
}

// UploadCourse posts the course files and metadata and returns the CID of
// the composed metadata document.
func (c *Client) UploadCourse(ctx context.Context, content CourseContent) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for field, f := range map[string]*File{"videoFile": content.Video, "thumbnail": content.Thumbnail} {
		if f == nil {
			continue
		}
		part, err := mw.CreateFormFile(field, f.Name)
		if err != nil {
			return "", uploadErr(err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", uploadErr(err)
		}
	}
	meta, err := json.Marshal(content.Metadata)
	if err != nil {
		return "", uploadErr(err)
	}
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return "", uploadErr(err)
	}
	if err := mw.Close(); err != nil {
		return "", uploadErr(err)
	}

	var out struct {
		MetadataCID string `json:"metadataCid"`
	}
	if err := c.post(ctx, "/api/ipfs/course", mw.FormDataContentType(), body, &out); err != nil {
		return "", err
	}
	if out.MetadataCID == "" {
		return "", errs.New(errs.ContentUploadFailed, "backend returned no metadataCid")
	}
	c.log.Info("Course content uploaded", "cid", out.MetadataCID, "title", content.Metadata.Title)
	return out.MetadataCID, nil
}

// UploadQuizResult pins a quiz result and returns its CID.
func (c *Client) UploadQuizResult(ctx context.Context, result QuizResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", uploadErr(err)
	}
	var out struct {
		ResultCID string `json:"resultCid"`
	}
	if err := c.post(ctx, "/api/ipfs/quiz-result", "application/json", bytes.NewReader(raw), &out); err != nil {
		return "", err
	}
	if out.ResultCID == "" {
		return "", errs.New(errs.ContentUploadFailed, "backend returned no resultCid")
	}
	return out.ResultCID, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return uploadErr(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return uploadErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return errs.Newf(errs.ContentUploadFailed, "%s: %s", path, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return uploadErr(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func uploadErr(err error) error {
	return &errs.Error{Kind: errs.ContentUploadFailed, Reason: err.Error(), Err: err}
}
