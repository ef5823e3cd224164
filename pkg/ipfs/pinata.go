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

	"github.com/rahuls2764/Skill/pkg/logger"
)

// Pinner pins content and returns its CID.
type Pinner interface {
	PinFile(ctx context.Context, name string, data []byte) (string, error)
	PinText(ctx context.Context, name, text string) (string, error)
	PinJSON(ctx context.Context, name string, v interface{}) (string, error)
}

// Pinata is a Pinata pinning API client authenticated with a JWT.
type Pinata struct {
	apiURL string
	jwt    string
	http   *http.Client
	log    *logger.Logger
}

func NewPinata(apiURL, jwt string, log *logger.Logger) *Pinata {
	if log == nil {
		log = logger.Nop()
	}
	return &Pinata{
		apiURL: strings.TrimRight(apiURL, "/"),
		jwt:    jwt,
		http:   &http.Client{Timeout: UploadTimeout},
		log:    log,
	}
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

func (p *Pinata) PinFile(ctx context.Context, name string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	meta, _ := json.Marshal(pinMetadata{Name: name})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return p.pin(ctx, "/pinning/pinFileToIPFS", mw.FormDataContentType(), body, name)
}

func (p *Pinata) PinText(ctx context.Context, name, text string) (string, error) {
	return p.PinFile(ctx, name, []byte(text))
}

func (p *Pinata) PinJSON(ctx context.Context, name string, v interface{}) (string, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"pinataContent":  v,
		"pinataMetadata": pinMetadata{Name: name},
	})
	if err != nil {
		return "", err
	}
	return p.pin(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(raw), name)
}

func (p *Pinata) pin(ctx context.Context, path, contentType string, body io.Reader, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("pin %s: pinata returned %s: %s", name, resp.Status, strings.TrimSpace(string(msg)))
	}
	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pin %s: decode response: %w", name, err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pin %s: empty IpfsHash", name)
	}
	p.log.Debug("Pinned", "name", name, "cid", out.IpfsHash, "size", out.PinSize)
	return out.IpfsHash, nil
}

// PinCourse pins the course files, texts and quiz, then the metadata
// document that references them, and returns the document's CID.
func PinCourse(ctx context.Context, p Pinner, content CourseContent) (string, error) {
	stamp := time.Now().UnixMilli()
	meta := content.Metadata
	doc := CourseDocument{
		Title:      meta.Title,
		Category:   meta.Category,
		Difficulty: meta.Difficulty,
		Price:      meta.Price,
		Duration:   meta.Duration,
	}

	var err error
	if content.Video != nil {
		if doc.VideoCID, err = p.PinFile(ctx, content.Video.Name, content.Video.Data); err != nil {
			return "", err
		}
	}
	if content.Thumbnail != nil {
		if doc.ThumbnailCID, err = p.PinFile(ctx, content.Thumbnail.Name, content.Thumbnail.Data); err != nil {
			return "", err
		}
	}
	if doc.DescriptionCID, err = p.PinText(ctx, fmt.Sprintf("description_%d.txt", stamp), meta.Description); err != nil {
		return "", err
	}
	if doc.PrerequisitesCID, err = p.PinText(ctx, fmt.Sprintf("prerequisites_%d.txt", stamp), strings.Join(meta.Prerequisites, "\n")); err != nil {
		return "", err
	}
	if doc.LearningOutcomesCID, err = p.PinText(ctx, fmt.Sprintf("outcomes_%d.txt", stamp), strings.Join(meta.LearningOutcomes, "\n")); err != nil {
		return "", err
	}
	var quiz interface{} = json.RawMessage("null")
	if len(meta.Quiz) > 0 {
		quiz = meta.Quiz
	}
	if doc.QuizCID, err = p.PinJSON(ctx, fmt.Sprintf("quiz_%d.json", stamp), quiz); err != nil {
		return "", err
	}
	return p.PinJSON(ctx, fmt.Sprintf("course_metadata_%d.json", stamp), doc)
}
