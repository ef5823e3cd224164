package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rahuls2764/Skill/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinata records what was pinned and hands out sequential CIDs.
type fakePinata struct {
	mu     sync.Mutex
	n      int
	names  []string
	jsons  map[string]json.RawMessage
	auth   []string
	server *httptest.Server
}

func newFakePinata(t *testing.T) *fakePinata {
	f := &fakePinata{jsons: make(map[string]json.RawMessage)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.n++
		cid := fmt.Sprintf("cid%d", f.n)
		f.auth = append(f.auth, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/pinning/pinFileToIPFS":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.names = append(f.names, hdr.Filename)
		case "/pinning/pinJSONToIPFS":
			var body struct {
				Content  json.RawMessage `json:"pinataContent"`
				Metadata pinMetadata     `json:"pinataMetadata"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.names = append(f.names, body.Metadata.Name)
			f.jsons[cid] = body.Content
		default:
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: cid, PinSize: 1})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func TestPinCourse(t *testing.T) {
	fake := newFakePinata(t)
	p := NewPinata(fake.server.URL, "test-jwt", nil)

	content := CourseContent{
		Video:     &File{Name: "intro.mp4", Data: []byte("video")},
		Thumbnail: &File{Name: "thumb.png", Data: []byte("png")},
		Metadata: CourseMetadata{
			Title:            "Go basics",
			Category:         "dev",
			Price:            "10",
			Description:      "Learn Go",
			Prerequisites:    []string{"none"},
			LearningOutcomes: []string{"goroutines", "channels"},
			Quiz:             json.RawMessage(`{"passingScore":6}`),
		},
	}
	cid, err := PinCourse(context.Background(), p, content)
	require.NoError(t, err)
	assert.Equal(t, "cid7", cid)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "intro.mp4", fake.names[0])
	assert.Equal(t, "thumb.png", fake.names[1])
	assert.True(t, strings.HasPrefix(fake.names[2], "description_"))
	assert.True(t, strings.HasPrefix(fake.names[6], "course_metadata_"))
	for _, a := range fake.auth {
		assert.Equal(t, "Bearer test-jwt", a)
	}

	var doc CourseDocument
	require.NoError(t, json.Unmarshal(fake.jsons["cid7"], &doc))
	assert.Equal(t, "cid1", doc.VideoCID)
	assert.Equal(t, "cid2", doc.ThumbnailCID)
	assert.Equal(t, "cid3", doc.DescriptionCID)
	assert.Equal(t, "cid5", doc.LearningOutcomesCID)
	assert.Equal(t, "cid6", doc.QuizCID)
	assert.JSONEq(t, `{"passingScore":6}`, string(fake.jsons["cid6"]))
}

func TestPinata_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid jwt", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewPinata(server.URL, "bad", nil).PinText(context.Background(), "x.txt", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_UploadCourse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ipfs/course", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var meta CourseMetadata
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))
		assert.Equal(t, "Go basics", meta.Title)
		file, hdr, err := r.FormFile("videoFile")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "intro.mp4", hdr.Filename)
		assert.Equal(t, "video", string(data))
		_, _, err = r.FormFile("thumbnail")
		assert.Error(t, err, "thumbnail was not sent")
		_ = json.NewEncoder(w).Encode(map[string]string{"metadataCid": "bafymeta"})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", nil)
	cid, err := c.UploadCourse(context.Background(), CourseContent{
		Video:    &File{Name: "intro.mp4", Data: []byte("video")},
		Metadata: CourseMetadata{Title: "Go basics"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bafymeta", cid)
}

func TestClient_UploadQuizResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res QuizResult
		require.NoError(t, json.NewDecoder(r.Body).Decode(&res))
		assert.Equal(t, uint64(2), res.CourseID)
		_ = json.NewEncoder(w).Encode(map[string]string{"resultCid": "bafyresult"})
	}))
	defer server.Close()

	cid, err := NewClient(server.URL, nil).UploadQuizResult(context.Background(), QuizResult{CourseID: 2, Score: 8, Total: 10, Passed: true})
	require.NoError(t, err)
	assert.Equal(t, "bafyresult", cid)
}

func TestClient_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ipfs/course" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Failed to upload course content to IPFS"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()
	c := NewClient(server.URL, nil)

	_, err := c.UploadCourse(context.Background(), CourseContent{})
	assert.ErrorIs(t, err, errs.ErrContentUploadFailed)
	assert.Contains(t, err.Error(), "Failed to upload course content")

	_, err = c.UploadQuizResult(context.Background(), QuizResult{})
	assert.ErrorIs(t, err, errs.ErrContentUploadFailed)

	_, err = NewClient("http://127.0.0.1:1", nil).UploadQuizResult(context.Background(), QuizResult{})
	assert.ErrorIs(t, err, errs.ErrContentUploadFailed)
}
