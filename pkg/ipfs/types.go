// Package ipfs moves course content to IPFS. Client talks to the upload
// backend; Pinata is the pinning service the backend itself uses.
package ipfs

import (
	"encoding/json"
	"time"
)

// File is an in-memory upload.
type File struct {
	Name string
	Data []byte
}

// CourseMetadata is the JSON "metadata" form field of a course upload.
type CourseMetadata struct {
	Title            string          `json:"title"`
	Category         string          `json:"category"`
	Difficulty       string          `json:"difficulty,omitempty"`
	Price            string          `json:"price"`
	Duration         string          `json:"duration,omitempty"`
	Description      string          `json:"description"`
	Prerequisites    []string        `json:"prerequisites"`
	LearningOutcomes []string        `json:"learningOutcomes"`
	Quiz             json.RawMessage `json:"quiz,omitempty"`
}

// CourseContent is everything uploaded for one course.
type CourseContent struct {
	Video     *File
	Thumbnail *File
	Metadata  CourseMetadata
}

// CourseDocument is the pinned course metadata document whose CID goes
// on-chain.
type CourseDocument struct {
	Title               string `json:"title"`
	Category            string `json:"category"`
	Difficulty          string `json:"difficulty,omitempty"`
	Price               string `json:"price"`
	Duration            string `json:"duration,omitempty"`
	VideoCID            string `json:"videoCid"`
	ThumbnailCID        string `json:"thumbnailCid"`
	DescriptionCID      string `json:"descriptionCid"`
	PrerequisitesCID    string `json:"prerequisitesCid"`
	LearningOutcomesCID string `json:"learningOutcomesCid"`
	QuizCID             string `json:"quizCid"`
}

// QuizResult is the record pinned when a student finishes a course quiz.
type QuizResult struct {
	CourseID    uint64            `json:"courseId"`
	Student     string            `json:"student"`
	Score       uint64            `json:"score"`
	Total       uint64            `json:"total"`
	Passed      bool              `json:"passed"`
	Answers     map[string]string `json:"answers,omitempty"`
	CompletedAt time.Time         `json:"completedAt"`
}
