package queue

import (
	"encoding/json"
	"fmt"
)

// TaskType discriminates the envelope's Data payload. These are the only
// recognized task types crossing the message bus (§4.1).
type TaskType string

const (
	TaskFileUpload     TaskType = "file_upload"
	TaskCrawl          TaskType = "crawl"
	TaskDeleteDocument TaskType = "delete_document"
	TaskRecrawl        TaskType = "recrawl"
	TaskChat           TaskType = "chat"
	TaskGrading        TaskType = "grading"
	TaskAssessment     TaskType = "assessment"
	TaskEmail          TaskType = "email"
)

// Envelope is the wire format for every task crossing the bus: a fixed
// {task_id, task_type, bot_id, data} shape with a tagged-union payload.
type Envelope struct {
	TaskID   string          `json:"task_id"`
	TaskType TaskType        `json:"task_type"`
	BotID    string          `json:"bot_id"`
	Data     json.RawMessage `json:"data"`
}

// FileUploadTask is the Data payload for TaskFileUpload.
type FileUploadTask struct {
	DocumentID  string `json:"document_id"`
	ObjectKey   string `json:"object_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// CrawlTask is the Data payload for TaskCrawl.
type CrawlTask struct {
	SeedURLs []string `json:"seed_urls"`
	MaxPages int      `json:"max_pages"`
}

// DeleteDocumentTask is the Data payload for TaskDeleteDocument.
type DeleteDocumentTask struct {
	DocumentID string `json:"document_id"`
}

// RecrawlTask is the Data payload for TaskRecrawl.
type RecrawlTask struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
}

// ChatTask is the Data payload for TaskChat.
type ChatTask struct {
	SessionToken string `json:"session_token"`
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
}

// GradingTask is the Data payload for TaskGrading.
type GradingTask struct {
	VisitorID string `json:"visitor_id"`
}

// AssessmentTask is the Data payload for TaskAssessment.
type AssessmentTask struct {
	VisitorID string   `json:"visitor_id"`
	Questions []string `json:"questions"`
}

// EmailTask is the Data payload for TaskEmail.
type EmailTask struct {
	VisitorID string `json:"visitor_id"`
	Template  string `json:"template"`
}

// NewEnvelope marshals a typed payload into an Envelope.
func NewEnvelope(taskID string, taskType TaskType, botID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return Envelope{TaskID: taskID, TaskType: taskType, BotID: botID, Data: data}, nil
}

// DecodeFileUpload, DecodeCrawl, ... unmarshal Data into the typed payload
// the envelope's TaskType promises. Consumers call the one matching
// env.TaskType; a mismatched call is a programmer error, not a runtime one.
func (e Envelope) DecodeFileUpload() (FileUploadTask, error) {
	var v FileUploadTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeCrawl() (CrawlTask, error) {
	var v CrawlTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeDeleteDocument() (DeleteDocumentTask, error) {
	var v DeleteDocumentTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeRecrawl() (RecrawlTask, error) {
	var v RecrawlTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeChat() (ChatTask, error) {
	var v ChatTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeGrading() (GradingTask, error) {
	var v GradingTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeAssessment() (AssessmentTask, error) {
	var v AssessmentTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

func (e Envelope) DecodeEmail() (EmailTask, error) {
	var v EmailTask
	err := json.Unmarshal(e.Data, &v)
	return v, err
}

// Valid reports whether TaskType is one of the recognized constants. An
// envelope failing this check is routed to DLQ without requeue (§9 "Dynamic
// typing").
func (t TaskType) Valid() bool {
	switch t {
	case TaskFileUpload, TaskCrawl, TaskDeleteDocument, TaskRecrawl, TaskChat, TaskGrading, TaskAssessment, TaskEmail:
		return true
	default:
		return false
	}
}
