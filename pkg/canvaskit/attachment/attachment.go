// Package attachment tracks files selected for the next chat turn from
// selection until they are handed to the session.
//
// Documents are uploaded and parsed by the backend and later referenced by
// the document ids it assigns. Images never touch the network: they are
// inlined as base64 data URLs. Each uid's status only moves forward; removal
// is the one exception. Everything is scoped to a conversation id, and
// changing it discards the list along with any late upload results.
package attachment

import (
	"errors"
	"fmt"
	"io"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/api"
	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
)

// Kind distinguishes backend documents from inline images.
type Kind int

const (
	// KindAuto sniffs the content to choose between document and image.
	KindAuto Kind = iota
	KindDocument
	KindImage
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindImage:
		return "image"
	default:
		return "auto"
	}
}

// Status is an attachment's lifecycle stage.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusParsing   Status = "parsing"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusUploading:
		return 1
	case StatusParsing:
		return 2
	default:
		return 3
	}
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// UploadResult is the backend's answer for one document.
type UploadResult struct {
	Code        int
	DocumentIDs []string
}

// Attachment is a snapshot of one selected file.
//
// A document still sending bytes has Percent below 100. One that is fully
// sent but not yet parsed has Percent 100 and no Response. A parsed one has
// a Response.
type Attachment struct {
	UID      string
	Name     string
	Kind     Kind
	MIME     string
	Size     int64
	Status   Status
	Percent  int
	Response *UploadResult
	Inline   *api.Image
	Err      error
}

// DocumentIDs returns the backend ids of a successful document upload.
func (a Attachment) DocumentIDs() []string {
	if a.Status != StatusDone || a.Response == nil {
		return nil
	}
	return a.Response.DocumentIDs
}

// File is a user selection handed to the pipeline.
type File struct {
	Name    string
	Size    int64
	Content io.Reader

	// Kind forces document or image handling. KindAuto sniffs the content.
	Kind Kind
}

// Handoff is what a submitted turn takes from the pipeline, by value.
type Handoff struct {
	DocumentIDs []string
	Images      []api.Image
}

var (
	// ErrNotFound means no attachment has the given uid.
	ErrNotFound = errors.New("attachment not found")

	// ErrUploading means an attachment has not reached a terminal status.
	ErrUploading = errors.New("attachment still uploading")
)

// Error is one file's upload, parse or removal failure. It never affects
// other attachments.
type Error struct {
	UID  string
	Name string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("attachment %s %q: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Category implements ckerrors.Categorized.
func (e *Error) Category() ckerrors.Category {
	return ckerrors.CategoryAttachment
}
