package api

import (
	"context"
	"io"
)

// CanvasService stores canvases and runs them.
type CanvasService interface {
	GetCanvas(ctx context.Context, id string) (*Canvas, error)
	SetCanvas(ctx context.Context, p SetCanvasParams) (*Canvas, error)
	RemoveCanvas(ctx context.Context, ids []string) error
	ListCanvas(ctx context.Context) ([]Summary, error)

	// ResetCanvas clears a canvas's runtime payloads and returns the new DSL.
	ResetCanvas(ctx context.Context, id string) (*Canvas, error)

	// RunCanvas opens a run and returns the raw event-stream body.
	// The caller must close it.
	RunCanvas(ctx context.Context, p RunParams) (io.ReadCloser, error)
}

// DocumentService uploads and manages conversation attachments.
type DocumentService interface {
	// UploadAndParse sends f and blocks until the backend has parsed it,
	// returning the created document ids. progress may be nil.
	UploadAndParse(ctx context.Context, conversationID string, f File, progress Progress) ([]string, error)

	// DeleteDocuments removes documents from a shared conversation.
	DeleteDocuments(ctx context.Context, ids []string) error

	// RemoveDocument removes one document owned by the caller.
	RemoveDocument(ctx context.Context, id string) error

	GetDocumentInfos(ctx context.Context, ids []string) ([]DocumentInfo, error)
}
