package api

import (
	"encoding/json"
	"io"
)

// Canvas is a stored canvas row. DSL is left raw for the dsl package.
type Canvas struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Avatar      string          `json:"avatar,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	DSL         json.RawMessage `json:"dsl"`
	CreateTime  int64           `json:"create_time,omitempty"`
	UpdateTime  int64           `json:"update_time,omitempty"`
}

// Summary is a canvas list entry.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	UpdateTime  int64  `json:"update_time,omitempty"`
}

// SetCanvasParams creates a canvas when ID is empty, otherwise updates it.
type SetCanvasParams struct {
	ID    string          `json:"id,omitempty"`
	Title string          `json:"title"`
	DSL   json.RawMessage `json:"dsl"`
}

// Image is an inline image sent with a run, Data being a base64 data URL.
type Image struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// RunParams starts one streamed run. An empty Message with no images asks
// the backend for the Begin prologue.
type RunParams struct {
	CanvasID    string   `json:"id"`
	Message     string   `json:"message,omitempty"`
	MessageID   string   `json:"message_id,omitempty"`
	DocumentIDs []string `json:"doc_ids,omitempty"`
	Images      []Image  `json:"images,omitempty"`
	Stream      bool     `json:"stream"`
}

// File is one attachment handed to UploadAndParse.
type File struct {
	Name    string
	Size    int64
	Content io.Reader
}

// Progress receives upload percentages in [0, 100].
type Progress func(percent int)

// DocumentInfo is the backend's metadata for a parsed document.
type DocumentInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	Type      string  `json:"type"`
	ChunkNum  int     `json:"chunk_num"`
	Progress  float64 `json:"progress"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}
