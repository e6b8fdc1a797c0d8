package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// UploadAndParse streams f as multipart form data. The body is produced
// through a pipe so progress tracks bytes actually consumed by the
// transport rather than bytes buffered.
func (c *HTTPClient) UploadAndParse(ctx context.Context, conversationID string, f File, progress Progress) ([]string, error) {
	const op = "upload_and_parse"
	ctx, span := c.cfg.spans.StartRequestSpan(ctx, op, pathDocumentUpload)
	start := time.Now()

	ids, err := breakerExec(c.breaker, func() ([]string, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUpload(mw, conversationID, f, progress))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathDocumentUpload, pr)
		if err != nil {
			pr.Close()
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c.authorize(req)

		var ids []string
		if err := c.send(req, op, pathDocumentUpload, &ids); err != nil {
			return nil, err
		}
		return ids, nil
	})

	c.cfg.metrics.RecordRequest(ctx, op, time.Since(start), err)
	c.cfg.spans.EndSpanWithError(span, err)
	return ids, err
}

func writeUpload(mw *multipart.Writer, conversationID string, f File, progress Progress) error {
	if err := mw.WriteField("conversation_id", conversationID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return err
	}
	pr := &progressReader{r: f.Content, total: f.Size, fn: progress, last: -1}
	if _, err := io.Copy(part, pr); err != nil {
		return err
	}
	pr.report(100)
	return mw.Close()
}

// progressReader reports the percentage of total read so far. Percentages
// never decrease and 100 is reported once, after the last byte.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		p.report(min(int(p.read*100/p.total), 99))
	}
	return n, err
}

func (p *progressReader) report(pct int) {
	if p.fn == nil || pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

// DeleteDocuments removes documents from a shared conversation.
func (c *HTTPClient) DeleteDocuments(ctx context.Context, ids []string) error {
	return c.write(ctx, "delete_documents", pathDocumentDelete, map[string]any{"doc_ids": ids}, nil)
}

// RemoveDocument removes one document owned by the caller.
func (c *HTTPClient) RemoveDocument(ctx context.Context, id string) error {
	return c.write(ctx, "remove_document", pathDocumentRemove, map[string]any{"doc_id": id}, nil)
}

// GetDocumentInfos fetches metadata for ids.
func (c *HTTPClient) GetDocumentInfos(ctx context.Context, ids []string) ([]DocumentInfo, error) {
	var out []DocumentInfo
	err := c.read(ctx, "document_infos", http.MethodPost, pathDocumentInfos, map[string]any{"doc_ids": ids}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
