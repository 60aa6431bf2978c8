package catalog

import (
	"context"
	"encoding/base64"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

type transactionRequest struct {
	TransactionID string `mapstructure:"transaction_id" catalog:"required"`
}

type attachmentRequest struct {
	AttachmentID string `mapstructure:"attachment_id" catalog:"required"`
}

type uploadRequest struct {
	TicketID      string `mapstructure:"ticket_id" catalog:"required"`
	Filename      string `mapstructure:"filename" catalog:"required"`
	ContentBase64 string `mapstructure:"content_base64" catalog:"required"`
	ContentType   string `mapstructure:"content_type"`
	Comment       string `mapstructure:"comment"`
}

// AttachmentContent is the result of get_attachment_content.
type AttachmentContent struct {
	AttachmentID  string `json:"attachment_id"`
	ContentBase64 string `json:"content_base64"`
	SizeBytes     int    `json:"size_bytes"`
	ContentType   string `json:"content_type"`
}

func (r *Registry) registerTransactions() {
	const res = "transactions"

	register(r, op("list_transactions", res, KindRead, PermBasic, "List RT Transactions", "List transactions"),
		r.listDefaults(),
		func(ctx context.Context, req listRequest, _ *call) (any, error) {
			return r.list(ctx, client.TypeTransaction, req)
		})

	register(r, op("get_transaction", res, KindRead, PermBasic, "Get RT Transaction", "Get transaction details by ID"),
		transactionRequest{},
		func(ctx context.Context, req transactionRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeTransaction, req.TransactionID)
		})

	register(r, op("search_transactions", res, KindSearch, PermBasic, "Search RT Transactions", "Search transactions with RT query syntax"),
		r.searchDefaults(),
		func(ctx context.Context, req searchRequest, _ *call) (any, error) {
			return r.search(ctx, client.TypeTransaction, req)
		})
}

func (r *Registry) registerAttachments() {
	const res = "attachments"

	register(r, op("get_attachment", res, KindRead, PermBasic, "Get RT Attachment", "Get attachment metadata by ID"),
		attachmentRequest{},
		func(ctx context.Context, req attachmentRequest, _ *call) (any, error) {
			return r.get(ctx, client.TypeAttachment, req.AttachmentID)
		})

	register(r, op("get_attachment_content", res, KindRead, PermBasic, "Get RT Attachment Content", "Download attachment content as base64"),
		attachmentRequest{},
		func(ctx context.Context, req attachmentRequest, _ *call) (any, error) {
			content, err := r.gw.Download(ctx, client.NewRef(client.TypeAttachment, req.AttachmentID), "content")
			if err != nil {
				return nil, err
			}
			return AttachmentContent{
				AttachmentID:  req.AttachmentID,
				ContentBase64: base64.StdEncoding.EncodeToString(content.Data),
				SizeBytes:     len(content.Data),
				ContentType:   content.ContentType,
			}, nil
		})

	register(r, op("upload_attachment", res, KindWrite, PermBasic, "Upload RT Attachment", "Attach a file to a ticket as a comment"),
		uploadRequest{},
		func(ctx context.Context, req uploadRequest, _ *call) (any, error) {
			if _, err := base64.StdEncoding.DecodeString(req.ContentBase64); err != nil {
				return nil, invalid("content_base64 is not valid base64: %v", err)
			}
			ctype := req.ContentType
			if ctype == "" {
				ctype = mime.TypeByExtension(filepath.Ext(req.Filename))
			}
			if ctype == "" {
				ctype = "application/octet-stream"
			}
			comment := req.Comment
			if comment == "" {
				comment = "Attached " + req.Filename
			}
			body := map[string]any{
				"Content": comment,
				"Attachments": []map[string]any{{
					"FileName":    req.Filename,
					"FileType":    ctype,
					"FileContent": req.ContentBase64,
				}},
			}
			return r.gw.Act(ctx, ticketRef(req.TicketID), "comment", http.MethodPost, body)
		})
}
