package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.io/infrasutra/bulkmailer/internal/pagination"
	"github.io/infrasutra/bulkmailer/internal/sse"
	"github.io/infrasutra/bulkmailer/internal/store"
)

const pingInterval = 20 * time.Second

type messageSummary struct {
	ID             string   `json:"id"`
	From           string   `json:"from"`
	To             []string `json:"to"`
	Subject        string   `json:"subject"`
	CreatedAt      string   `json:"createdAt"`
	HasAttachments bool     `json:"hasAttachments"`
}

type messageDetail struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	CreatedAt   string              `json:"createdAt"`
	RawSize     int64               `json:"rawSize"`
	Attachments []attachmentSummary `json:"attachments"`
}

type attachmentSummary struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// sandboxEnabled answers 404 when no sandbox relay is running.
func (s *Server) sandboxEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.sandbox == nil {
		http.NotFound(w, r)
		return false
	}
	return true
}

func (s *Server) handleSandboxMessages(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleSandboxList(w, r)
	case http.MethodDelete:
		removed, err := s.sandbox.Clear(r.Context())
		if err != nil {
			http.Error(w, "unable to clear messages", http.StatusInternalServerError)
			return
		}
		s.logger.Info("sandbox inbox cleared", "removed", removed)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := pagination.FromQuery(query)
	page, err := s.sandbox.List(r.Context(), store.Filter{
		Address: query.Get("address"),
		Oldest:  params.Oldest(),
		Offset:  params.Offset,
		Limit:   params.Limit,
	})
	if err != nil {
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}

	response := struct {
		Messages []messageSummary `json:"messages"`
		Page     int32            `json:"page"`
		Limit    int32            `json:"limit"`
		Total    int32            `json:"total"`
		HasMore  bool             `json:"hasMore"`
	}{
		Messages: lo.Map(page.Captures, func(summary store.Summary, _ int) messageSummary {
			return toSummary(summary)
		}),
		Page:    params.Page,
		Limit:   params.Limit,
		Total:   page.Total,
		HasMore: params.HasNext(page.Total),
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSandboxMessage(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sandbox/messages/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handleSandboxDetail(w, r, id)
	case len(parts) == 2 && parts[1] == "raw":
		s.handleSandboxRaw(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSandboxDetail(w http.ResponseWriter, r *http.Request, id string) {
	capture, err := s.sandbox.Capture(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, err, "unable to load message")
		return
	}

	s.respondJSON(w, http.StatusOK, messageDetail{
		ID:        capture.ID,
		From:      capture.From,
		To:        lo.Compact(capture.To),
		Subject:   capture.Subject,
		Text:      capture.TextBody,
		CreatedAt: capture.CreatedAt.UTC().Format(time.RFC3339),
		RawSize:   capture.Size(),
		Attachments: lo.Map(capture.Attachments, func(a store.Attachment, _ int) attachmentSummary {
			return attachmentSummary{ID: a.ID, Filename: a.Filename, ContentType: a.ContentType, Size: a.Size}
		}),
	})
}

func (s *Server) handleSandboxRaw(w http.ResponseWriter, r *http.Request, id string) {
	capture, err := s.sandbox.Capture(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, err, "unable to load message")
		return
	}
	writeDownload(w, "message/rfc822", fmt.Sprintf("inline; filename=message-%s.eml", capture.ID), capture.Raw)
}

func (s *Server) handleSandboxAttachment(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attachmentID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/sandbox/attachments/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid attachment id", http.StatusBadRequest)
		return
	}

	attachment, err := s.sandbox.Attachment(r.Context(), attachmentID)
	if err != nil {
		s.respondLookupError(w, err, "unable to load attachment")
		return
	}
	writeDownload(w, attachment.ContentType, fmt.Sprintf("attachment; filename=%q", attachment.Filename), attachment.Data)
}

func writeDownload(w http.ResponseWriter, contentType, disposition string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleSandboxStream pushes a frame for every capture, optionally only
// those sent to or from ?address=.
func (s *Server) handleSandboxStream(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topic := sse.TopicAll
	if address := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("address"))); address != "" {
		topic = address
	}

	stream, err := sse.Open(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.hub.Subscribe(topic)
	defer unsubscribe()

	if err := stream.Send("ready", struct{}{}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.Write(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error(message, "error", err)
	http.Error(w, message, http.StatusInternalServerError)
}

func toSummary(summary store.Summary) messageSummary {
	return messageSummary{
		ID:             summary.ID,
		From:           summary.From,
		To:             append([]string{}, summary.To...),
		Subject:        summary.Subject,
		CreatedAt:      summary.CreatedAt.UTC().Format(time.RFC3339),
		HasAttachments: summary.HasAttachments,
	}
}
