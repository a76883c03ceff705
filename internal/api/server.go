package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.io/infrasutra/bulkmailer/internal/compose"
	"github.io/infrasutra/bulkmailer/internal/config"
	"github.io/infrasutra/bulkmailer/internal/progress"
	"github.io/infrasutra/bulkmailer/internal/recipients"
	"github.io/infrasutra/bulkmailer/internal/sse"
	"github.io/infrasutra/bulkmailer/internal/store"
	webassets "github.io/infrasutra/bulkmailer/web"
)

const multipartMemory = 32 << 20

var (
	errRecipientFileRequired = errors.New("upload a recipient file with Name and Email columns")
	errNoRecipients          = errors.New("no recipients loaded: every row is missing an Email")
)

// BatchSender runs one batch and blocks until it ends.
type BatchSender interface {
	Send(ctx context.Context, table recipients.Table, tmpl compose.Template, creds compose.Credentials, reporter progress.Reporter) (progress.Summary, error)
}

type Server struct {
	cfg      config.Config
	mailer   BatchSender
	sandbox  *store.Store
	hub      *sse.Hub
	logger   *slog.Logger
	mux      *http.ServeMux
	staticFS fs.FS
	staticOK bool
}

// NewServer wires the form and batch endpoints. sandbox may be nil, in
// which case the sandbox inbox endpoints answer 404.
func NewServer(cfg config.Config, mailer BatchSender, sandbox *store.Store, hub *sse.Hub, logger *slog.Logger) *Server {
	staticFS, err := webassets.Static()
	staticOK := err == nil
	if err != nil {
		logger.Warn("ui assets not embedded", "error", err)
	}
	server := &Server{
		cfg:      cfg,
		mailer:   mailer,
		sandbox:  sandbox,
		hub:      hub,
		logger:   logger,
		staticFS: staticFS,
		staticOK: staticOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recipients", server.handleRecipients)
	mux.HandleFunc("/api/send", server.handleSend)
	mux.HandleFunc("/api/sandbox/messages", server.handleSandboxMessages)
	mux.HandleFunc("/api/sandbox/messages/", server.handleSandboxMessage)
	mux.HandleFunc("/api/sandbox/attachments/", server.handleSandboxAttachment)
	mux.HandleFunc("/api/sandbox/stream", server.handleSandboxStream)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") {
		s.mux.ServeHTTP(w, r)
		return
	}
	if path == "/health" {
		s.respondText(w, http.StatusOK, "ok")
		return
	}
	if path == "/ready" {
		s.respondText(w, http.StatusOK, "ready")
		return
	}

	s.serveStatic(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if !s.staticOK {
		s.respondText(w, http.StatusNotFound, "UI not embedded.")
		return
	}

	cleaned := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if cleaned == "" {
		cleaned = "index.html"
	}
	if s.serveEmbeddedFile(w, r, cleaned) {
		return
	}
	if s.serveEmbeddedFile(w, r, "index.html") {
		return
	}
	s.respondText(w, http.StatusNotFound, "UI not embedded.")
}

func (s *Server) serveEmbeddedFile(w http.ResponseWriter, r *http.Request, name string) bool {
	file, err := s.staticFS.Open(name)
	if err != nil {
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), seeker)
		return true
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
	return true
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.parseForm(w, r) {
		return
	}
	table, err := s.loadRecipients(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := struct {
		Count      int                 `json:"count"`
		Message    string              `json:"message"`
		Recipients []recipients.Record `json:"recipients"`
	}{
		Count:      table.Len(),
		Message:    loadedMessage(table.Len()),
		Recipients: table.Records(),
	}
	s.respondJSON(w, http.StatusOK, response)
}

// handleSend reloads the table from the upload and streams the batch back
// as server-sent events. The request blocks until the batch ends.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.parseForm(w, r) {
		return
	}
	table, err := s.loadRecipients(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if table.Len() == 0 {
		http.Error(w, errNoRecipients.Error(), http.StatusBadRequest)
		return
	}
	image, err := readImage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tmpl := compose.Template{
		Subject: r.FormValue("subject"),
		Body:    r.FormValue("message"),
		Image:   image,
	}
	creds := compose.Credentials{
		Sender:   r.FormValue("sender"),
		Password: r.FormValue("password"),
	}

	stream, err := sse.Open(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reporter := &streamReporter{stream: stream, logger: s.logger}
	if _, err := s.mailer.Send(r.Context(), table, tmpl, creds, reporter); err != nil {
		reporter.Fail(err)
	}
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) loadRecipients(r *http.Request) (recipients.Table, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return recipients.Table{}, errRecipientFileRequired
	}
	defer file.Close()
	return recipients.Load(file, header.Filename)
}

func readImage(r *http.Request) (*compose.Image, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return compose.NewImage(header.Filename, data)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
