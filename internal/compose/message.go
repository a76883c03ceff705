package compose

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Image is the optional attachment. The same bytes go to every recipient.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewImage trusts the declared extension; the content is never sniffed.
func NewImage(filename string, data []byte) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := imageTypes[ext]
	if !ok {
		return nil, fmt.Errorf("image must be a png, jpg or jpeg file, got %q", filepath.Base(filename))
	}
	return &Image{
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		Data:        data,
	}, nil
}

type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	Image   *Image
	Date    time.Time
}

// Build encodes msg as multipart/mixed: one text/plain part, then the
// image as an attachment when present.
func Build(msg Message) ([]byte, error) {
	from := sanitizeHeader(msg.From)
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: sanitizeHeader(msg.To)}})
	h.SetSubject(sanitizeHeader(msg.Subject))
	h.SetMessageID(messageID(from))

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	// base64 keeps the body byte-exact, line endings included.
	th.Set("Content-Transfer-Encoding", "base64")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(tw, msg.Text); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close text part: %w", err)
	}

	if msg.Image != nil {
		var ah mail.AttachmentHeader
		ah.SetContentType(msg.Image.ContentType, nil)
		ah.SetFilename(msg.Image.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment: %w", err)
		}
		if _, err := aw.Write(msg.Image.Data); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func messageID(from string) string {
	domain := "bulkmailer.local"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
