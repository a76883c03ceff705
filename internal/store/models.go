package store

import "time"

// Capture is one mail accepted by the sandbox relay. To holds the envelope
// recipients in RCPT order.
type Capture struct {
	ID          string
	From        string
	To          []string
	Subject     string
	TextBody    string
	Raw         []byte
	CreatedAt   time.Time
	Attachments []Attachment
}

// Size is the length of the raw message as received.
func (c Capture) Size() int64 {
	return int64(len(c.Raw))
}

// Attachment metadata comes back with a capture; Data is only loaded by
// Store.Attachment.
type Attachment struct {
	ID          int64
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

type Summary struct {
	ID             string
	From           string
	To             []string
	Subject        string
	CreatedAt      time.Time
	HasAttachments bool
}

// Filter selects one page of captures. An empty Address matches all.
type Filter struct {
	Address string
	Oldest  bool
	Offset  int32
	Limit   int32
}

type Page struct {
	Captures []Summary
	Total    int32
}
