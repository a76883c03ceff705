// Package progress carries batch progress from the sender to whatever is
// displaying it.
package progress

import (
	"fmt"

	"github.io/infrasutra/bulkmailer/internal/recipients"
)

// Result is the outcome for one recipient.
type Result struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

func Sent() Result {
	return Result{Sent: true}
}

func Failed(reason string) Result {
	return Result{Reason: reason}
}

type Event struct {
	Index     int               `json:"index"`
	Total     int               `json:"total"`
	Fraction  float64           `json:"fraction"`
	Recipient recipients.Record `json:"recipient"`
	Result    Result            `json:"result"`
	Status    string            `json:"status"`
}

// NewEvent builds the event for the recipient at index i of total.
func NewEvent(i, total int, rec recipients.Record, result Result) Event {
	ev := Event{
		Index:     i,
		Total:     total,
		Recipient: rec,
		Result:    result,
	}
	if total > 0 {
		ev.Fraction = float64(i+1) / float64(total)
	}
	if result.Sent {
		ev.Status = fmt.Sprintf("Sent to %s (%s)", rec.Name, rec.Email)
	} else {
		ev.Status = fmt.Sprintf("Failed to %s: %s", rec.Email, result.Reason)
	}
	return ev
}

// Summary closes a completed batch. Attempted is the size of the
// recipient table, not the number of accepted messages.
type Summary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

func (s Summary) Message() string {
	msg := fmt.Sprintf("Personalized emails sent successfully to %d recipients!", s.Attempted)
	if s.Failed > 0 {
		msg += fmt.Sprintf(" (%d delivered, %d failed)", s.Sent, s.Failed)
	}
	return msg
}

// Reporter receives events in order. Each Progress call supersedes the
// previous one on screen; Finish is shown permanently.
type Reporter interface {
	Progress(ev Event)
	Finish(summary Summary)
}

// Discard drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Progress(Event) {}
func (discard) Finish(Summary) {}
