package correlator

import (
	"strings"

	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/sipmsg"
)

// Status is the inferred lifecycle status of a call.
type Status string

const (
	StatusTrying     Status = "Trying"
	StatusInProgress Status = "In Progress"
	StatusAnswered   Status = "Answered"
	StatusCancelled  Status = "Cancelled"
	StatusFinished   Status = "Finished"
	StatusUnknown    Status = "Unknown"
)

// Slug returns the status as a lowercase, hyphenated token ("in-progress").
func (s Status) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(s)), " ", "-")
}

// Evidence is what status inference looks at across a call's records.
// Records may arrive in any order, so only set membership matters.
type Evidence struct {
	Methods   map[string]bool
	Has200    bool
	HasBye    bool
	HasCancel bool
}

// Collect gathers status evidence from records. A 200 response is
// recognised from the response_code field, a method starting with "200", or
// a raw status line "SIP/2.0 200".
func Collect(records []capture.Record) Evidence {
	ev := Evidence{Methods: make(map[string]bool, len(records))}
	for _, r := range records {
		ev.Methods[r.Method] = true
		switch r.Method {
		case "BYE":
			ev.HasBye = true
		case "CANCEL":
			ev.HasCancel = true
		}
		if r.ResponseCode == 200 || strings.HasPrefix(r.Method, "200") || sipmsg.StatusCode(r.Raw) == 200 {
			ev.Has200 = true
		}
	}
	return ev
}

// Status classifies the evidence for the call list. First match wins, so a
// call with BYE and 200 stays Finished even if a CANCEL shows up late.
func (e Evidence) Status() Status {
	if s, ok := e.settled(); ok {
		return s
	}
	if e.onlyInvite() {
		return StatusTrying
	}
	return StatusUnknown
}

// DetailStatus is Status with the call detail view's finer split: a call
// with no 200, BYE or CANCEL is reported as In Progress. No evidence at all
// is Unknown.
func (e Evidence) DetailStatus() Status {
	if len(e.Methods) == 0 {
		return StatusUnknown
	}
	if s, ok := e.settled(); ok {
		return s
	}
	if !e.HasBye {
		return StatusInProgress
	}
	return StatusUnknown
}

func (e Evidence) settled() (Status, bool) {
	switch {
	case e.HasBye && e.Has200:
		return StatusFinished, true
	case e.Has200:
		return StatusAnswered, true
	case e.HasCancel:
		return StatusCancelled, true
	}
	return "", false
}

func (e Evidence) onlyInvite() bool {
	for m := range e.Methods {
		if m != "INVITE" && m != "" {
			return false
		}
	}
	return true
}
