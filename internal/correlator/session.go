package correlator

import (
	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/sipmsg"
)

// SessionSummary is the call-level metadata shown above the flow diagram.
type SessionSummary struct {
	CallID          string         `json:"callid"`
	FromUser        string         `json:"from_user"`
	ToUser          string         `json:"to_user"`
	RURI            string         `json:"ruri"`
	SourceAddr      string         `json:"src_addr"`
	DestinationAddr string         `json:"dst_addr"`
	Status          Status         `json:"status"`
	DurationMS      int64          `json:"duration_ms"`
	Duration        string         `json:"duration_str"`
	RingingMS       int64          `json:"ringing_ms"`
	SetupMS         int64          `json:"setup_ms"`
	DisconnectMS    int64          `json:"disconnect_ms"`
	MethodCounts    map[string]int `json:"method_counts"`
}

// deriveSession computes session metadata from the time-ordered SIP
// messages of a call. all is the unfiltered transaction, used only to name
// the call when no INVITE was captured.
func deriveSession(msgs []capture.Record, all []capture.Record) SessionSummary {
	s := SessionSummary{
		Status:       Collect(msgs).DetailStatus(),
		MethodCounts: make(map[string]int),
	}

	var invite *capture.Record
	for i := range msgs {
		if msgs[i].Method == "INVITE" {
			invite = &msgs[i]
			break
		}
	}
	if invite != nil {
		s.CallID = invite.CallID
		s.FromUser = invite.FromUser
		s.ToUser = invite.ToUser
		s.RURI = invite.RuriUser
		if invite.RuriDomain != "" {
			s.RURI = invite.RuriUser + "@" + invite.RuriDomain
		}
		s.SourceAddr = invite.SourceAddr()
		s.DestinationAddr = invite.DestinationAddr()
	}
	if s.CallID == "" && len(all) > 0 {
		s.CallID = all[0].CallID
	}

	var firstTS, lastTS int64
	for _, m := range msgs {
		if m.Timestamp == 0 {
			continue
		}
		if firstTS == 0 || m.Timestamp < firstTS {
			firstTS = m.Timestamp
		}
		if m.Timestamp > lastTS {
			lastTS = m.Timestamp
		}
	}

	inviteTS := firstTS
	if invite != nil {
		inviteTS = invite.Timestamp
	}
	byeTS := lastTS
	for _, m := range msgs {
		if m.Method == "BYE" {
			byeTS = m.Timestamp
			break
		}
	}
	ringingTS := sipmsg.FindResponse(msgs, 180)
	answerTS := sipmsg.FindResponse(msgs, 200)

	s.RingingMS = span(inviteTS, ringingTS)
	s.SetupMS = span(inviteTS, answerTS)
	s.DisconnectMS = span(byeTS, lastTS)
	if answerTS != 0 && byeTS != 0 {
		s.DurationMS = span(answerTS, byeTS)
	} else {
		s.DurationMS = lastTS - firstTS
	}
	s.Duration = FormatDuration(s.DurationMS)

	for _, m := range msgs {
		if m.Method != "" {
			s.MethodCounts[m.Method]++
		}
	}
	return s
}
