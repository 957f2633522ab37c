package pkg

import (
	"sort"
	"time"
)

// SortMessages orders a conversation in place: confirmed messages ascending
// by timestamp with the store sequence breaking ties, then pending entries
// in the order they were submitted.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		ap, bp := a.Pending(), b.Pending()
		if ap != bp {
			return bp
		}
		if ap {
			return false
		}
		if !a.Timestamp.Equal(*b.Timestamp) {
			return a.Timestamp.Before(*b.Timestamp)
		}
		return a.Seq < b.Seq
	})
}

// ConfirmedCount returns the number of store-acknowledged messages.
func ConfirmedCount(msgs []Message) int64 {
	var n int64
	for _, m := range msgs {
		if !m.Pending() {
			n++
		}
	}
	return n
}

// NewSnapshot copies and orders msgs into a snapshot for patientID.
func NewSnapshot(patientID string, msgs []Message) Snapshot {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	SortMessages(out)
	return Snapshot{PatientID: patientID, Messages: out, Version: ConfirmedCount(out)}
}

// SendingLabel is shown in place of a time for pending messages.
const SendingLabel = "Sending..."

// FormatTimestamp renders the short clock time shown under a message
// bubble, in the given location.
func FormatTimestamp(m Message, loc *time.Location) string {
	if m.Pending() {
		return SendingLabel
	}
	if loc == nil {
		loc = time.Local
	}
	return m.Timestamp.In(loc).Format("3:04 PM")
}
