package api

import (
	"encoding/hex"

	"VeilSum/internal/ledger"
)

// StatusView is the body of GET /status.
type StatusView struct {
	Owner    string `json:"owner"`
	Paused   bool   `json:"paused"`
	Cooldown uint64 `json:"cooldown"`
	Identity string `json:"identity"`
	Scheme   string `json:"scheme"`
}

// BatchView is the body of GET /batches/{id}.
type BatchView struct {
	ID          uint64 `json:"id"`
	Open        bool   `json:"open"`
	Sum         string `json:"sum"`
	Count       string `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

// AggregationView is the body returned by a decryption request.
type AggregationView struct {
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint"`
}

// RequestView is the body of GET /requests/{id}.
type RequestView struct {
	ID          string `json:"id"`
	Batch       uint64 `json:"batch"`
	Fingerprint string `json:"fingerprint"`
	Processed   bool   `json:"processed"`
	Requester   string `json:"requester"`
	RequestedAt int64  `json:"requestedAt"`
	Sum         uint64 `json:"sum"`
	Count       uint64 `json:"count"`
}

// EventView is the JSON form of a ledger event. Fields unused by the kind
// are omitted.
type EventView struct {
	Seq         uint64 `json:"seq"`
	Time        int64  `json:"time"`
	Kind        string `json:"kind"`
	Actor       string `json:"actor,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Batch       uint64 `json:"batch,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Ciphertext  string `json:"ciphertext,omitempty"`
	Sum         uint64 `json:"sum,omitempty"`
	Count       uint64 `json:"count,omitempty"`
	Old         uint64 `json:"old,omitempty"`
	New         uint64 `json:"new,omitempty"`
	Flag        bool   `json:"flag,omitempty"`
}

func newRequestView(r ledger.Request) RequestView {
	return RequestView{
		ID:          r.ID,
		Batch:       uint64(r.Batch),
		Fingerprint: r.Fingerprint.String(),
		Processed:   r.Processed,
		Requester:   r.Requester.String(),
		RequestedAt: r.RequestedAt.Unix(),
		Sum:         r.Sum,
		Count:       r.Count,
	}
}

func newEventView(e ledger.Event) EventView {
	v := EventView{
		Seq:        e.Seq,
		Time:       e.Time.Unix(),
		Kind:       e.Kind,
		Batch:      uint64(e.Batch),
		RequestID:  e.RequestID,
		Ciphertext: hex.EncodeToString(e.Ciphertext),
		Sum:        e.Sum,
		Count:      e.Count,
		Old:        e.Old,
		New:        e.New,
		Flag:       e.Flag,
	}

	if !e.Actor.IsZero() {
		v.Actor = e.Actor.String()
	}

	if !e.Subject.IsZero() {
		v.Subject = e.Subject.String()
	}

	if e.Fingerprint != (ledger.Hash{}) {
		v.Fingerprint = e.Fingerprint.String()
	}

	return v
}
