package events

import (
	"encoding/json"
	"time"

	"docdex/internal/model"
)

// Wire shapes for events crossing a process boundary (SSE relay, Redis
// bridge, remote RPC). Versions are exposed as null when unversioned;
// timestamps are ISO-8601.

type WireEvent struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type WireJobStatus struct {
	ID         string     `json:"id"`
	Library    string     `json:"library"`
	Version    *string    `json:"version"`
	Status     string     `json:"status"`
	Error      *WireError `json:"error"`
	CreatedAt  string     `json:"createdAt"`
	StartedAt  *string    `json:"startedAt"`
	FinishedAt *string    `json:"finishedAt"`
	SourceURL  *string    `json:"sourceUrl"`
}

type WireError struct {
	Message string `json:"message"`
}

type WireJobProgress struct {
	ID       string       `json:"id"`
	Library  string       `json:"library"`
	Version  *string      `json:"version"`
	Progress WireProgress `json:"progress"`
}

type WireProgress struct {
	PagesScraped    int    `json:"pagesScraped"`
	TotalPages      int    `json:"totalPages"`
	TotalDiscovered int    `json:"totalDiscovered"`
	CurrentURL      string `json:"currentUrl"`
	Depth           int    `json:"depth"`
	MaxDepth        int    `json:"maxDepth"`
}

// EncodeWire serializes a bus event into its wire form. Unknown payload
// shapes serialize as an empty object, matching the empty-bodied
// library-change and job-list-change events.
func EncodeWire(t Type, payload any) (WireEvent, error) {
	var body any = struct{}{}

	switch t {
	case TypeJobStatusChange:
		if job, ok := payload.(*model.Job); ok {
			body = JobToWire(job)
		}
	case TypeJobProgress:
		if p, ok := payload.(JobProgress); ok {
			body = WireJobProgress{
				ID:       p.Job.ID.String(),
				Library:  p.Job.Library,
				Version:  nullableVersion(p.Job.Version),
				Progress: ProgressToWire(p.Progress),
			}
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return WireEvent{}, err
	}
	return WireEvent{Type: t, Payload: raw}, nil
}

// ProgressToWire converts a progress snapshot to its wire form.
func ProgressToWire(p model.ProgressSnapshot) WireProgress {
	return WireProgress{
		PagesScraped:    p.PagesScraped,
		TotalPages:      p.TotalPages,
		TotalDiscovered: p.TotalDiscovered,
		CurrentURL:      p.CurrentURL,
		Depth:           p.Depth,
		MaxDepth:        p.MaxDepth,
	}
}

// JobToWire converts a job snapshot to its wire form.
func JobToWire(job *model.Job) WireJobStatus {
	out := WireJobStatus{
		ID:        job.ID.String(),
		Library:   job.Library,
		Version:   nullableVersion(job.Version),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.Error != "" {
		out.Error = &WireError{Message: job.Error}
	}
	if job.StartedAt != nil {
		s := job.StartedAt.UTC().Format(time.RFC3339)
		out.StartedAt = &s
	}
	if job.FinishedAt != nil {
		s := job.FinishedAt.UTC().Format(time.RFC3339)
		out.FinishedAt = &s
	}
	if job.SourceURL != "" {
		u := job.SourceURL
		out.SourceURL = &u
	}
	return out
}

func nullableVersion(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
