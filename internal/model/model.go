package model

import (
	"time"

	"icalfeed/ics"
)

// Occurrence is the API view of one concrete event instance
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string `json:"source_id" yaml:"source_id"`
	UID      string `json:"uid" yaml:"uid"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key" yaml:"instance_key"`

	Summary     string `json:"summary" yaml:"summary"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`

	AllDay     bool `json:"all_day" yaml:"all_day"`
	Overridden bool `json:"overridden,omitempty" yaml:"overridden,omitempty"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// NewOccurrence tags an expanded occurrence with its source.
func NewOccurrence(sourceID string, o ics.Occurrence) Occurrence {
	return Occurrence{
		SourceID:    sourceID,
		UID:         o.UID,
		InstanceKey: o.InstanceKey,
		Summary:     o.Summary,
		Description: o.Description,
		Location:    o.Location,
		AllDay:      o.AllDay,
		Overridden:  o.Overridden,
		Start:       o.Start,
		End:         o.End,
	}
}

// SourceStatus summarizes the latest refresh of one source.
type SourceStatus struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	FromCache   bool      `json:"from_cache" yaml:"from_cache"`
	RefreshedAt time.Time `json:"refreshed_at" yaml:"refreshed_at"`
	Components  int       `json:"components" yaml:"components"`
	Stats       ics.Stats `json:"stats" yaml:"stats"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}
