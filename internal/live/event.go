// Package live carries timing updates from the engine to observer
// surfaces: the operator console, the speaker screen, and the audience
// displays. The engine publishes through a Sink; the Hub fans events
// out to subscribers. Delivery and formatting are the consumer's
// concern, the payloads here are plain data.
package live

// Kind identifies an observer event type.
type Kind string

const (
	KindPunch       Kind = "punch"
	KindStandings   Kind = "standings"
	KindHighlight   Kind = "highlight"
	KindStageStatus Kind = "stage_status"
)

// Event is the envelope delivered to every subscriber.
//
// Seq is process-wide monotonic: a consumer that sees seq N has seen
// everything before N or knows it was dropped. ID is a UUIDv7, so ids
// sort by creation time across restarts.
type Event struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	Kind    Kind   `json:"kind"`
	Payload any    `json:"payload"`
}

// PunchPayload reports one accepted punch. Bib is zero while the chip
// is unmapped. Run is set when the punch produced or changed a stage
// run.
type PunchPayload struct {
	EventID     int64        `json:"event_id"`
	Bib         int          `json:"bib,omitempty"`
	Name        string       `json:"name,omitempty"`
	ClassName   string       `json:"class_name,omitempty"`
	ChipID      int64        `json:"chip_id"`
	ControlCode int          `json:"control_code"`
	PunchTime   string       `json:"punch_time"`
	Source      string       `json:"source"`
	Duplicate   bool         `json:"duplicate,omitempty"`
	Run         *RunSnapshot `json:"run,omitempty"`
}

// RunSnapshot is the stage-run state attached to a punch event.
type RunSnapshot struct {
	RunID      int64    `json:"run_id"`
	EntryID    int64    `json:"entry_id"`
	StageID    int64    `json:"stage_id"`
	StageName  string   `json:"stage_name"`
	Attempt    int      `json:"attempt"`
	Status     string   `json:"status"`
	Elapsed    *float64 `json:"elapsed,omitempty"`
	SourceHint string   `json:"source_hint,omitempty"`
}

// StandingsPayload carries one class's ordered standings.
type StandingsPayload struct {
	EventID   int64          `json:"event_id"`
	ClassID   int64          `json:"class_id"`
	ClassName string         `json:"class_name"`
	Rows      []StandingsRow `json:"rows"`
}

// StandingsRow is one line of a standings payload. Position and the
// time fields stay nil until the entry has a ranked total.
type StandingsRow struct {
	Position *int     `json:"position,omitempty"`
	Bib      int      `json:"bib"`
	Name     string   `json:"name"`
	Club     string   `json:"club,omitempty"`
	Total    *float64 `json:"total,omitempty"`
	Behind   *float64 `json:"behind,omitempty"`
	Status   string   `json:"status"`
}

// Highlight categories for the speaker surface.
const (
	HighlightNewLeader   = "new_leader"
	HighlightCloseFinish = "close_finish"
	HighlightPodium      = "podium"
)

// HighlightPayload is a speaker-ready callout generated from a
// finished run.
type HighlightPayload struct {
	EventID     int64  `json:"event_id"`
	Category    string `json:"category"`
	Text        string `json:"text"`
	Bib         int    `json:"bib"`
	StageNumber int    `json:"stage_number"`
	Priority    string `json:"priority"`
}

// StageStatusPayload summarizes live activity on one stage.
// Status is "idle" before any run, "running" while riders are on
// course, and "settled" once the last rider is through.
type StageStatusPayload struct {
	EventID        int64        `json:"event_id"`
	StageID        int64        `json:"stage_id"`
	StageNumber    int          `json:"stage_number"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	RidersOnCourse int          `json:"riders_on_course"`
	RidersFinished int          `json:"riders_finished"`
	Leader         *StageLeader `json:"leader,omitempty"`
}

// StageLeader is the fastest valid run on a stage so far.
type StageLeader struct {
	Bib     int     `json:"bib"`
	Name    string  `json:"name"`
	Elapsed float64 `json:"elapsed"`
}
