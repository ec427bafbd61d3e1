package race

import (
	"encoding/json"
	"time"
)

// Format selects the overall-aggregation rule for an event.
type Format string

const (
	FormatEnduro     Format = "enduro"
	FormatDownhill   Format = "downhill"
	FormatXC         Format = "xc"
	FormatDualSlalom Format = "dual_slalom"
)

// ValidFormats defines the recognized race formats.
var ValidFormats = map[Format]bool{
	FormatEnduro:     true,
	FormatDownhill:   true,
	FormatXC:         true,
	FormatDualSlalom: true,
}

// Valid reports whether f is a recognized format. Unrecognized formats
// still aggregate (enduro fallback); Valid gates event creation only.
func (f Format) Valid() bool { return ValidFormats[f] }

// StageOrder controls whether competitors must ride stages in course order.
type StageOrder string

const (
	StageOrderFixed StageOrder = "fixed"
	StageOrderFree  StageOrder = "free"
)

// Precision selects the display resolution for elapsed and behind times.
type Precision string

const (
	PrecisionSeconds    Precision = "seconds"
	PrecisionTenths     Precision = "tenths"
	PrecisionHundredths Precision = "hundredths"
)

// Valid reports whether p is a recognized precision.
func (p Precision) Valid() bool {
	switch p {
	case PrecisionSeconds, PrecisionTenths, PrecisionHundredths:
		return true
	}
	return false
}

// EventStatus is the event lifecycle state.
type EventStatus string

const (
	EventSetup    EventStatus = "setup"
	EventActive   EventStatus = "active"
	EventFinished EventStatus = "finished"
)

// ControlType classifies a timing beacon.
type ControlType string

const (
	ControlStart  ControlType = "start"
	ControlSplit  ControlType = "split"
	ControlFinish ControlType = "finish"
)

// Source identifies where a punch entered the system.
type Source string

const (
	SourceUSB    Source = "usb"
	SourceSIRAP  Source = "sirap"
	SourceROC    Source = "roc"
	SourceManual Source = "manual"
)

// sourcePriority ranks punch sources; lower is stronger. A punch from a
// stronger source is never a duplicate of a weaker one and may supersede
// an existing run built from weaker punches.
var sourcePriority = map[Source]int{
	SourceUSB:    1,
	SourceSIRAP:  2,
	SourceROC:    3,
	SourceManual: 4,
}

// Priority returns the source rank (lower is stronger). Unknown sources
// rank below manual so they can never displace anything.
func (s Source) Priority() int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return len(sourcePriority) + 1
}

// RunStatus is the competitive outcome of a stage run or overall result.
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusOK      RunStatus = "ok"
	StatusDNS     RunStatus = "dns"
	StatusDNF     RunStatus = "dnf"
	StatusDSQ     RunStatus = "dsq"
)

// Terminal reports whether the status ends computation for the entry.
func (s RunStatus) Terminal() bool {
	return s == StatusDNS || s == StatusDNF || s == StatusDSQ
}

// RunState is the lifecycle state of a StageRun row.
type RunState string

const (
	RunPending    RunState = "pending"
	RunValid      RunState = "valid"
	RunSuperseded RunState = "superseded"
)

// EntryStatus is the registration state of a competitor.
type EntryStatus string

const (
	EntryRegistered EntryStatus = "registered"
	EntryDNS        EntryStatus = "dns"
	EntryDNF        EntryStatus = "dnf"
	EntryDSQ        EntryStatus = "dsq"
)

// Terminal reports whether the entry status overrides all computation.
func (s EntryStatus) Terminal() bool {
	return s == EntryDNS || s == EntryDNF || s == EntryDSQ
}

// Tiebreak selects how equal totals rank within a class.
type Tiebreak string

const (
	// TiebreakSequential numbers ties 1, 2, 3.
	TiebreakSequential Tiebreak = "sequential"
	// TiebreakTied numbers ties 1, 1, 3.
	TiebreakTied Tiebreak = "tied"
)

// Event is a single race day.
type Event struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Date             string      `json:"date"` // YYYY-MM-DD
	Location         string      `json:"location,omitempty"`
	Format           Format      `json:"format"`
	StageOrder       StageOrder  `json:"stage_order"`
	TimePrecision    Precision   `json:"time_precision"`
	Status           EventStatus `json:"status"`
	DualSlalomWindow *float64    `json:"dual_slalom_window,omitempty"` // seconds
	UpstreamCompID   string      `json:"upstream_competition_id,omitempty"`
	Tiebreak         Tiebreak    `json:"tiebreak"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Control is a physical timing beacon. (event, code) is unique.
type Control struct {
	ID      int64       `json:"id"`
	EventID int64       `json:"event_id"`
	Code    int         `json:"code"`
	Name    string      `json:"name"`
	Type    ControlType `json:"type"`
}

// Stage is a timed segment bounded by a start and a finish control.
// MaxRuns nil means unlimited attempts.
type Stage struct {
	ID              int64  `json:"id"`
	EventID         int64  `json:"event_id"`
	StageNumber     int    `json:"stage_number"`
	Name            string `json:"name"`
	StartControlID  int64  `json:"start_control_id"`
	FinishControlID int64  `json:"finish_control_id"`
	IsTimed         bool   `json:"is_timed"`
	RunsToCount     int    `json:"runs_to_count"`
	MaxRuns         *int   `json:"max_runs,omitempty"`
}

// Course is an ordered collection of stages.
type Course struct {
	ID             int64  `json:"id"`
	EventID        int64  `json:"event_id"`
	Name           string `json:"name"`
	Laps           int    `json:"laps"`
	StagesAnyOrder bool   `json:"stages_any_order"`
	AllowRepeat    bool   `json:"allow_repeat"`
}

// CourseStage links a stage into a course at an ordered position.
type CourseStage struct {
	CourseID   int64 `json:"course_id"`
	StageID    int64 `json:"stage_id"`
	StageOrder int   `json:"stage_order"`
}

// Class is a competitor category bound to exactly one course.
type Class struct {
	ID            int64   `json:"id"`
	EventID       int64   `json:"event_id"`
	Name          string  `json:"name"`
	CourseID      int64   `json:"course_id"`
	MassStartTime *string `json:"mass_start_time,omitempty"` // HH:MM:SS
}

// Entry is one competitor in one event. (event, bib) is unique.
type Entry struct {
	ID        int64       `json:"id"`
	EventID   int64       `json:"event_id"`
	Bib       int         `json:"bib"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Club      string      `json:"club,omitempty"`
	ClassID   int64       `json:"class_id"`
	Status    EntryStatus `json:"status"`
}

// ChipMapping binds a chip id to a bib. (event, chip_id) is unique;
// a bib may carry a primary and a secondary chip.
type ChipMapping struct {
	ID        int64 `json:"id"`
	EventID   int64 `json:"event_id"`
	Bib       int   `json:"bib"`
	ChipID    int64 `json:"chip_id"`
	IsPrimary bool  `json:"is_primary"`
}

// Punch is an immutable raw chip reading. Rows are never mutated after
// insertion; is_duplicate is assigned at insertion time.
type Punch struct {
	ID          int64     `json:"id"`
	EventID     int64     `json:"event_id"`
	ChipID      int64     `json:"chip_id"`
	ControlCode int       `json:"control_code"`
	PunchTime   time.Time `json:"punch_time"`
	Source      Source    `json:"source"`
	UpstreamID  *int64    `json:"upstream_id,omitempty"`
	IsDuplicate bool      `json:"is_duplicate"`
	ReceivedAt  time.Time `json:"received_at"`
}

// StageRun is a computed attempt on a stage.
// (event, entry, stage, attempt) is unique. Superseded runs are immutable.
type StageRun struct {
	ID             int64      `json:"id"`
	EventID        int64      `json:"event_id"`
	EntryID        int64      `json:"entry_id"`
	StageID        int64      `json:"stage_id"`
	Attempt        int        `json:"attempt"`
	StartPunchID   *int64     `json:"start_punch_id,omitempty"`
	FinishPunchID  *int64     `json:"finish_punch_id,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	FinishTime     *time.Time `json:"finish_time,omitempty"`
	ElapsedSeconds *float64   `json:"elapsed_seconds,omitempty"`
	PenaltySeconds float64    `json:"penalty_seconds"`
	Status         RunStatus  `json:"status"`
	RunState       RunState   `json:"run_state"`
}

// CountingTime returns elapsed plus penalties, the value runs compete on.
// Only meaningful for valid runs.
func (r *StageRun) CountingTime() float64 {
	if r.ElapsedSeconds == nil {
		return 0
	}
	return *r.ElapsedSeconds + r.PenaltySeconds
}

// OverallResult is the per-entry classification row. Always rebuilt from
// StageRuns; never the primary source of truth.
type OverallResult struct {
	ID           int64     `json:"id"`
	EventID      int64     `json:"event_id"`
	EntryID      int64     `json:"entry_id"`
	TotalSeconds *float64  `json:"total_seconds,omitempty"`
	Position     *int      `json:"position,omitempty"`
	TimeBehind   *float64  `json:"time_behind,omitempty"`
	Status       RunStatus `json:"status"`
}

// JournalKind is the semantic type of a journal entry.
type JournalKind string

const (
	JournalRunCreated    JournalKind = "run_created"
	JournalRunSuperseded JournalKind = "run_superseded"
	JournalChipChanged   JournalKind = "chip_changed"
	JournalStatusChanged JournalKind = "status_changed"
	JournalPenaltyAdded  JournalKind = "penalty_added"
	JournalManualPunch   JournalKind = "manual_punch"
)

// JournalEntry is one append-only semantic event. IDs are strictly
// monotonic; each append commits in the transaction of the state change
// it describes.
type JournalEntry struct {
	ID        int64           `json:"id"`
	EventID   int64           `json:"event_id"`
	Kind      JournalKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Synced    bool            `json:"synced"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunCreatedPayload is the journal payload for run_created.
type RunCreatedPayload struct {
	EntryID    int64   `json:"entry_id"`
	Bib        int     `json:"bib"`
	StageID    int64   `json:"stage_id"`
	Attempt    int     `json:"attempt"`
	Elapsed    float64 `json:"elapsed"`
	SourceHint string  `json:"source_hint,omitempty"`
}

// RunSupersededPayload is the journal payload for run_superseded.
type RunSupersededPayload struct {
	RunID   int64  `json:"run_id"`
	EntryID int64  `json:"entry_id"`
	StageID int64  `json:"stage_id"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

// ChipChangedPayload is the journal payload for chip_changed.
type ChipChangedPayload struct {
	Bib     int    `json:"bib"`
	OldChip *int64 `json:"old_chip,omitempty"`
	NewChip int64  `json:"new_chip"`
}

// StatusChangedPayload is the journal payload for status_changed.
// RunID is set when the change targets a single attempt rather than the
// whole entry.
type StatusChangedPayload struct {
	EntryID   int64  `json:"entry_id"`
	Bib       int    `json:"bib"`
	RunID     int64  `json:"run_id,omitempty"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// PenaltyAddedPayload is the journal payload for penalty_added.
type PenaltyAddedPayload struct {
	RunID   int64   `json:"run_id"`
	EntryID int64   `json:"entry_id"`
	StageID int64   `json:"stage_id"`
	Seconds float64 `json:"seconds"`
	Reason  string  `json:"reason,omitempty"`
}

// ManualPunchPayload is the journal payload for manual_punch.
type ManualPunchPayload struct {
	PunchID     int64  `json:"punch_id"`
	ChipID      int64  `json:"chip_id"`
	ControlCode int    `json:"control_code"`
	PunchTime   string `json:"punch_time"`
	Bib         int    `json:"bib,omitempty"`
}

// Settings keys persisted in the repository. Race-day toggles survive
// restarts; only IngestPaused affects the core pipeline.
const (
	SettingIngestPaused    = "ingest_paused"
	SettingStandingsFrozen = "standings_frozen"
	SettingUSBConnected    = "usb_connected"
	SettingAdminToken      = "admin_token"
)
