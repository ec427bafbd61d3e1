package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eklind/gravitytiming/internal/live"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/store"
)

// classBaseline is what the class table looked like before a run was
// aggregated, captured so highlights can tell a change from a repeat.
type classBaseline struct {
	leaderEntryID int64
	positions     map[int64]int
}

// classBaseline snapshots the ranked entries of a class. Failures leave
// an empty baseline and highlights treat everyone as newly ranked.
func (e *Engine) classBaseline(ctx context.Context, ev *race.Event, classID int64) *classBaseline {
	b := &classBaseline{positions: map[int64]int{}}
	rows, err := e.store.Standings(ctx, ev.ID, classID)
	if err != nil {
		slog.Error("baseline standings failed", "event", ev.ID, "class", classID, "error", err)
		return b
	}
	for i := range rows {
		r := &rows[i]
		if r.Position == nil {
			continue
		}
		b.positions[r.EntryID] = *r.Position
		if *r.Position == 1 && b.leaderEntryID == 0 {
			b.leaderEntryID = r.EntryID
		}
	}
	return b
}

// detectHighlights derives speaker moments for the rider whose run just
// finalized by comparing the class table before and after aggregation.
// Taking the lead outranks the podium entry it implies; a tight gap to
// the leader is reported either way.
func (e *Engine) detectHighlights(ctx context.Context, ev *race.Event, out *punchOutcome, rows []store.StandingRow) []live.HighlightPayload {
	if out.baseline == nil {
		return nil
	}
	var row *store.StandingRow
	for i := range rows {
		if rows[i].EntryID == out.entry.ID {
			row = &rows[i]
			break
		}
	}
	if row == nil || row.Position == nil {
		return nil
	}

	name := out.entry.FirstName + " " + out.entry.LastName
	pos := *row.Position
	oldPos, hadPos := out.baseline.positions[out.entry.ID]

	var hs []live.HighlightPayload
	switch {
	case pos == 1 && out.baseline.leaderEntryID != out.entry.ID:
		hs = append(hs, live.HighlightPayload{
			EventID:     ev.ID,
			Category:    live.HighlightNewLeader,
			Text:        fmt.Sprintf("%s (#%d) tar ledningen i %s", name, out.entry.Bib, out.className),
			Bib:         out.entry.Bib,
			StageNumber: out.stage.StageNumber,
			Priority:    "high",
		})
	case pos <= 3 && (!hadPos || oldPos > 3):
		hs = append(hs, live.HighlightPayload{
			EventID:     ev.ID,
			Category:    live.HighlightPodium,
			Text:        fmt.Sprintf("%s (#%d) kör in på pallplats %d i %s", name, out.entry.Bib, pos, out.className),
			Bib:         out.entry.Bib,
			StageNumber: out.stage.StageNumber,
			Priority:    "normal",
		})
	}

	if pos > 1 && row.TimeBehind != nil && *row.TimeBehind <= e.closeGap {
		hs = append(hs, live.HighlightPayload{
			EventID:     ev.ID,
			Category:    live.HighlightCloseFinish,
			Text:        fmt.Sprintf("%s (#%d) bara %.1fs från ledaren i %s", name, out.entry.Bib, *row.TimeBehind, out.className),
			Bib:         out.entry.Bib,
			StageNumber: out.stage.StageNumber,
			Priority:    "normal",
		})
	}
	return hs
}
