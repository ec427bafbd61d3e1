package csvio

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/eklind/gravitytiming/internal/engine"
	"github.com/eklind/gravitytiming/internal/race"
	"github.com/eklind/gravitytiming/internal/roc"
	"github.com/eklind/gravitytiming/internal/store"
)

// ImportStartlist reads a BIB;FirstName;LastName;Club;Class file and
// upserts entries by bib. Classes are created on demand; when the event
// has no course yet a default "Huvudbana" is created and linked to every
// stage, so a bare template-less event becomes raceable from the
// startlist alone. Rows with fewer than five fields and the header row
// are skipped; a non-numeric bib produces a warning and skips the row.
func ImportStartlist(ctx context.Context, s *store.Store, eventID int64, r io.Reader) (*ImportStats, error) {
	content, err := decode(r)
	if err != nil {
		return nil, err
	}
	rows, err := readRows(content)
	if err != nil {
		return nil, err
	}

	courseID, err := ensureDefaultCourse(ctx, s, eventID)
	if err != nil {
		return nil, err
	}

	classes, err := s.ListClasses(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	classIDs := make(map[string]int64, len(classes))
	for _, cl := range classes {
		classIDs[cl.Name] = cl.ID
	}

	stats := &ImportStats{}
	for i, row := range rows {
		if len(row) < 5 {
			continue
		}
		if isHeader(row) {
			continue
		}

		bib, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("Rad %d: Ogiltigt startnummer '%s'", i+1, row[0]))
			continue
		}

		firstName := cleanName(row[1])
		lastName := cleanName(row[2])
		club := cleanName(row[3])
		className := cleanName(row[4])

		classID, ok := classIDs[className]
		if !ok {
			cl := &race.Class{EventID: eventID, Name: className, CourseID: courseID}
			if err := s.CreateClass(ctx, cl); err != nil {
				return nil, fmt.Errorf("create class %q: %w", className, err)
			}
			classID = cl.ID
			classIDs[className] = classID
		}

		entry := &race.Entry{
			EventID:   eventID,
			Bib:       bib,
			FirstName: firstName,
			LastName:  lastName,
			Club:      club,
			ClassID:   classID,
		}
		if err := s.UpsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("upsert bib %d: %w", bib, err)
		}
		stats.Count++
	}
	return stats, nil
}

// ImportChips reads a BIB;SIAC1;SIAC2 file and binds chips to bibs. The
// second chip is optional. A chip already bound to another bib moves to
// the new one; re-importing the same file is a no-op. Count is the
// number of chip bindings applied, not rows.
func ImportChips(ctx context.Context, s *store.Store, eventID int64, r io.Reader) (*ImportStats, error) {
	content, err := decode(r)
	if err != nil {
		return nil, err
	}
	rows, err := readRows(content)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		if isHeader(row) {
			continue
		}

		bib, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			stats.Warnings = append(stats.Warnings,
				fmt.Sprintf("Rad %d: Ogiltigt startnummer '%s'", i+1, row[0]))
			continue
		}

		if primary := strings.TrimSpace(row[1]); primary != "" {
			chipID, err := strconv.ParseInt(primary, 10, 64)
			if err != nil {
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("Rad %d: Ogiltigt SIAC1 '%s'", i+1, primary))
			} else {
				if err := rebindChip(ctx, s, eventID, bib, chipID, true); err != nil {
					return nil, err
				}
				stats.Count++
			}
		}

		if len(row) < 3 {
			continue
		}
		if secondary := strings.TrimSpace(row[2]); secondary != "" {
			chipID, err := strconv.ParseInt(secondary, 10, 64)
			if err != nil {
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("Rad %d: Ogiltigt SIAC2 '%s'", i+1, secondary))
			} else {
				if err := rebindChip(ctx, s, eventID, bib, chipID, false); err != nil {
					return nil, err
				}
				stats.Count++
			}
		}
	}
	return stats, nil
}

// ImportPunches reads an UPSTREAM_ID;CONTROL;CHIP;TIME punch log and
// feeds every row through the full ingest pipeline with source roc.
// Admission is bypassed so a backlog file lands even while live ingest
// is paused. Upstream ids dedupe re-imports: Total counts parsed rows,
// New only the punches actually inserted. Lines starting with # are
// comments.
func ImportPunches(ctx context.Context, e *engine.Engine, eventID int64, r io.Reader) (*PunchImportStats, error) {
	content, err := decode(r)
	if err != nil {
		return nil, err
	}

	stats := &PunchImportStats{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Count(line, ";") < 3 {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Ogiltig rad: %s", line))
			continue
		}

		rd, err := roc.ParseReading(line)
		if err != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("Tolkningsfel: %s (%v)", line, err))
			continue
		}
		stats.Total++

		res, err := e.Ingest(ctx, engine.PunchInput{
			EventID:         eventID,
			ChipID:          rd.ChipID,
			ControlCode:     rd.ControlCode,
			PunchTime:       rd.PunchTime,
			Source:          race.SourceROC,
			UpstreamID:      &rd.ID,
			BypassAdmission: true,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest punch %d: %w", rd.ID, err)
		}
		if res.PunchID != 0 {
			stats.New++
		}
	}
	return stats, nil
}

// ensureDefaultCourse returns the event's first course, creating
// "Huvudbana" when none exists, and links every unlinked stage to it in
// stage number order.
func ensureDefaultCourse(ctx context.Context, s *store.Store, eventID int64) (int64, error) {
	courses, err := s.ListCourses(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("list courses: %w", err)
	}
	var courseID int64
	if len(courses) > 0 {
		courseID = courses[0].ID
	} else {
		course := &race.Course{EventID: eventID, Name: "Huvudbana"}
		if err := s.CreateCourse(ctx, course); err != nil {
			return 0, fmt.Errorf("create default course: %w", err)
		}
		courseID = course.ID
	}

	linked := map[int64]bool{}
	links, err := s.ListCourseStages(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("list course stages: %w", err)
	}
	for _, cs := range links {
		linked[cs.StageID] = true
	}

	stages, err := s.ListStages(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("list stages: %w", err)
	}
	for _, st := range stages {
		if linked[st.ID] {
			continue
		}
		if err := s.LinkCourseStage(ctx, courseID, st.ID, st.StageNumber); err != nil {
			return 0, fmt.Errorf("link stage %d: %w", st.StageNumber, err)
		}
	}
	return courseID, nil
}

// rebindChip assigns a chip to a bib, releasing it from any other bib
// first. Registration files are authoritative about who carries what.
func rebindChip(ctx context.Context, s *store.Store, eventID int64, bib int, chipID int64, primary bool) error {
	prev, err := s.BibForChip(ctx, eventID, chipID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("resolve chip %d: %w", chipID, err)
	}
	if err == nil && prev != bib {
		if err := s.DeleteChipMapping(ctx, eventID, chipID); err != nil {
			return fmt.Errorf("release chip %d: %w", chipID, err)
		}
	}
	m := &race.ChipMapping{EventID: eventID, Bib: bib, ChipID: chipID, IsPrimary: primary}
	if err := s.AssignChip(ctx, m); err != nil {
		return fmt.Errorf("assign chip %d: %w", chipID, err)
	}
	return nil
}

// cleanName normalizes an imported text field. Mac-exported files carry
// decomposed å/ä/ö which otherwise split one class into two.
func cleanName(s string) string {
	return race.NormalizeName(s)
}
