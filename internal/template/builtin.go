package template

import (
	"fmt"

	"github.com/eklind/gravitytiming/internal/race"
)

// Control code convention, matching how the venue beacons are
// programmed:
//
//	Enduro:  SS1 = 11/12, SS2 = 21/22, ... SSn = n*10+1 / n*10+2
//	Descent: Start = 12, Mellantid 1 = 22, Mellantid 2 = 32, Mål = 52
//
// The built-ins mirror the GravitySeries race formats the system was
// built for.

var builtinOrder = []string{
	"Enduro - Tävling",
	"Enduro - SportMotion",
	"Enduro - Festival",
	"Downhill - Kval/Final",
	"Downhill - 2 åk",
	"Dual Slalom",
	"XCO",
	"XCM",
}

// Names returns the built-in template names in display order.
func Names() []string {
	names := make([]string, len(builtinOrder))
	copy(names, builtinOrder)
	return names
}

// Builtin returns a fresh copy of the named built-in template, or nil
// when the name is not a built-in.
func Builtin(name string) *Document {
	switch name {
	case "Enduro - Tävling":
		return enduroTavling()
	case "Enduro - SportMotion":
		return enduroSportMotion()
	case "Enduro - Festival":
		return enduroFestival()
	case "Downhill - Kval/Final":
		return downhillKvalFinal()
	case "Downhill - 2 åk":
		return downhillTvaAk()
	case "Dual Slalom":
		return dualSlalom()
	case "XCO":
		return xco()
	case "XCM":
		return xcm()
	}
	return nil
}

var standardClasses5 = []string{"Herr Elite", "Dam Elite", "Herr Hobby", "Dam Hobby", "Ungdom"}

// enduroTavling: 4-12 stages in fixed order, one run each. Ships with
// five; the organizer adds or removes stages in setup.
func enduroTavling() *Document {
	return &Document{
		Format:        race.FormatEnduro,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Controls:      enduroControls(5),
		Stages:        enduroStages(5, 1, nil),
		Courses: []CourseSpec{
			{Name: "Huvudbana", Laps: 1, StageNumbers: []int{1, 2, 3, 4, 5}},
		},
		Classes: classesFor("Huvudbana", standardClasses5...),
	}
}

// enduroSportMotion: two laps over the same stages in fixed order, both
// runs count.
func enduroSportMotion() *Document {
	return &Document{
		Format:        race.FormatEnduro,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Controls:      enduroControls(3),
		Stages:        enduroStages(3, 2, intPtr(2)),
		Courses: []CourseSpec{
			{Name: "SportMotion", Laps: 2, AllowRepeat: true, StageNumbers: []int{1, 2, 3}},
		},
		Classes: classesFor("SportMotion", standardClasses5...),
	}
}

// enduroFestival: free stage order, unlimited reruns, best run counts.
func enduroFestival() *Document {
	return &Document{
		Format:        race.FormatEnduro,
		StageOrder:    race.StageOrderFree,
		TimePrecision: race.PrecisionSeconds,
		Controls:      enduroControls(3),
		Stages:        enduroStages(3, 1, nil),
		Courses: []CourseSpec{
			{Name: "Festival", Laps: 1, StagesAnyOrder: true, AllowRepeat: true, StageNumbers: []int{1, 2, 3}},
		},
		Classes: classesFor("Festival", "Open"),
	}
}

// downhillKvalFinal: qualifying sets start order, the final decides
// placement. Two stages over the same physical course and beacons.
func downhillKvalFinal() *Document {
	return &Document{
		Format:        race.FormatDownhill,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionHundredths,
		Controls:      descentControls(),
		Stages: []StageSpec{
			{StageNumber: 1, Name: "Kval", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1, MaxRuns: intPtr(1)},
			{StageNumber: 2, Name: "Final", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1, MaxRuns: intPtr(1)},
		},
		Courses: []CourseSpec{
			{Name: "Downhill KF", Laps: 1, StageNumbers: []int{1, 2}},
		},
		Classes: classesFor("Downhill KF", standardClasses5...),
	}
}

// downhillTvaAk: two runs on the same course, best time counts.
func downhillTvaAk() *Document {
	return &Document{
		Format:        race.FormatDownhill,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionHundredths,
		Controls:      descentControls(),
		Stages: []StageSpec{
			{StageNumber: 1, Name: "Downhill", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1, MaxRuns: intPtr(2)},
		},
		Courses: []CourseSpec{
			{Name: "Downhill", Laps: 1, AllowRepeat: true, StageNumbers: []int{1}},
		},
		Classes: classesFor("Downhill", standardClasses5...),
	}
}

// dualSlalom: two timed qualifying runs feed a head-to-head bracket.
// Parallel starts are grouped on the shared gate within the window.
func dualSlalom() *Document {
	w := 5.0
	return &Document{
		Format:           race.FormatDualSlalom,
		StageOrder:       race.StageOrderFixed,
		TimePrecision:    race.PrecisionHundredths,
		DualSlalomWindow: &w,
		Controls: []ControlSpec{
			{Code: 12, Name: "Start", Type: race.ControlStart},
			{Code: 52, Name: "Mål", Type: race.ControlFinish},
		},
		Stages: []StageSpec{
			{StageNumber: 1, Name: "Slalom", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1},
		},
		Courses: []CourseSpec{
			{Name: "Dual Slalom", Laps: 1, AllowRepeat: true, StageNumbers: []int{1}},
		},
		Classes: classesFor("Dual Slalom", "Herr", "Dam"),
	}
}

// xco: lap course, several laps per class, optional split.
func xco() *Document {
	return &Document{
		Format:        race.FormatXC,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Controls: []ControlSpec{
			{Code: 12, Name: "Start", Type: race.ControlStart},
			{Code: 22, Name: "Mellantid", Type: race.ControlSplit},
			{Code: 52, Name: "Mål/Varv", Type: race.ControlFinish},
		},
		Stages: []StageSpec{
			{StageNumber: 1, Name: "Varv", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1},
		},
		Courses: []CourseSpec{
			{Name: "XCO", Laps: 4, StageNumbers: []int{1}},
		},
		Classes: classesFor("XCO", "Herr Elite", "Dam Elite", "Herr Hobby", "Dam Hobby"),
	}
}

// xcm: point-to-point marathon with splits.
func xcm() *Document {
	return &Document{
		Format:        race.FormatXC,
		StageOrder:    race.StageOrderFixed,
		TimePrecision: race.PrecisionSeconds,
		Controls:      descentControls(),
		Stages: []StageSpec{
			{StageNumber: 1, Name: "XCM", StartControlCode: 12, FinishControlCode: 52,
				IsTimed: true, RunsToCount: 1, MaxRuns: intPtr(1)},
		},
		Courses: []CourseSpec{
			{Name: "XCM", Laps: 1, StageNumbers: []int{1}},
		},
		Classes: classesFor("XCM", standardClasses5...),
	}
}

// enduroControls generates start/finish pairs for n stages: SSi gets
// codes i*10+1 and i*10+2.
func enduroControls(n int) []ControlSpec {
	controls := make([]ControlSpec, 0, 2*n)
	for i := 1; i <= n; i++ {
		controls = append(controls,
			ControlSpec{Code: i*10 + 1, Name: fmt.Sprintf("Start SS%d", i), Type: race.ControlStart},
			ControlSpec{Code: i*10 + 2, Name: fmt.Sprintf("Mål SS%d", i), Type: race.ControlFinish},
		)
	}
	return controls
}

// enduroStages generates n stage definitions over the standard enduro
// control codes.
func enduroStages(n, runsToCount int, maxRuns *int) []StageSpec {
	stages := make([]StageSpec, 0, n)
	for i := 1; i <= n; i++ {
		st := StageSpec{
			StageNumber:       i,
			Name:              fmt.Sprintf("SS%d", i),
			StartControlCode:  i*10 + 1,
			FinishControlCode: i*10 + 2,
			IsTimed:           true,
			RunsToCount:       runsToCount,
		}
		if maxRuns != nil {
			m := *maxRuns
			st.MaxRuns = &m
		}
		stages = append(stages, st)
	}
	return stages
}

// descentControls is the start/split/split/finish set the downhill and
// marathon formats share.
func descentControls() []ControlSpec {
	return []ControlSpec{
		{Code: 12, Name: "Start", Type: race.ControlStart},
		{Code: 22, Name: "Mellantid 1", Type: race.ControlSplit},
		{Code: 32, Name: "Mellantid 2", Type: race.ControlSplit},
		{Code: 52, Name: "Mål", Type: race.ControlFinish},
	}
}

func classesFor(course string, names ...string) []ClassSpec {
	classes := make([]ClassSpec, 0, len(names))
	for _, n := range names {
		classes = append(classes, ClassSpec{Name: n, CourseName: course})
	}
	return classes
}

func intPtr(v int) *int { return &v }
