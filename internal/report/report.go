// Package report exports a learner's progression as an XLSX workbook for
// teachers and parents.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/progress"
	"github.com/p-n-ai/skoolup/internal/session"
)

const (
	SummarySheet  = "Résumé"
	ProgressSheet = "Progression"
)

var progressHeader = []any{"Niveau", "Matière", "Module", "Unité", "Chapitre", "Statut chapitre", "Étape", "Type", "Statut étape", "XP"}

var statusLabels = map[curriculum.Status]string{
	curriculum.StatusLocked:    "verrouillé",
	curriculum.StatusCurrent:   "en cours",
	curriculum.StatusCompleted: "terminé",
}

var printer = message.NewPrinter(language.French)

// SubjectLookup resolves subject display names.
type SubjectLookup interface {
	Subject(grade curriculum.GradeLevel, id string) (curriculum.Subject, bool)
}

// FormatXP renders an XP amount with French digit grouping.
func FormatXP(xp int) string {
	return printer.Sprintf("%d XP", xp)
}

// Write builds the workbook for snap and writes it to w.
func Write(w io.Writer, snap *session.Snapshot, subjects SubjectLookup) error {
	f, err := Build(snap, subjects)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Build creates a workbook with a summary sheet and one row per step. The
// caller closes the returned file.
func Build(snap *session.Snapshot, subjects SubjectLookup) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(ProgressSheet); err != nil {
		f.Close()
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#4F46E5"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writeSummary(f, snap, subjects, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeProgress(f, snap, subjects, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("progress sheet: %w", err)
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeSummary(f *excelize.File, snap *session.Snapshot, subjects SubjectLookup, header int) error {
	p := snap.Learner
	rows := [][]any{
		{"Élève", p.ID},
		{"Nom", p.Name},
		{"Classe", string(p.Grade)},
		{"XP", FormatXP(p.XP)},
		{"Niveau", p.Level()},
		{"Série", printer.Sprintf("%d jours", p.Streak)},
		{"Mis à jour", snap.UpdatedAt.Format("02/01/2006 15:04")},
		{},
		{"Classe", "Matière", "Progression", "XP obtenus", "XP possibles"},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(SummarySheet, cell(1, i+1), &row); err != nil {
			return err
		}
	}
	tableRow := len(rows)
	if err := f.SetCellStyle(SummarySheet, cell(1, tableRow), cell(5, tableRow), header); err != nil {
		return err
	}

	row := tableRow + 1
	for _, grade := range grades(snap.Curriculum) {
		for _, subjectID := range subjectIDs(snap.Curriculum, grade) {
			modules := snap.Curriculum[grade][subjectID]
			values := []any{
				string(grade),
				subjectName(subjects, grade, subjectID),
				fmt.Sprintf("%d %%", progress.ProgressPercent(modules)),
				FormatXP(earnedXP(modules)),
				FormatXP(progress.MaxXP(modules)),
			}
			if err := f.SetSheetRow(SummarySheet, cell(1, row), &values); err != nil {
				return err
			}
			row++
		}
	}
	return f.SetColWidth(SummarySheet, "A", "E", 18)
}

func writeProgress(f *excelize.File, snap *session.Snapshot, subjects SubjectLookup, header int) error {
	if err := f.SetSheetRow(ProgressSheet, "A1", &progressHeader); err != nil {
		return err
	}
	if err := f.SetCellStyle(ProgressSheet, "A1", cell(len(progressHeader), 1), header); err != nil {
		return err
	}

	row := 2
	for _, grade := range grades(snap.Curriculum) {
		for _, subjectID := range subjectIDs(snap.Curriculum, grade) {
			name := subjectName(subjects, grade, subjectID)
			for _, m := range snap.Curriculum[grade][subjectID] {
				for _, u := range m.Units {
					for _, c := range u.Chapters {
						base := []any{string(grade), name, m.Title, u.Title, c.Title, statusLabels[c.Status]}
						steps := c.Steps
						if len(steps) == 0 {
							values := append(base, "", "", "", c.XPReward)
							if err := f.SetSheetRow(ProgressSheet, cell(1, row), &values); err != nil {
								return err
							}
							row++
							continue
						}
						for _, s := range steps {
							values := append(append([]any{}, base...), s.Title, string(s.Kind), statusLabels[s.Status], s.XPReward)
							if err := f.SetSheetRow(ProgressSheet, cell(1, row), &values); err != nil {
								return err
							}
							row++
						}
					}
				}
			}
		}
	}

	if err := f.AutoFilter(ProgressSheet, "A1:"+cell(len(progressHeader), max(row-1, 1)), nil); err != nil {
		return err
	}
	return f.SetColWidth(ProgressSheet, "A", "J", 16)
}

// earnedXP sums the rewards of completed steps and chapters.
func earnedXP(modules []curriculum.Module) int {
	total := 0
	for _, c := range curriculum.Chapters(modules) {
		if c.Status == curriculum.StatusCompleted {
			total += c.XPReward
		}
		for _, s := range c.Steps {
			if s.Status == curriculum.StatusCompleted {
				total += s.XPReward
			}
		}
	}
	return total
}

func grades(tree curriculum.Tree) []curriculum.GradeLevel {
	var out []curriculum.GradeLevel
	for _, g := range curriculum.GradeLevels {
		if len(tree[g]) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func subjectIDs(tree curriculum.Tree, grade curriculum.GradeLevel) []string {
	ids := make([]string, 0, len(tree[grade]))
	for id := range tree[grade] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func subjectName(subjects SubjectLookup, grade curriculum.GradeLevel, id string) string {
	if subjects != nil {
		if s, ok := subjects.Subject(grade, id); ok && s.Name != "" {
			return s.Name
		}
	}
	return id
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
