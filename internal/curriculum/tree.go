package curriculum

import "sort"

// Modules returns the module list of a subject within a grade, or false if
// the path does not resolve.
func (t Tree) Modules(grade GradeLevel, subjectID string) ([]Module, bool) {
	subjects, ok := t[grade]
	if !ok {
		return nil, false
	}
	modules, ok := subjects[subjectID]
	return modules, ok
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for grade, subjects := range t {
		cs := make(map[string][]Module, len(subjects))
		for id, modules := range subjects {
			cs[id] = CloneModules(modules)
		}
		out[grade] = cs
	}
	return out
}

// CloneModules deep-copies a module list.
func CloneModules(modules []Module) []Module {
	if modules == nil {
		return nil
	}
	out := make([]Module, len(modules))
	for i, m := range modules {
		out[i] = m
		out[i].Units = make([]Unit, len(m.Units))
		for j, u := range m.Units {
			out[i].Units[j] = u
			out[i].Units[j].Chapters = make([]Chapter, len(u.Chapters))
			for k, c := range u.Chapters {
				out[i].Units[j].Chapters[k] = c.clone()
			}
		}
	}
	return out
}

func (c Chapter) clone() Chapter {
	out := c
	out.Steps = make([]Step, len(c.Steps))
	for i, s := range c.Steps {
		out.Steps[i] = s
		if s.Quiz != nil {
			q := *s.Quiz
			q.Options = append([]QuizOption(nil), s.Quiz.Options...)
			out.Steps[i].Quiz = &q
		}
		if s.Fragments != nil {
			out.Steps[i].Fragments = append([]Fragment(nil), s.Fragments...)
		}
	}
	return out
}

// Normalize gives every entity an explicit order key (its declared position
// when none was set) and sorts each level by that key. Sorting is stable, so
// equal keys keep their declared order.
func Normalize(modules []Module) {
	for i := range modules {
		if modules[i].Order == 0 {
			modules[i].Order = i + 1
		}
		units := modules[i].Units
		for j := range units {
			if units[j].Order == 0 {
				units[j].Order = j + 1
			}
			chapters := units[j].Chapters
			for k := range chapters {
				if chapters[k].Order == 0 {
					chapters[k].Order = k + 1
				}
				steps := chapters[k].Steps
				for l := range steps {
					if steps[l].Order == 0 {
						steps[l].Order = l + 1
					}
				}
				sort.SliceStable(steps, func(a, b int) bool { return steps[a].Order < steps[b].Order })
			}
			sort.SliceStable(chapters, func(a, b int) bool { return chapters[a].Order < chapters[b].Order })
		}
		sort.SliceStable(units, func(a, b int) bool { return units[a].Order < units[b].Order })
	}
	sort.SliceStable(modules, func(a, b int) bool { return modules[a].Order < modules[b].Order })
}

// Chapters returns pointers to every chapter of the module list in
// curriculum order (module, then unit, then chapter order keys).
func Chapters(modules []Module) []*Chapter {
	type keyed struct {
		ch  *Chapter
		key [3]int
	}
	var all []keyed
	for i := range modules {
		for j := range modules[i].Units {
			u := &modules[i].Units[j]
			for k := range u.Chapters {
				all = append(all, keyed{
					ch:  &u.Chapters[k],
					key: [3]int{modules[i].Order, u.Order, u.Chapters[k].Order},
				})
			}
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		ka, kb := all[a].key, all[b].key
		for i := range ka {
			if ka[i] != kb[i] {
				return ka[i] < kb[i]
			}
		}
		return false
	})
	out := make([]*Chapter, len(all))
	for i, k := range all {
		out[i] = k.ch
	}
	return out
}

// OrderedSteps returns pointers to the chapter's steps sorted by order key.
func (c *Chapter) OrderedSteps() []*Step {
	out := make([]*Step, len(c.Steps))
	for i := range c.Steps {
		out[i] = &c.Steps[i]
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Order < out[b].Order })
	return out
}

// AllStepsCompleted reports whether every step of the chapter is completed.
// A chapter with no steps is trivially complete.
func (c *Chapter) AllStepsCompleted() bool {
	for _, s := range c.Steps {
		if s.Status != StatusCompleted {
			return false
		}
	}
	return true
}
