package curriculum

// GradeLevel selects which curriculum slice is active.
type GradeLevel string

const (
	Grade6eme GradeLevel = "6eme"
	Grade5eme GradeLevel = "5eme"
	Grade4eme GradeLevel = "4eme"
	Grade3eme GradeLevel = "3eme"
	Grade2nde GradeLevel = "2nde"
	Grade1ere GradeLevel = "1ere"
	GradeTle  GradeLevel = "tle"
)

// GradeLevels lists every grade in school-year order.
var GradeLevels = []GradeLevel{Grade6eme, Grade5eme, Grade4eme, Grade3eme, Grade2nde, Grade1ere, GradeTle}

// Valid reports whether g is a known grade level.
func (g GradeLevel) Valid() bool {
	for _, known := range GradeLevels {
		if g == known {
			return true
		}
	}
	return false
}

// Status is the progression state of a chapter or step.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusCurrent   Status = "current"
	StatusCompleted Status = "completed"
)

// StepKind discriminates the payload carried by a Step.
type StepKind string

const (
	KindTheory     StepKind = "theory"
	KindCheckpoint StepKind = "checkpoint"
	KindExercise   StepKind = "exercise"
)

// Subject is catalog reference data. It is never mutated by progression.
type Subject struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Icon  string `yaml:"icon" json:"icon"`
	Color string `yaml:"color" json:"color"`
	Order int    `yaml:"order" json:"order"`
}

// Module groups units under a subject.
type Module struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Order int    `yaml:"order" json:"order"`
	Units []Unit `yaml:"units" json:"units"`
}

// Unit groups chapters under a module.
type Unit struct {
	ID       string    `yaml:"id" json:"id"`
	Title    string    `yaml:"title" json:"title"`
	Order    int       `yaml:"order" json:"order"`
	Chapters []Chapter `yaml:"chapters" json:"chapters"`
}

// Chapter is the primary unit of progress tracking.
type Chapter struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Status      Status `yaml:"status" json:"status"`
	XPReward    int    `yaml:"xp_reward" json:"xp_reward"`
	Order       int    `yaml:"order" json:"order"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Step is the atomic unit of work inside a chapter. Exactly one of the
// kind-specific payloads is populated, matching Kind.
type Step struct {
	ID          string   `yaml:"id" json:"id"`
	Kind        StepKind `yaml:"kind" json:"kind"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Status      Status   `yaml:"status" json:"status"`
	XPReward    int      `yaml:"xp_reward" json:"xp_reward"`
	Order       int      `yaml:"order" json:"order"`

	// theory
	Content  string `yaml:"content,omitempty" json:"content,omitempty"`
	VideoURL string `yaml:"video_url,omitempty" json:"video_url,omitempty"`

	// checkpoint
	Quiz *Quiz `yaml:"quiz,omitempty" json:"quiz,omitempty"`

	// exercise
	Fragments []Fragment `yaml:"fragments,omitempty" json:"fragments,omitempty"`
}

// Quiz is a single-select question.
type Quiz struct {
	ID       string       `yaml:"id" json:"id"`
	Question string       `yaml:"question" json:"question"`
	ImageURL string       `yaml:"image_url,omitempty" json:"image_url,omitempty"`
	Options  []QuizOption `yaml:"options" json:"options"`
}

// QuizOption is one answer of a Quiz.
type QuizOption struct {
	ID        string `yaml:"id" json:"id"`
	Text      string `yaml:"text" json:"text"`
	IsCorrect bool   `yaml:"is_correct" json:"is_correct"`
}

// Fragment is one block of an ordering exercise. The reference order is the
// order of Step.Fragments.
type Fragment struct {
	ID      string `yaml:"id" json:"id"`
	Content string `yaml:"content" json:"content"`
}

// Tree is the mutable curriculum state of one learner, keyed by grade then subject ID.
type Tree map[GradeLevel]map[string][]Module
