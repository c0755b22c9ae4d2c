package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/skoolup/internal/curriculum"
	"github.com/p-n-ai/skoolup/internal/learner"
	"github.com/p-n-ai/skoolup/internal/platform/metrics"
	"github.com/p-n-ai/skoolup/internal/progress"
)

// saveAttempts bounds how often a mutation is replayed after losing a
// version race with another writer.
const saveAttempts = 3

// Catalog is the read side of the curriculum loader.
type Catalog interface {
	Tree() curriculum.Tree
	Subjects(grade curriculum.GradeLevel) []curriculum.Subject
	Subject(grade curriculum.GradeLevel, id string) (curriculum.Subject, bool)
	Digest() string
}

// ServiceConfig wires a Service. Events, Publisher, Metrics and Now are
// optional.
type ServiceConfig struct {
	Catalog      Catalog
	Store        SnapshotStore
	Events       EventLogger
	Publisher    Publisher
	Metrics      *metrics.Metrics
	Now          func() time.Time
	DefaultGrade curriculum.GradeLevel
}

// Service applies progression operations to learner sessions. Operations on
// the same learner are serialized; every mutation is persisted as a whole
// snapshot before events go out.
type Service struct {
	catalog      Catalog
	store        SnapshotStore
	events       EventLogger
	publisher    Publisher
	metrics      *metrics.Metrics
	now          func() time.Time
	defaultGrade curriculum.GradeLevel

	locksMu sync.Mutex
	locks   map[string]*learnerLock
}

// learnerLock serializes writes to one learner. It is dropped from the map
// once nobody holds or waits on it.
type learnerLock struct {
	mu   sync.Mutex
	refs int
}

// Result is returned by every completion call.
type Result struct {
	Outcome  progress.Outcome `json:"outcome"`
	XP       int              `json:"xp_delta"`
	Learner  learner.Profile  `json:"learner"`
	Level    int              `json:"level"`
	Progress int              `json:"progress"`
}

// SubjectProgress is a subject card with the learner's completion.
type SubjectProgress struct {
	curriculum.Subject
	Progress      int    `json:"progress"`
	ActiveChapter string `json:"active_chapter,omitempty"`
}

// SubjectView is a subject's full module tree for one learner.
type SubjectView struct {
	Subject       curriculum.Subject  `json:"subject"`
	Modules       []curriculum.Module `json:"modules"`
	Progress      int                 `json:"progress"`
	ActiveChapter string              `json:"active_chapter,omitempty"`
}

// QuestResult is returned by ClaimQuest.
type QuestResult struct {
	QuestID string          `json:"quest_id"`
	XP      int             `json:"xp_delta"`
	Learner learner.Profile `json:"learner"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	s := &Service{
		catalog:      cfg.Catalog,
		store:        cfg.Store,
		events:       cfg.Events,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		defaultGrade: cfg.DefaultGrade,
		locks:        make(map[string]*learnerLock),
	}
	if s.events == nil {
		s.events = NopEventLogger{}
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.defaultGrade == "" {
		s.defaultGrade = curriculum.Grade3eme
	}
	if !s.defaultGrade.Valid() {
		return nil, fmt.Errorf("invalid default grade %q", s.defaultGrade)
	}
	return s, nil
}

func (s *Service) lock(learnerID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[learnerID]
	if !ok {
		l = &learnerLock{}
		s.locks[learnerID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, learnerID)
		}
		s.locksMu.Unlock()
	}
}

// HealthCheck reports whether the snapshot store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

// Profile returns the learner's profile. An unknown learner gets the profile
// it would start with; nothing is stored until its first write.
func (s *Service) Profile(ctx context.Context, learnerID string) (learner.Profile, error) {
	snap, err := s.Snapshot(ctx, learnerID)
	if err != nil {
		return learner.Profile{}, err
	}
	p := snap.Learner
	p.RefreshQuests(s.now())
	return p, nil
}

// Snapshot returns the learner's current snapshot. Reads never write: an
// unknown learner gets an unsaved, freshly seeded snapshot at version 0.
func (s *Service) Snapshot(ctx context.Context, learnerID string) (*Snapshot, error) {
	return s.view(ctx, learnerID)
}

// Subjects lists a grade's subjects with the learner's progress in each.
func (s *Service) Subjects(ctx context.Context, learnerID string, grade curriculum.GradeLevel) ([]SubjectProgress, error) {
	if !grade.Valid() {
		return nil, fmt.Errorf("grade %q: %w", grade, progress.ErrNotFound)
	}
	snap, err := s.Snapshot(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	subjects := s.catalog.Subjects(grade)
	out := make([]SubjectProgress, 0, len(subjects))
	for _, subj := range subjects {
		sp := SubjectProgress{Subject: subj}
		if modules, ok := snap.Curriculum.Modules(grade, subj.ID); ok {
			sp.Progress = progress.ProgressPercent(modules)
			if c := progress.ActiveChapter(modules); c != nil {
				sp.ActiveChapter = c.ID
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

// Modules returns one subject's tree as the learner sees it.
func (s *Service) Modules(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID string) (SubjectView, error) {
	subj, ok := s.catalog.Subject(grade, subjectID)
	if !ok {
		return SubjectView{}, fmt.Errorf("subject %s/%s: %w", grade, subjectID, progress.ErrNotFound)
	}
	snap, err := s.Snapshot(ctx, learnerID)
	if err != nil {
		return SubjectView{}, err
	}
	modules, ok := snap.Curriculum.Modules(grade, subjectID)
	if !ok {
		return SubjectView{}, fmt.Errorf("subject %s/%s: %w", grade, subjectID, progress.ErrNotFound)
	}

	view := SubjectView{
		Subject:  subj,
		Modules:  modules,
		Progress: progress.ProgressPercent(modules),
	}
	if c := progress.ActiveChapter(modules); c != nil {
		view.ActiveChapter = c.ID
	}
	return view, nil
}

// Chapter returns one chapter as the learner sees it.
func (s *Service) Chapter(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID, chapterID string) (curriculum.Chapter, error) {
	snap, err := s.Snapshot(ctx, learnerID)
	if err != nil {
		return curriculum.Chapter{}, err
	}
	c, err := progress.FindChapter(snap.Curriculum, grade, subjectID, chapterID)
	if err != nil {
		return curriculum.Chapter{}, err
	}
	return *c, nil
}

// ActiveStep returns the chapter's current step, or nil when there is none.
func (s *Service) ActiveStep(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID, chapterID string) (*curriculum.Step, error) {
	c, err := s.Chapter(ctx, learnerID, grade, subjectID, chapterID)
	if err != nil {
		return nil, err
	}
	return progress.ActiveStep(&c), nil
}

// Attempt validates a learner's interaction with a step and completes the
// step when it succeeds.
func (s *Service) Attempt(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID, chapterID, stepID string, a curriculum.Attempt) (Result, error) {
	return s.mutate(ctx, learnerID, "attempt", grade, subjectID, func(tree curriculum.Tree) (progress.Outcome, error) {
		chapter, err := progress.FindChapter(tree, grade, subjectID, chapterID)
		if err != nil {
			return progress.Outcome{}, err
		}
		step, err := progress.FindStep(chapter, stepID)
		if err != nil {
			return progress.Outcome{}, err
		}
		if step.Status == curriculum.StatusCompleted {
			return progress.Outcome{}, nil
		}
		if chapter.Status == curriculum.StatusLocked {
			return progress.Outcome{}, fmt.Errorf("chapter %s: %w", chapterID, progress.ErrLocked)
		}
		if step.Status == curriculum.StatusLocked {
			return progress.Outcome{}, fmt.Errorf("step %s: %w", stepID, progress.ErrLocked)
		}
		if err := curriculum.Validate(step, a); err != nil {
			return progress.Outcome{}, err
		}
		return progress.CompleteStep(tree, grade, subjectID, chapterID, stepID)
	})
}

// CompleteStep completes a step whose interaction was validated elsewhere.
func (s *Service) CompleteStep(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID, chapterID, stepID string) (Result, error) {
	return s.mutate(ctx, learnerID, "complete_step", grade, subjectID, func(tree curriculum.Tree) (progress.Outcome, error) {
		return progress.CompleteStep(tree, grade, subjectID, chapterID, stepID)
	})
}

// CompleteChapter completes a chapter whose steps are all done.
func (s *Service) CompleteChapter(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID, chapterID string) (Result, error) {
	return s.mutate(ctx, learnerID, "complete_chapter", grade, subjectID, func(tree curriculum.Tree) (progress.Outcome, error) {
		return progress.CompleteChapter(tree, grade, subjectID, chapterID)
	})
}

// ClaimQuest grants a completed daily quest's reward.
func (s *Service) ClaimQuest(ctx context.Context, learnerID, questID string) (QuestResult, error) {
	unlock := s.lock(learnerID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		snap, err := s.open(ctx, learnerID)
		if err != nil {
			return QuestResult{}, err
		}
		now := s.now()
		xp, err := snap.Learner.ClaimQuest(questID, now)
		if err != nil {
			slog.Warn("quest claim rejected", "learner_id", learnerID, "quest_id", questID, "error", err)
			s.metrics.Rejected("claim_quest", reason(err))
			return QuestResult{}, err
		}

		snap.UpdatedAt = now
		if err := s.store.Save(ctx, snap); err != nil {
			if errors.Is(err, ErrStaleSnapshot) && attempt < saveAttempts {
				s.metrics.StaleWrite()
				continue
			}
			return QuestResult{}, s.saveFailed(learnerID, "claim_quest", err)
		}

		slog.Info("quest claimed", "learner_id", learnerID, "quest_id", questID, "xp", xp)
		s.metrics.QuestClaimed(questID)
		s.metrics.XPAwarded("quest", xp)
		s.emit(ctx,
			NewEvent(learnerID, EventQuestClaimed, map[string]any{"quest_id": questID, "xp": xp}, now),
			s.xpEvent(snap.Learner, xp, now),
		)
		return QuestResult{QuestID: questID, XP: xp, Learner: snap.Learner}, nil
	}
}

// Upgrade turns on the learner's premium flag. Upgrading a premium learner is
// a no-op.
func (s *Service) Upgrade(ctx context.Context, learnerID string) (learner.Profile, error) {
	unlock := s.lock(learnerID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		snap, err := s.open(ctx, learnerID)
		if err != nil {
			return learner.Profile{}, err
		}
		if snap.Learner.Premium {
			return snap.Learner, nil
		}
		snap.Learner.Upgrade()
		snap.UpdatedAt = s.now()
		if err := s.store.Save(ctx, snap); err != nil {
			if errors.Is(err, ErrStaleSnapshot) && attempt < saveAttempts {
				s.metrics.StaleWrite()
				continue
			}
			return learner.Profile{}, s.saveFailed(learnerID, "upgrade", err)
		}
		slog.Info("learner upgraded to premium", "learner_id", learnerID)
		return snap.Learner, nil
	}
}

// mutate runs op on the learner's tree, feeds the outcome to the profile and
// persists the result. A lost version race reloads and replays op.
func (s *Service) mutate(ctx context.Context, learnerID, operation string, grade curriculum.GradeLevel, subjectID string, op func(curriculum.Tree) (progress.Outcome, error)) (Result, error) {
	unlock := s.lock(learnerID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		snap, err := s.open(ctx, learnerID)
		if err != nil {
			return Result{}, err
		}

		out, err := op(snap.Curriculum)
		if err != nil {
			slog.Warn("progress operation rejected",
				"learner_id", learnerID,
				"operation", operation,
				"grade", grade,
				"subject_id", subjectID,
				"error", err,
			)
			s.metrics.Rejected(operation, reason(err))
			return Result{}, err
		}

		res := Result{Outcome: out, XP: out.XP()}
		if !out.Changed() {
			res.Learner = snap.Learner
			res.Level = snap.Learner.Level()
			res.Progress = subjectProgress(snap.Curriculum, grade, subjectID)
			return res, nil
		}

		now := s.now()
		snap.Learner.AwardXP(res.XP, now)
		snap.Learner.RecordActivity(learner.Activity{
			Steps:    boolInt(out.StepCompleted),
			Chapters: boolInt(out.ChapterCompleted),
			XP:       res.XP,
		}, now)
		snap.UpdatedAt = now

		if err := s.store.Save(ctx, snap); err != nil {
			if errors.Is(err, ErrStaleSnapshot) && attempt < saveAttempts {
				slog.Warn("snapshot changed underneath, replaying", "learner_id", learnerID, "operation", operation)
				s.metrics.StaleWrite()
				continue
			}
			return Result{}, s.saveFailed(learnerID, operation, err)
		}

		res.Learner = snap.Learner
		res.Level = snap.Learner.Level()
		res.Progress = subjectProgress(snap.Curriculum, grade, subjectID)
		s.record(ctx, learnerID, grade, subjectID, out, snap.Learner, now)
		return res, nil
	}
}

func (s *Service) saveFailed(learnerID, operation string, err error) error {
	if errors.Is(err, ErrStaleSnapshot) {
		s.metrics.StaleWrite()
		s.metrics.Rejected(operation, reason(err))
		slog.Warn("snapshot save lost version race", "learner_id", learnerID, "operation", operation)
		return err
	}
	slog.Error("saving snapshot failed", "learner_id", learnerID, "operation", operation, "error", err)
	return fmt.Errorf("saving snapshot: %w", err)
}

// record logs, counts and emits a committed outcome.
func (s *Service) record(ctx context.Context, learnerID string, grade curriculum.GradeLevel, subjectID string, out progress.Outcome, p learner.Profile, now time.Time) {
	var events []Event
	for _, award := range out.Awards {
		data := map[string]any{
			"grade":      string(grade),
			"subject_id": subjectID,
			"xp":         award.XP,
		}
		switch award.Kind {
		case progress.AwardStep:
			data["step_id"] = award.ID
			events = append(events, NewEvent(learnerID, EventStepCompleted, data, now))
			s.metrics.StepCompleted(string(grade), subjectID)
		case progress.AwardChapter:
			data["chapter_id"] = award.ID
			events = append(events, NewEvent(learnerID, EventChapterCompleted, data, now))
			s.metrics.ChapterCompleted(string(grade), subjectID)
		}
		s.metrics.XPAwarded(string(award.Kind), award.XP)
	}
	if xp := out.XP(); xp > 0 {
		events = append(events, s.xpEvent(p, xp, now))
	}

	slog.Info("progress recorded",
		"learner_id", learnerID,
		"grade", grade,
		"subject_id", subjectID,
		"step_completed", out.StepCompleted,
		"chapter_completed", out.ChapterCompleted,
		"unlocked_steps", out.UnlockedSteps,
		"unlocked_chapters", out.UnlockedChapters,
		"xp", out.XP(),
	)
	s.emit(ctx, events...)
}

func (s *Service) xpEvent(p learner.Profile, delta int, now time.Time) Event {
	return NewEvent(p.ID, EventXPAwarded, map[string]any{
		"delta":  delta,
		"total":  p.XP,
		"level":  p.Level(),
		"streak": p.Streak,
	}, now)
}

// emit persists and publishes events. Failures are logged only; the snapshot
// is already committed.
func (s *Service) emit(ctx context.Context, events ...Event) {
	for _, e := range events {
		if err := s.events.LogEvent(ctx, e); err != nil {
			slog.Error("failed to log event", "type", e.Type, "learner_id", e.LearnerID, "error", err)
		}
		if err := s.publisher.Publish(ctx, e); err != nil {
			slog.Error("failed to publish event", "type", e.Type, "learner_id", e.LearnerID, "error", err)
		}
	}
}

// view loads the learner's snapshot for reading. Catalog subjects added since
// it was written are grafted in memory only.
func (s *Service) view(ctx context.Context, learnerID string) (*Snapshot, error) {
	snap, err := s.load(ctx, learnerID)
	switch {
	case errors.Is(err, ErrLearnerNotFound):
		return s.fresh(learnerID), nil
	case err != nil:
		return nil, err
	}
	if snap.CatalogDigest != s.catalog.Digest() {
		s.graft(snap.Curriculum)
	}
	return snap, nil
}

func (s *Service) load(ctx context.Context, learnerID string) (*Snapshot, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("learner id is required: %w", ErrLearnerNotFound)
	}
	snap, err := s.store.Load(ctx, learnerID)
	if err != nil && !errors.Is(err, ErrLearnerNotFound) {
		slog.Error("loading snapshot failed", "learner_id", learnerID, "error", err)
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return snap, err
}

// open loads the learner's snapshot for writing, creating it from the catalog
// on first use and grafting in subjects added to the catalog since it was
// written. Callers hold the learner lock.
func (s *Service) open(ctx context.Context, learnerID string) (*Snapshot, error) {
	snap, err := s.load(ctx, learnerID)
	switch {
	case errors.Is(err, ErrLearnerNotFound) && learnerID != "":
		return s.create(ctx, learnerID)
	case err != nil:
		return nil, err
	}

	digest := s.catalog.Digest()
	if snap.CatalogDigest == digest {
		return snap, nil
	}
	added := s.graft(snap.Curriculum)
	snap.CatalogDigest = digest
	if added == 0 {
		// Digest-only changes are written with the next mutation.
		return snap, nil
	}
	snap.UpdatedAt = s.now()
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, s.saveFailed(learnerID, "catalog_upgrade", err)
	}
	slog.Info("catalog subjects added to session", "learner_id", learnerID, "subjects", added)
	return snap, nil
}

// fresh builds the unsaved starting snapshot of a new learner.
func (s *Service) fresh(learnerID string) *Snapshot {
	now := s.now()
	snap := &Snapshot{
		FormatVersion: FormatVersion,
		LearnerID:     learnerID,
		CatalogDigest: s.catalog.Digest(),
		Learner:       learner.New(learnerID, s.defaultGrade, now),
		Curriculum:    curriculum.Tree{},
		UpdatedAt:     now,
	}
	s.graft(snap.Curriculum)
	return snap
}

func (s *Service) create(ctx context.Context, learnerID string) (*Snapshot, error) {
	snap := s.fresh(learnerID)
	now := snap.UpdatedAt

	if err := s.store.Save(ctx, snap); err != nil {
		if errors.Is(err, ErrStaleSnapshot) {
			// Another instance created the learner first.
			return s.store.Load(ctx, learnerID)
		}
		return nil, s.saveFailed(learnerID, "create", err)
	}

	slog.Info("learner session created", "learner_id", learnerID, "grade", s.defaultGrade)
	s.emit(ctx, NewEvent(learnerID, EventSessionStarted, map[string]any{"grade": string(s.defaultGrade)}, now))
	return snap, nil
}

// graft copies catalog subjects missing from tree and seeds them. It returns
// the number of subjects added.
func (s *Service) graft(tree curriculum.Tree) int {
	added := 0
	for grade, subjects := range s.catalog.Tree() {
		for subjectID, modules := range subjects {
			if _, ok := tree.Modules(grade, subjectID); ok {
				continue
			}
			if tree[grade] == nil {
				tree[grade] = make(map[string][]curriculum.Module)
			}
			tree[grade][subjectID] = modules
			if _, err := progress.Seed(tree, grade, subjectID); err != nil {
				slog.Warn("seeding subject failed", "grade", grade, "subject_id", subjectID, "error", err)
			}
			added++
		}
	}
	return added
}

func subjectProgress(tree curriculum.Tree, grade curriculum.GradeLevel, subjectID string) int {
	modules, ok := tree.Modules(grade, subjectID)
	if !ok {
		return 0
	}
	return progress.ProgressPercent(modules)
}

func reason(err error) string {
	switch {
	case errors.Is(err, progress.ErrNotFound):
		return "not_found"
	case errors.Is(err, progress.ErrLocked):
		return "locked"
	case errors.Is(err, progress.ErrChapterIncomplete):
		return "incomplete"
	case errors.Is(err, curriculum.ErrWrongAnswer):
		return "wrong_answer"
	case errors.Is(err, curriculum.ErrInvalidAttempt):
		return "invalid_attempt"
	case errors.Is(err, learner.ErrQuestNotFound):
		return "quest_not_found"
	case errors.Is(err, learner.ErrQuestNotComplete):
		return "quest_not_complete"
	case errors.Is(err, learner.ErrQuestClaimed):
		return "quest_claimed"
	case errors.Is(err, ErrStaleSnapshot):
		return "stale"
	default:
		return "error"
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
