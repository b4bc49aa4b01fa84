package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nodeship/api/logging"
	"nodeship/api/model"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// HeadFunc resolves the current commit of a branch.
type HeadFunc func(ctx context.Context, repository, branch string) (string, error)

// TriggerFunc starts a release for t.
type TriggerFunc func(ctx context.Context, t model.Trigger)

// Scheduler triggers releases of the release branch on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	repository string
	cloneURL   string
	branch     string
	head       HeadFunc
	trigger    TriggerFunc
	log        *zap.Logger

	// SkipUnchanged skips a tick when the branch head was already released
	// by this scheduler.
	SkipUnchanged bool

	mu       sync.Mutex
	schedule string
	entry    cron.EntryID
	paused   bool
	lastSHA  string
}

func New(repository, cloneURL, branch string, head HeadFunc, trigger TriggerFunc, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithParser(parser)),
		repository: repository,
		cloneURL:   cloneURL,
		branch:     branch,
		head:       head,
		trigger:    trigger,
		log:        logging.OrNop(log),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron scheduler started", zap.String("schedule", s.Schedule()))
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("cron scheduler stopped")
}

// UpdateSchedule validates and installs a new expression.
func (s *Scheduler) UpdateSchedule(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
	return s.install()
}

func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.remove()
	s.log.Info("cron paused")
}

func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == "" {
		return fmt.Errorf("no schedule set")
	}
	s.paused = false
	return s.install()
}

func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Next returns the next scheduled fire time, or zero when none is installed.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next()
}

func (s *Scheduler) next() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	e := s.cron.Entry(s.entry)
	if e.Next.IsZero() && e.Schedule != nil {
		// not started yet
		return e.Schedule.Next(time.Now())
	}
	return e.Next
}

// TriggerNow fires once outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.fire(ctx)
}

func (s *Scheduler) install() error {
	s.remove()
	if s.paused {
		return nil
	}
	id, err := s.cron.AddFunc(s.schedule, func() { s.fire(context.Background()) })
	if err != nil {
		return err
	}
	s.entry = id
	s.log.Info("cron scheduled", zap.String("schedule", s.schedule), zap.Time("next", s.next()))
	return nil
}

func (s *Scheduler) remove() {
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	t := model.Trigger{
		Event:      model.EventSchedule,
		Ref:        "refs/heads/" + s.branch,
		Actor:      "nodeship-cron",
		Repository: s.repository,
		CloneURL:   s.cloneURL,
	}
	if s.head != nil {
		sha, err := s.head(ctx, s.repository, s.branch)
		if err != nil {
			s.log.Warn("cron head lookup failed", zap.String("branch", s.branch), zap.Error(err))
			return
		}
		t.SHA = sha
	}

	s.mu.Lock()
	if s.SkipUnchanged && t.SHA != "" && t.SHA == s.lastSHA {
		s.mu.Unlock()
		s.log.Info("cron skipped, head unchanged", zap.String("sha", t.SHA))
		return
	}
	s.lastSHA = t.SHA
	s.mu.Unlock()

	s.log.Info("cron triggering release", zap.String("ref", t.Ref), zap.String("sha", t.SHA))
	s.trigger(ctx, t)
}
