package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/ledger"
)

// CleanupService prunes old visibility history on a cron schedule.
type CleanupService struct {
	cron      *cron.Cron
	ledger    *ledger.Ledger
	retention time.Duration
}

// NewCleanupService schedules ledger cleanup. A retention of zero days keeps
// history forever and returns nil.
func NewCleanupService(l *ledger.Ledger, schedule string, retentionDays int, loc *time.Location) (*CleanupService, error) {
	if l == nil || retentionDays <= 0 {
		return nil, nil
	}
	s := &CleanupService{
		cron:      cron.New(cron.WithLocation(loc)),
		ledger:    l,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs one cleanup immediately and starts the schedule.
func (s *CleanupService) Start() {
	s.RunOnce()
	s.cron.Start()
	log.Info().Dur("retention", s.retention).Msg("Ledger cleanup scheduled")
}

// RunOnce deletes entries older than the retention period.
func (s *CleanupService) RunOnce() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Ledger cleanup failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Ledger cleanup completed")
	}
}

// Stop stops the schedule and waits for a running cleanup.
func (s *CleanupService) Stop() {
	<-s.cron.Stop().Done()
}
