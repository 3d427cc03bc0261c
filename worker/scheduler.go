package worker

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"leadflow/config"
	controller "leadflow/controllers"
	"leadflow/utils"
)

// Scheduler drives the periodic outreach passes. The engines themselves
// never loop or sleep; each cron entry invokes one pass and the passes
// run serially within an entry, so a campaign is only touched by one
// batch at a time.
type Scheduler struct {
	db        *gorm.DB
	logger    *log.Logger
	campaigns *controller.CampaignController
	sequences *controller.SequenceController
	cron      *cron.Cron
}

func NewScheduler(db *gorm.DB, logger *log.Logger, campaigns *controller.CampaignController, sequences *controller.SequenceController) *Scheduler {
	return &Scheduler{
		db:        db,
		logger:    logger,
		campaigns: campaigns,
		sequences: sequences,
		cron:      cron.New(),
	}
}

// Start registers the cron entries and runs until the context is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Println("Starting scheduler worker...")

	if _, err := s.cron.AddFunc(config.AppConfig.CampaignCronSpec, s.processCampaigns); err != nil {
		s.logger.Printf("Failed to schedule campaign pass: %v", err)
	}
	if _, err := s.cron.AddFunc(config.AppConfig.SequenceCronSpec, s.processSequences); err != nil {
		s.logger.Printf("Failed to schedule sequence pass: %v", err)
	}
	if _, err := s.cron.AddFunc(config.AppConfig.RetryCronSpec, s.retryFailedEmails); err != nil {
		s.logger.Printf("Failed to schedule retry pass: %v", err)
	}

	go utils.ResetDailyCounters(s.db, s.logger)

	s.cron.Start()
	<-ctx.Done()

	s.logger.Println("Stopping scheduler worker...")
	<-s.cron.Stop().Done()
}

// processCampaigns starts due scheduled campaigns and pushes one batch
// for every campaign already sending. delay_between_batches is honored
// by the cron cadence, not by sleeping inside a pass.
func (s *Scheduler) processCampaigns() {
	started := s.campaigns.ProcessDueCampaigns()
	advanced := s.campaigns.ProcessSendingCampaigns()
	if started > 0 || advanced > 0 {
		s.logger.Printf("Campaign pass: started=%d advanced=%d", started, advanced)
	}
}

// processSequences advances every enrollment whose step delay elapsed.
func (s *Scheduler) processSequences() {
	advanced := s.sequences.Tick()
	if advanced > 0 {
		s.logger.Printf("Sequence pass: advanced %d enrollments", advanced)
	}
}

// retryFailedEmails resubmits failed rows still under their retry budget.
func (s *Scheduler) retryFailedEmails() {
	s.campaigns.RetryFailedEmails()
}
