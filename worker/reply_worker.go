package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// ReplyWorker polls the IMAP inbox of every configuration that has one
// and matches incoming mail against sent emails. A match marks the email
// replied and raises has_replied on the lead's active enrollments, which
// is what the sequence gating conditions read.
type ReplyWorker struct {
	db     *gorm.DB
	logger *log.Logger

	// Minutes between polls
	interval int
}

func NewReplyWorker(db *gorm.DB, logger *log.Logger, intervalMinutes int) *ReplyWorker {
	if intervalMinutes <= 0 {
		intervalMinutes = 5
	}
	return &ReplyWorker{db: db, logger: logger, interval: intervalMinutes}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.logger.Println("Starting reply detection worker...")
	ticker := time.NewTicker(time.Duration(rw.interval) * time.Minute)

	for {
		select {
		case <-ticker.C:
			rw.pollAllInboxes()
		case <-ctx.Done():
			rw.logger.Println("Stopping reply detection worker...")
			ticker.Stop()
			return
		}
	}
}

// pollAllInboxes is best effort per mailbox: one broken configuration
// must not stop the others from being polled.
func (rw *ReplyWorker) pollAllInboxes() {
	var configs []models.EmailConfiguration
	if err := rw.db.Where("is_active = ? AND imap_host <> '' AND imap_username <> ''", true).
		Find(&configs).Error; err != nil {
		rw.logger.Printf("Failed to load IMAP-enabled configurations: %v", err)
		return
	}

	for i := range configs {
		if err := rw.pollInbox(&configs[i]); err != nil {
			rw.logger.Printf("Failed to poll inbox for config %d: %v", configs[i].ID, err)
			continue
		}
	}
}

func (rw *ReplyWorker) pollInbox(cfg *models.EmailConfiguration) error {
	password, err := utils.Decrypt(cfg.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	imapAddr := fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort)
	imapClient, err := client.DialTLS(imapAddr, &tls.Config{
		ServerName: cfg.IMAPHost,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(cfg.IMAPUsername, password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processMessage(msg, cfg); err != nil {
			rw.logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}
	return nil
}

var messageIDRe = regexp.MustCompile(`<[^>]+>`)

// processMessage matches one inbound message to a sent email. The
// References/In-Reply-To headers are authoritative; when they are
// missing, the sender address falls back to the lead's most recently
// contacted email.
func (rw *ReplyWorker) processMessage(msg *imap.Message, cfg *models.EmailConfiguration) error {
	var referencedIDs []string
	if msg.Body != nil {
		section := imap.BodySectionName{}
		if literal, ok := msg.Body[&section]; ok {
			mr, err := mail.CreateReader(literal)
			if err != nil {
				return fmt.Errorf("failed to create message reader: %w", err)
			}
			headers := mr.Header.Get("In-Reply-To") + " " + mr.Header.Get("References")
			referencedIDs = messageIDRe.FindAllString(headers, -1)
		}
	}

	var email models.Email
	matched := false
	if len(referencedIDs) > 0 {
		if err := rw.db.Where("message_id IN ? AND user_id = ?", referencedIDs, cfg.UserID).
			Order("sent_at DESC").First(&email).Error; err == nil {
			matched = true
		}
	}

	if !matched {
		fromAddr := envelopeFrom(msg.Envelope)
		if fromAddr == "" {
			return nil
		}
		err := rw.db.Where("to_email = ? AND user_id = ? AND status IN ? AND sent_at > ?",
			fromAddr, cfg.UserID,
			[]string{models.EmailStatusSent, models.EmailStatusDelivered,
				models.EmailStatusOpened, models.EmailStatusClicked},
			time.Now().AddDate(0, 0, -30)).
			Order("sent_at DESC").First(&email).Error
		if err != nil {
			// Not a reply to anything we sent
			return nil
		}
	}

	rw.recordReply(&email, msg)
	return nil
}

func envelopeFrom(envelope *imap.Envelope) string {
	if envelope == nil || len(envelope.From) == 0 {
		return ""
	}
	addr := envelope.From[0]
	if addr.MailboxName == "" || addr.HostName == "" {
		return ""
	}
	return strings.ToLower(addr.MailboxName + "@" + addr.HostName)
}

// recordReply updates the matched email and everything hanging off it.
// Each write is independent, a failure in one is logged and the rest
// still go through.
func (rw *ReplyWorker) recordReply(email *models.Email, msg *imap.Message) {
	now := time.Now()
	if email.MarkReplied(now) {
		if err := rw.db.Save(email).Error; err != nil {
			rw.logger.Printf("Failed to mark email %d replied: %v", email.ID, err)
		}
	}

	event := models.EmailTrackingEvent{
		EmailID:   email.ID,
		EventType: models.TrackingEventReplied,
	}
	if err := rw.db.Create(&event).Error; err != nil {
		rw.logger.Printf("Failed to record reply event for email %d: %v", email.ID, err)
	}

	if err := rw.db.Model(&models.EmailSequenceEnrollment{}).
		Where("lead_id = ? AND is_active = ?", email.LeadID, true).
		Update("has_replied", true).Error; err != nil {
		rw.logger.Printf("Failed to flag enrollments for lead %d: %v", email.LeadID, err)
	}

	subject := ""
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}
	activity := models.LeadActivity{
		LeadID:       email.LeadID,
		UserID:       email.UserID,
		ActivityType: models.ActivityTypeEmail,
		Subject:      "Reply received: " + subject,
		Description:  "Reply to email sent to " + email.ToEmail,
	}
	if err := rw.db.Create(&activity).Error; err != nil {
		rw.logger.Printf("Failed to record reply activity for lead %d: %v", email.LeadID, err)
	}

	rw.logger.Printf("📩 Reply detected for email %d (lead %d)", email.ID, email.LeadID)
}
