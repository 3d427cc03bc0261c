package models

import "gorm.io/gorm"

// CreateDefaultTemplates seeds the starter templates for a new user.
// Safe to call again, existing templates with the same name are kept.
func CreateDefaultTemplates(db *gorm.DB, userID uint) error {
	defaults := []EmailTemplate{
		{
			UserID:       userID,
			Name:         "Welcome Email",
			TemplateType: TemplateTypeWelcome,
			Subject:      "Welcome {{first_name}}! Let's get started",
			BodyHTML: `<p>Hi {{first_name}},</p>

<p>Thank you for your interest in our services! I'm {{user_name}} and I'll be your point of contact.</p>

<p>I'd love to learn more about {{company}} and how we can help you achieve your goals.</p>

<p>Would you be available for a quick 15-minute call this week? I have some availability on:</p>
<ul>
    <li>Tomorrow at 2:00 PM</li>
    <li>Wednesday at 10:00 AM</li>
    <li>Thursday at 3:00 PM</li>
</ul>

<p>Looking forward to connecting with you!</p>

<p>Best regards,<br>{{user_name}}<br>{{user_email}}</p>`,
			IsActive: true,
		},
		{
			UserID:       userID,
			Name:         "Follow-up Email",
			TemplateType: TemplateTypeFollowUp,
			Subject:      "Following up on our conversation",
			BodyHTML: `<p>Hi {{first_name}},</p>

<p>I wanted to follow up on our previous conversation about {{company}}'s needs.</p>

<p>Have you had a chance to review the information I sent? I'd be happy to answer any questions you might have.</p>

<p>If you'd like to move forward, we could schedule a more detailed discussion about your requirements.</p>

<p>Please let me know your thoughts!</p>

<p>Best regards,<br>{{user_name}}<br>{{user_email}}</p>`,
			IsActive: true,
		},
	}

	for _, tpl := range defaults {
		var count int64
		if err := db.Model(&EmailTemplate{}).
			Where("user_id = ? AND name = ?", userID, tpl.Name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&tpl).Error; err != nil {
			return err
		}
	}
	return nil
}
