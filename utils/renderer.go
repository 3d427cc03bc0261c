package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"leadflow/models"
)

// TemplateVariables is the closed set of placeholders templates may use.
// current_time is rendered too but intentionally absent here, it is not
// offered to template authors.
var TemplateVariables = []string{
	"lead_name", "first_name", "last_name", "company", "email",
	"phone", "user_name", "user_email", "current_date",
}

var placeholderRe = regexp.MustCompile(`\{\{[^}]+\}\}`)

// RenderedEmail is the outcome of rendering a template against a lead
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// RenderTemplate substitutes the known placeholders in subject and bodies.
// Blank lead fields substitute as empty strings; placeholders outside the
// known set are left verbatim. When the template has no text body, one is
// derived by stripping the rendered HTML.
func RenderTemplate(tpl *models.EmailTemplate, lead *models.Lead, owner *models.User) RenderedEmail {
	ctx := buildTemplateContext(lead, owner)

	out := RenderedEmail{
		Subject:  substituteVars(tpl.Subject, ctx),
		BodyHTML: substituteVars(tpl.BodyHTML, ctx),
		BodyText: substituteVars(tpl.BodyText, ctx),
	}
	if strings.TrimSpace(out.BodyText) == "" {
		out.BodyText = HTMLToText(out.BodyHTML)
	}
	return out
}

func buildTemplateContext(lead *models.Lead, owner *models.User) map[string]string {
	now := time.Now()
	ctx := map[string]string{
		"current_date": now.Format("January 2, 2006"),
		"current_time": now.Format("15:04"),
	}
	if lead != nil {
		ctx["lead_name"] = lead.FullName()
		ctx["first_name"] = lead.FirstName
		ctx["last_name"] = lead.LastName
		ctx["company"] = lead.Company
		ctx["email"] = lead.Email
		ctx["phone"] = lead.Phone
	}
	if owner != nil {
		ctx["user_name"] = owner.Name
		ctx["user_email"] = owner.Email
	}
	return ctx
}

func substituteVars(s string, ctx map[string]string) string {
	for key, value := range ctx {
		s = strings.ReplaceAll(s, "{{"+key+"}}", value)
	}
	return s
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	brTagRe       = regexp.MustCompile(`(?i)<br\s*/?>`)
	closePRe      = regexp.MustCompile(`(?i)</p>`)
	closeDivRe    = regexp.MustCompile(`(?i)</div>`)
	anyTagRe      = regexp.MustCompile(`<[^>]+>`)
	blankRunRe    = regexp.MustCompile(`\n\s*\n`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText derives a plain-text body from HTML markup
func HTMLToText(html string) string {
	text := scriptBlockRe.ReplaceAllString(html, "")
	text = styleBlockRe.ReplaceAllString(text, "")
	text = brTagRe.ReplaceAllString(text, "\n")
	text = closePRe.ReplaceAllString(text, "\n\n")
	text = closeDivRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ValidateTemplateContent rejects malformed subjects/bodies and any
// placeholder outside the allowed set before a template is saved.
func ValidateTemplateContent(subject, bodyHTML string) error {
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if len(subject) > 300 {
		return fmt.Errorf("subject must be 300 characters or less")
	}
	if strings.TrimSpace(bodyHTML) == "" {
		return fmt.Errorf("email body is required")
	}

	allowed := make(map[string]bool, len(TemplateVariables))
	for _, v := range TemplateVariables {
		allowed[v] = true
	}

	for _, match := range placeholderRe.FindAllString(subject+" "+bodyHTML, -1) {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if !allowed[name] {
			return fmt.Errorf("Unknown template variable: %s", name)
		}
	}
	return nil
}
