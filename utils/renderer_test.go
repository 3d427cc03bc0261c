package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestRenderTemplateSubstitutesPlaceholders(t *testing.T) {
	tpl := &models.EmailTemplate{
		Subject:  "Hello {{lead_name}} from {{user_name}}",
		BodyHTML: "<p>Hi {{first_name}}, I saw {{company}} is hiring.</p>",
	}
	lead := &models.Lead{
		FirstName: "Ann",
		LastName:  "Lee",
		Company:   "Acme",
		Email:     "ann@acme.example",
	}
	owner := &models.User{Name: "Bob", Email: "bob@crm.example"}

	out := RenderTemplate(tpl, lead, owner)
	assert.Equal(t, "Hello Ann Lee from Bob", out.Subject)
	assert.Equal(t, "<p>Hi Ann, I saw Acme is hiring.</p>", out.BodyHTML)
}

func TestRenderTemplateBlankFieldIsEmptyString(t *testing.T) {
	tpl := &models.EmailTemplate{
		Subject:  "Hi",
		BodyHTML: "Hi {{first_name}}, from {{company}}",
	}
	lead := &models.Lead{FirstName: "Ann", Company: ""}

	out := RenderTemplate(tpl, lead, &models.User{})
	assert.Equal(t, "Hi Ann, from ", out.BodyHTML)
}

func TestRenderTemplateUnknownPlaceholderLeftVerbatim(t *testing.T) {
	tpl := &models.EmailTemplate{
		Subject:  "Hi {{first_name}}",
		BodyHTML: "Your code is {{discount_code}}",
	}
	lead := &models.Lead{FirstName: "Ann"}

	out := RenderTemplate(tpl, lead, &models.User{})
	assert.Equal(t, "Your code is {{discount_code}}", out.BodyHTML)
}

func TestRenderTemplateDerivesTextBodyFromHTML(t *testing.T) {
	tpl := &models.EmailTemplate{
		Subject:  "Hi",
		BodyHTML: "<p>Hi {{first_name}},</p><p>Welcome aboard.</p>",
	}
	lead := &models.Lead{FirstName: "Ann"}

	out := RenderTemplate(tpl, lead, &models.User{})
	assert.Equal(t, "Hi Ann,\n\nWelcome aboard.", out.BodyText)
}

func TestRenderTemplateKeepsExplicitTextBody(t *testing.T) {
	tpl := &models.EmailTemplate{
		Subject:  "Hi",
		BodyHTML: "<p>rich</p>",
		BodyText: "plain {{first_name}}",
	}
	lead := &models.Lead{FirstName: "Ann"}

	out := RenderTemplate(tpl, lead, &models.User{})
	assert.Equal(t, "plain Ann", out.BodyText)
}

func TestHTMLToText(t *testing.T) {
	html := `<style>p { color: red }</style><div>First line<br>Second line</div>` +
		`<p>A paragraph</p><script>alert("x")</script><b>bold</b>`

	text := HTMLToText(html)
	assert.Equal(t, "First line\nSecond line\nA paragraph\n\nbold", text)
}

func TestValidateTemplateContent(t *testing.T) {
	err := ValidateTemplateContent("Hi {{first_name}}", "<p>Hello {{company}}</p>")
	require.NoError(t, err)

	err = ValidateTemplateContent("Hi {{nickname}}", "<p>Hello</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown template variable: nickname")

	err = ValidateTemplateContent("", "<p>Hello</p>")
	require.Error(t, err)

	err = ValidateTemplateContent("Hi", "")
	require.Error(t, err)
}
