package utils

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
	"github.com/sirupsen/logrus"
)

// VerificationResult is the outcome of probing a lead's email address
type VerificationResult struct {
	Email        string `json:"email"`
	Status       string `json:"status"` // valid, invalid, disposable, catch-all, unknown
	Details      string `json:"details"`
	IsReachable  bool   `json:"is_reachable"`
	IsBounceRisk bool   `json:"is_bounce_risk"`
	WHOIS        string `json:"whois,omitempty"`
}

var (
	verifierLog = logrus.WithField("component", "verifier")

	disposableDomains = loadDisposableDomains()

	freeEmailProviders = []string{
		"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
		"aol.com", "protonmail.com", "icloud.com", "mail.com",
		"yandex.com", "zoho.com", "gmx.com",
	}

	// Common email typos
	commonTypos = map[string]string{
		"gmai.com":   "gmail.com",
		"gmal.com":   "gmail.com",
		"gmail.co":   "gmail.com",
		"yaho.com":   "yahoo.com",
		"hotmai.com": "hotmail.com",
		"outlok.com": "outlook.com",
	}

	// Domain to MX cache
	mxCache = struct {
		sync.RWMutex
		m map[string][]*net.MX
	}{m: make(map[string][]*net.MX)}

	smtpTimeout = 15 * time.Second
)

// VerifyEmailAddress checks syntax, domain health and mailbox
// reachability for a lead's address
func VerifyEmailAddress(email string) (*VerificationResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	result := &VerificationResult{
		Email:        email,
		Status:       "unknown",
		IsReachable:  false,
		IsBounceRisk: true,
	}

	if err := checkmail.ValidateFormat(email); err != nil {
		result.Status = "invalid"
		result.Details = "Invalid email format: " + err.Error()
		return result, nil
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		result.Status = "invalid"
		result.Details = "Invalid email format"
		return result, nil
	}

	localPart, domain := parts[0], parts[1]

	if suggestedDomain, ok := commonTypos[domain]; ok {
		result.Status = "invalid"
		result.Details = fmt.Sprintf("Possible typo, did you mean %s@%s?", localPart, suggestedDomain)
		return result, nil
	}

	if disposableDomains[domain] {
		result.Status = "disposable"
		result.Details = "Disposable email domain"
		return result, nil
	}

	if err := checkmail.ValidateHost(domain); err != nil {
		result.Status = "invalid"
		result.Details = "Domain validation failed: " + err.Error()
		return result, nil
	}

	smtpResult, err := verifySMTP(domain, email)
	if err != nil {
		return result, err
	}

	if whoisInfo, err := whois.Whois(domain); err == nil {
		smtpResult.WHOIS = whoisInfo
	} else {
		verifierLog.WithField("domain", domain).Debugf("whois lookup failed: %v", err)
	}

	return smtpResult, nil
}

func verifySMTP(domain, email string) (*VerificationResult, error) {
	result := &VerificationResult{
		Email:        email,
		Status:       "unknown",
		IsReachable:  false,
		IsBounceRisk: true,
	}

	mxRecords, err := getMXRecords(domain)
	if err != nil || len(mxRecords) == 0 {
		result.Status = "invalid"
		result.Details = "Domain has no MX records"
		return result, nil
	}

	for _, mx := range mxRecords {
		mailServer := strings.TrimSuffix(mx.Host, ".")

		portsToTry := []string{"25", "587", "465"}
		if isFreeEmailProvider(domain) {
			// Free providers mostly reject port 25 probes
			portsToTry = []string{"587", "465", "25"}
		}

		for _, port := range portsToTry {
			addr := fmt.Sprintf("%s:%s", mailServer, port)
			smtpResult, err := checkSMTP(addr, domain, email)
			if err == nil {
				return smtpResult, nil
			}
		}
	}

	result.Details = "All verification attempts failed"
	return result, nil
}

func isFreeEmailProvider(domain string) bool {
	for _, provider := range freeEmailProviders {
		if domain == provider {
			return true
		}
	}
	return false
}

func getMXRecords(domain string) ([]*net.MX, error) {
	mxCache.RLock()
	if records, ok := mxCache.m[domain]; ok {
		mxCache.RUnlock()
		return records, nil
	}
	mxCache.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resolver net.Resolver
	mxRecords, err := resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}

	mxCache.Lock()
	mxCache.m[domain] = mxRecords
	mxCache.Unlock()

	return mxRecords, nil
}

func checkSMTP(addr, domain, email string) (*VerificationResult, error) {
	conn, err := net.DialTimeout("tcp", addr, smtpTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, domain)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	deadline := time.Now().Add(smtpTimeout)
	conn.SetDeadline(deadline)

	if err = client.Hello("verify.leadflow.app"); err != nil {
		return unknownResult(email, "HELO failed: "+err.Error()), nil
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err = client.StartTLS(nil); err != nil {
			return unknownResult(email, "STARTTLS failed: "+err.Error()), nil
		}
	}

	if err = client.Mail("noreply@leadflow.app"); err != nil {
		return unknownResult(email, "MAIL FROM failed: "+err.Error()), nil
	}

	// RCPT TO is the actual reachability test
	err = client.Rcpt(email)
	if err == nil {
		return &VerificationResult{
			Email:        email,
			Status:       "valid",
			Details:      "Recipient accepted",
			IsReachable:  true,
			IsBounceRisk: false,
		}, nil
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "250"):
		// Some servers return 250 even on failure
		return &VerificationResult{
			Email:        email,
			Status:       "catch-all",
			Details:      "Server accepts all emails (catch-all)",
			IsReachable:  true,
			IsBounceRisk: false,
		}, nil
	case strings.Contains(errMsg, "550"):
		return &VerificationResult{
			Email:        email,
			Status:       "invalid",
			Details:      "Mailbox doesn't exist",
			IsReachable:  false,
			IsBounceRisk: true,
		}, nil
	case strings.Contains(errMsg, "421"), strings.Contains(errMsg, "450"), strings.Contains(errMsg, "451"):
		return unknownResult(email, "Temporary failure: "+err.Error()), nil
	default:
		return unknownResult(email, "SMTP error: "+err.Error()), nil
	}
}

func unknownResult(email, details string) *VerificationResult {
	return &VerificationResult{
		Email:        email,
		Status:       "unknown",
		Details:      details,
		IsReachable:  false,
		IsBounceRisk: true,
	}
}

func loadDisposableDomains() map[string]bool {
	domains := make(map[string]bool)
	for _, d := range strings.Split(disposableDomainList, "\n") {
		d = strings.TrimSpace(d)
		if d != "" {
			domains[d] = true
		}
	}
	return domains
}

const disposableDomainList = `
mailinator.com
tempmail.org
10minutemail.com
guerrillamail.com
trashmail.com
temp-mail.org
yopmail.com
maildrop.cc
dispostable.com
fakeinbox.com
throwawaymail.com
mailnesia.com
getairmail.com
mytemp.email
temp-mail.io
fake-mail.com
mail-temp.com
tempail.com
tempomail.fr
tempinbox.com
tempmailaddress.com
mailmetrash.com
trashmail.net
discard.email
mailcatch.com
tempemail.net
mintemail.com
notmailinator.com
spamgourmet.com
spamhole.com
spam.la
spamspot.com
spambox.us
spam4.me
sharklasers.com
guerrillamailblock.com
guerrillamail.net
guerrillamail.org
grr.la
harakirimail.com
jetable.org
kasmail.com
killmail.net
mailexpire.com
mailforspam.com
mailnull.com
meltmail.com
mohmal.com
mytrashmail.com
no-spam.ws
nospamfor.us
nowmymail.com
objectmail.com
oneoffemail.com
pookmail.com
quickinbox.com
rcpt.at
safetymail.info
selfdestructingmail.com
sneakemail.com
sogetthis.com
soodonims.com
spamavert.com
spambog.com
spamcannon.com
spamcero.com
spamcorptastic.com
spamday.com
spamex.com
spamfree24.org
spamherelots.com
spamhereplease.com
spamify.com
spaml.com
spammotel.com
spamobox.com
spamspot.com
spamthis.co.uk
spamthisplease.com
tempalias.com
tempe-mail.com
tempemail.biz
tempinbox.co.uk
tempmail2.com
tempmaildemo.com
tempmailer.com
temporarily.de
temporaryemail.net
temporaryinbox.com
thankyou2010.com
thisisnotmyrealemail.com
throwawayemailaddress.com
tmailinator.com
tradermail.info
trash-mail.at
trash-mail.com
trash-mail.de
trash2009.com
trashdevil.com
trashemail.de
trashymail.com
tyldd.com
wegwerfmail.de
wh4f.org
whyspam.me
willselfdestruct.com
wronghead.com
yopmail.fr
yopmail.net
zippymail.info
zoemail.org
`
