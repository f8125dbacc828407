package collectors

import "strings"

var junkSenders = []string{
	"noreply", "no-reply", "newsletter", "marketing", "promo",
	"notifications", "updates", "info@", "hello@", "support@",
}

var junkSubjects = []string{
	"% off", "save $", "sale", "discount", "limited time",
	"act now", "free", "unsubscribe", "weekly digest",
}

// IsJunk classifies bulk and promotional mail by substring match on the
// sender address and subject.
func IsJunk(senderEmail, subject string) bool {
	sender := strings.ToLower(senderEmail)
	for _, p := range junkSenders {
		if strings.Contains(sender, p) {
			return true
		}
	}
	subj := strings.ToLower(subject)
	for _, p := range junkSubjects {
		if strings.Contains(subj, p) {
			return true
		}
	}
	return false
}
