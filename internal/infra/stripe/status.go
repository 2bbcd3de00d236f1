package stripe

import "strings"

// NormalizeStatus folds the provider's subscription status vocabulary down
// to the values the frontend displays. The subscriptions table keeps the raw
// provider value; this is for DTOs only.
func NormalizeStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "":
		return "none"
	case "active":
		return "active"
	case "trialing":
		return "trialing"
	case "past_due", "unpaid":
		return "past_due"
	case "canceled", "incomplete_expired":
		return "canceled"
	default:
		return strings.TrimSpace(s)
	}
}
