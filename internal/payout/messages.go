package payout

import "errors"

var userMessages = map[string]string{
	"account_closed":          "The connected payout account is closed.",
	"account_restricted":      "The connected payout account is restricted. Ask the affiliate to review it.",
	"invalid_account":         "The connected payout account is invalid.",
	"insufficient_funds":      "The platform payout balance is insufficient. Try again later.",
	"amount_too_small":        "The amount is below the provider's minimum payout.",
	"currency_not_supported":  "The payout currency is not supported for this account.",
	"rate_limited":            "The payout provider is busy. Try again in a few minutes.",
	"payouts_not_allowed":     "Payouts are not enabled for this account.",
	"authentication_required": "The payout provider rejected the platform credentials.",
}

const (
	defaultMessage        = "The payout could not be processed. Try again later."
	outcomeUnknownMessage = "The payout provider did not confirm the payout. Check the provider dashboard before retrying."
	notConfiguredMessage  = "External payouts are not configured."
)

// UserMessage maps a provider failure to a fixed, user-safe message.
func UserMessage(err error) string {
	if errors.Is(err, ErrOutcomeUnknown) {
		return outcomeUnknownMessage
	}
	if errors.Is(err, ErrNotConfigured) {
		return notConfiguredMessage
	}

	var pErr *Error
	if errors.As(err, &pErr) {
		if msg, ok := userMessages[pErr.Code]; ok {
			return msg
		}
	}
	return defaultMessage
}
