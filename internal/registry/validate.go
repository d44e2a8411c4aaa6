package registry

import (
	"regexp"
	"strconv"
	"strings"

	"autoforwardx/internal/constants"
	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/models"
)

// validateSpec rejects malformed specs before any lookup or policy check.
func validateSpec(spec models.PairSpec) error {
	if strings.TrimSpace(spec.SourceAccountID) == "" {
		return apperrors.NewValidationError("source_account_id", "", "is required")
	}
	if strings.TrimSpace(spec.DestAccountID) == "" {
		return apperrors.NewValidationError("destination_account_id", "", "is required")
	}
	return validateConfig(spec.SourceAccountID, spec.SourceChatID, spec.DestAccountID, spec.DestChatID,
		spec.Delay, spec.Edit, spec.Filters)
}

func validatePair(pair models.ForwardingPair) error {
	return validateConfig(pair.SourceAccountID, pair.SourceChatID, pair.DestAccountID, pair.DestChatID,
		pair.Delay, pair.Edit, pair.Filters)
}

func validateConfig(srcAccount, srcChat, dstAccount, dstChat string, delay models.DelayPolicy, edit models.EditConfig, filters models.FilterConfig) error {
	if err := validateChatID("source_chat_id", srcChat); err != nil {
		return err
	}
	if err := validateChatID("destination_chat_id", dstChat); err != nil {
		return err
	}
	if srcAccount == dstAccount && srcChat == dstChat {
		return apperrors.NewValidationError("destination_chat_id", dstChat, "source and destination must differ")
	}

	switch delay.Mode {
	case "", models.DelayRealtime:
		if delay.Seconds != 0 {
			return apperrors.NewValidationError("delay.seconds", strconv.Itoa(delay.Seconds), "must be 0 for realtime delivery")
		}
	case models.DelayFixed, models.DelayCustom:
		if delay.Seconds <= 0 || delay.Seconds > constants.MaxDelaySeconds {
			return apperrors.NewValidationError("delay.seconds", strconv.Itoa(delay.Seconds),
				"must be between 1 and "+strconv.Itoa(constants.MaxDelaySeconds))
		}
	default:
		return apperrors.NewValidationError("delay.mode", string(delay.Mode), "must be realtime, fixed or custom")
	}

	if len(edit.Header) > constants.MaxEditLineLength {
		return apperrors.NewValidationError("edit.header", "", "is too long")
	}
	if len(edit.Footer) > constants.MaxEditLineLength {
		return apperrors.NewValidationError("edit.footer", "", "is too long")
	}

	if err := validateKeywords("filters.blocked_text", filters.BlockedText); err != nil {
		return err
	}
	if err := validateKeywords("filters.required_text", filters.RequiredText); err != nil {
		return err
	}
	if len(filters.Replacements) > constants.MaxFilterEntries {
		return apperrors.NewValidationError("filters.replacements", "", "has too many entries")
	}
	for i, rule := range filters.Replacements {
		field := "filters.replacements[" + strconv.Itoa(i) + "]"
		if rule.Search == "" {
			return apperrors.NewValidationError(field+".search", "", "is required")
		}
		if rule.Regex {
			if _, err := regexp.Compile(rule.Search); err != nil {
				return apperrors.NewValidationError(field+".search", rule.Search, "is not a valid regular expression")
			}
		}
	}
	return nil
}

func validateChatID(field, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return apperrors.NewValidationError(field, "", "is required")
	}
	if len(chatID) > constants.MaxChatIDLength {
		return apperrors.NewValidationError(field, "", "is too long")
	}
	return nil
}

func validateKeywords(field string, keywords []string) error {
	if len(keywords) > constants.MaxFilterEntries {
		return apperrors.NewValidationError(field, "", "has too many entries")
	}
	for _, keyword := range keywords {
		if strings.TrimSpace(keyword) == "" {
			return apperrors.NewValidationError(field, "", "must not contain empty keywords")
		}
	}
	return nil
}
