package privacy

import (
	"strconv"
	"strings"

	"autoforwardx/internal/constants"
)

// MaskChatID keeps the sign and the last digits of a chat identifier.
// Example: "-1001234567890" -> "-*********7890", "@mychannel" -> "@*****nnel"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}
	if strings.HasPrefix(chatID, "-") || strings.HasPrefix(chatID, "@") {
		return chatID[:1] + maskString(chatID[1:], constants.DefaultChatIDMaskLength)
	}
	return maskString(chatID, constants.DefaultChatIDMaskLength)
}

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return "+" + maskString(phone[1:], 4)
	}
	return maskString(phone, 4)
}

// MaskCredential hides everything but a short prefix of a session token.
// Example: "123456:ABCdef..." -> "1234…(32)"
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 8 {
		return strings.Repeat("*", len(credential))
	}
	return credential[:4] + "…(" + strconv.Itoa(len(credential)) + ")"
}

// MaskUserID masks a user identifier
func MaskUserID(userID string) string {
	return maskString(userID, 4)
}

func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

var sensitiveKeys = map[string]func(string) string{
	"chat_id":             MaskChatID,
	"source_chat_id":      MaskChatID,
	"destination_chat_id": MaskChatID,
	"phone":               MaskPhoneNumber,
	"credential":          MaskCredential,
	"token":               MaskCredential,
}

// MaskSensitiveFields returns a copy of fields with identifying values masked.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if fn, ok := sensitiveKeys[k]; ok {
			if s, isString := v.(string); isString {
				masked[k] = fn(s)
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
