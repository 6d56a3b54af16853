package sms

import "strings"

// RedactPhone masks all but the last three digits: "+15551234567" becomes
// "+********567".
func RedactPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	prefix := ""
	if strings.HasPrefix(phone, "+") {
		prefix, phone = "+", phone[1:]
	}
	if len(phone) <= 3 {
		return prefix + strings.Repeat("*", len(phone))
	}
	return prefix + strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}
