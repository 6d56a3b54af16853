package sms

import "strings"

// Encoding names the character set an SMS is sent in.
const (
	EncodingGSM7 = "GSM-7"
	EncodingUCS2 = "UCS-2"
)

const gsm7Basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// gsm7Extended characters cost two septets (escape + char).
const gsm7Extended = "^{}\\[~]|€\f"

// Segments reports how many SMS parts text needs and its encoding. A single
// GSM-7 part holds 160 septets (153 when concatenated); UCS-2 holds 70
// characters (67 when concatenated).
func Segments(text string) (int, string) {
	if text == "" {
		return 0, EncodingGSM7
	}

	septets := 0
	for _, r := range text {
		switch {
		case strings.ContainsRune(gsm7Basic, r):
			septets++
		case strings.ContainsRune(gsm7Extended, r):
			septets += 2
		default:
			return parts(utf16Units(text), 70, 67), EncodingUCS2
		}
	}
	return parts(septets, 160, 153), EncodingGSM7
}

func parts(units, single, multi int) int {
	if units <= single {
		return 1
	}
	return (units + multi - 1) / multi
}

// utf16Units counts UTF-16 code units; characters outside the BMP take two.
func utf16Units(text string) int {
	n := 0
	for _, r := range text {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Truncate shortens text to at most limit characters, ending with an ellipsis
// when anything was cut.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return text
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return strings.TrimRight(string(r[:limit-3]), " ") + "..."
}
