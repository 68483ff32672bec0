package channel

import "strings"

// Format appends options to base, one per line. WhatsApp and Instagram get
// plain lines; live chat and unknown connectors get [send] buttons.
func Format(base string, options []string, p Platform) string {
	if len(options) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	for _, opt := range options {
		b.WriteByte('\n')
		switch p {
		case WhatsApp, Instagram:
			b.WriteString(opt)
		default:
			b.WriteString("[send]")
			b.WriteString(opt)
			b.WriteString("[/send]")
		}
	}
	return b.String()
}
