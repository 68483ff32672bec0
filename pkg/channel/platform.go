// Package channel identifies the messaging platform behind an open-line chat
// and renders replies in the markup that platform understands.
package channel

import "strings"

// Platform is the messaging network a conversation arrives from.
type Platform string

const (
	WhatsApp  Platform = "whatsapp"
	Instagram Platform = "instagram"
	LiveChat  Platform = "livechat"
	Unknown   Platform = "unknown"
)

// Classify maps a Bitrix24 CHAT_ENTITY_ID (for example
// "whatsappbyedna|12|79990000000|34") to a Platform. Only the connector
// segment before the first '|' is inspected.
func Classify(chatEntityID string) Platform {
	connector, _, _ := strings.Cut(chatEntityID, "|")
	connector = strings.ToLower(connector)

	switch {
	case strings.Contains(connector, string(WhatsApp)):
		return WhatsApp
	case strings.Contains(connector, string(Instagram)):
		return Instagram
	case strings.Contains(connector, string(LiveChat)):
		return LiveChat
	default:
		return Unknown
	}
}

// SkipsIdentification reports whether conversations on p start at the main
// menu. WhatsApp already identifies the customer by phone number, so no
// email is requested there.
func (p Platform) SkipsIdentification() bool {
	return p == WhatsApp
}

func (p Platform) String() string {
	return string(p)
}
