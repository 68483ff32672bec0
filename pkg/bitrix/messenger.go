package bitrix

import (
	"context"
	"net/http"
)

// Messenger sends open-line messages as a chat bot. It satisfies
// delivery.Transport.
type Messenger struct {
	client   *Client
	botID    string
	clientID string
}

// NewMessenger creates a messenger for the bot registered as botID.
func NewMessenger(c *Client, botID, clientID string) *Messenger {
	return &Messenger{client: c, botID: botID, clientID: clientID}
}

// SendToDialog posts text into the customer's dialog (imbot.message.add).
func (m *Messenger) SendToDialog(ctx context.Context, dialogID, text string) error {
	_, err := m.client.call(ctx, "imbot.message.add", map[string]string{
		"BOT_ID":    m.botID,
		"CLIENT_ID": m.clientID,
		"DIALOG_ID": dialogID,
		"MESSAGE":   text,
	}, nil)
	return err
}

// TransferToOperator hands the open-line session over to a free operator
// (imopenlines.bot.session.operator).
func (m *Messenger) TransferToOperator(ctx context.Context, chatID string) error {
	var ok bool
	_, err := m.client.call(ctx, "imopenlines.bot.session.operator", map[string]string{
		"BOT_ID":    m.botID,
		"CLIENT_ID": m.clientID,
		"CHAT_ID":   chatID,
	}, &ok)
	if err != nil {
		return err
	}
	if !ok {
		return &APIError{
			Method:     "imopenlines.bot.session.operator",
			StatusCode: http.StatusOK,
			Code:       "TRANSFER_REJECTED",
		}
	}
	return nil
}

// SendToOpenLine posts text on the operator side of the open line
// (imopenlines.bot.message.add). Customers do not see it.
func (m *Messenger) SendToOpenLine(ctx context.Context, chatID, text string) error {
	_, err := m.client.call(ctx, "imopenlines.bot.message.add", map[string]string{
		"BOT_ID":    m.botID,
		"CLIENT_ID": m.clientID,
		"CHAT_ID":   chatID,
		"MESSAGE":   text,
	}, nil)
	return err
}
