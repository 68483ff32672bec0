package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/skyhighdo/skybot/pkg/bitrix"
	"github.com/skyhighdo/skybot/pkg/dialog"
)

var errNoDialogID = errors.New("payload has no DIALOG_ID")

// event is a Bitrix24 bot event as delivered to the handler URL.
type event struct {
	Event string `json:"event"`
	Data  struct {
		Params struct {
			Message      bitrix.FlexString `json:"MESSAGE"`
			DialogID     bitrix.FlexString `json:"DIALOG_ID"`
			ChatID       bitrix.FlexString `json:"CHAT_ID"`
			ChatEntityID bitrix.FlexString `json:"CHAT_ENTITY_ID"`
		} `json:"PARAMS"`
	} `json:"data"`
	Auth struct {
		ApplicationToken string `json:"application_token"`
	} `json:"auth"`
}

func (e *event) inbound() dialog.Inbound {
	p := e.Data.Params
	return dialog.Inbound{
		Text:         string(p.Message),
		DialogID:     string(p.DialogID),
		ChatID:       string(p.ChatID),
		ChatEntityID: string(p.ChatEntityID),
	}
}

// decodeEvent reads a JSON body or Bitrix24's bracketed form encoding
// (data[PARAMS][MESSAGE]=...).
func decodeEvent(r *http.Request) (*event, error) {
	var ev event

	mediatype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediatype == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return &ev, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	f := r.PostForm
	ev.Event = f.Get("event")
	ev.Data.Params.Message = bitrix.FlexString(f.Get("data[PARAMS][MESSAGE]"))
	ev.Data.Params.DialogID = bitrix.FlexString(f.Get("data[PARAMS][DIALOG_ID]"))
	ev.Data.Params.ChatID = bitrix.FlexString(f.Get("data[PARAMS][CHAT_ID]"))
	ev.Data.Params.ChatEntityID = bitrix.FlexString(f.Get("data[PARAMS][CHAT_ENTITY_ID]"))
	ev.Auth.ApplicationToken = f.Get("auth[application_token]")
	return &ev, nil
}
