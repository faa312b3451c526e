package matrix

import "encoding/json"

type loginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

type syncResponse struct {
	NextBatch string    `json:"next_batch"`
	Rooms     syncRooms `json:"rooms"`
}

type syncRooms struct {
	Join   map[string]joinedRoom  `json:"join"`
	Invite map[string]invitedRoom `json:"invite"`
}

type joinedRoom struct {
	Timeline timeline `json:"timeline"`
}

type invitedRoom struct {
	InviteState json.RawMessage `json:"invite_state"`
}

type timeline struct {
	Events []event `json:"events"`
}

type event struct {
	Type    string          `json:"type"`
	Sender  string          `json:"sender"`
	EventID string          `json:"event_id"`
	Content json.RawMessage `json:"content"`
}

const (
	eventTypeMessage = "m.room.message"
	msgTypeText      = "m.text"
	msgTypeNotice    = "m.notice"
	formatHTML       = "org.matrix.custom.html"
)

type messageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

type sendResponse struct {
	EventID string `json:"event_id"`
}

type displayNameResponse struct {
	DisplayName string `json:"displayname"`
}
