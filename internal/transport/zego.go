package transport

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"

	"github.com/aura-webinar/livehost/internal/models"
)

// rtcRoomPayload is the payload for room-based token04 tokens.
type rtcRoomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// Zego issues ZEGOCLOUD token04 room tokens.
type Zego struct {
	appID  uint32
	secret string
}

// NewZego needs the console app id and the 32 character server secret.
func NewZego(appID uint32, serverSecret string) (*Zego, error) {
	if appID == 0 || serverSecret == "" {
		return nil, ErrNotConfigured
	}
	if len(serverSecret) != 32 {
		return nil, fmt.Errorf("zego: server_secret must be 32 characters")
	}
	return &Zego{appID: appID, secret: serverSecret}, nil
}

func (z *Zego) Provider() string { return "zego" }

// Issue grants login, and publish only when g.Publish is set.
func (z *Zego) Issue(g Grant) (models.TransportCredentials, error) {
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if g.Publish {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload, err := json.Marshal(rtcRoomPayload{RoomID: g.Channel, Privilege: privilege})
	if err != nil {
		return models.TransportCredentials{}, fmt.Errorf("zego: marshal payload: %w", err)
	}
	identity := ID(g.UserID)
	token, err := token04.GenerateToken04(z.appID, identity, z.secret, int64(ttl(g).Seconds()), string(payload))
	if err != nil {
		return models.TransportCredentials{}, fmt.Errorf("zego token: %w", err)
	}
	return models.TransportCredentials{AppID: strconv.FormatUint(uint64(z.appID), 10), Token: token, LocalID: identity}, nil
}
