package protocol

// Catalog 汇总全部线上消息结构，供 cmd/schema 反射生成 JSON Schema
type Catalog struct {
	CreateRoom        CreateRoom        `json:"createRoom" jsonschema:"description=Create a room and join it as host"`
	JoinRoom          JoinRoom          `json:"joinRoom" jsonschema:"description=Join an existing room with a matching game version"`
	RPC               RPCAction         `json:"rpc" jsonschema:"description=Opaque RPC envelope relayed to the room"`
	GetRoomList       GetRoomList       `json:"getroomlist"`
	GetCurrentPlayers GetCurrentPlayers `json:"getcurrentplayers"`
	Leave             Leave             `json:"leave"`

	RPCs struct {
		ChatMessage   ChatMessage   `json:"chatmessage"`
		PlayerInfo    PlayerInfo    `json:"playerinfo"`
		SetPlayerName SetPlayerName `json:"setplayername"`
		SyncTransform SyncTransform `json:"SyncTransform"`
		SyncInfo      SyncInfo      `json:"syncinfo"`
		Customization Customization `json:"customization"`
		Cheats        Cheats        `json:"cheats"`
		SwitchWeapon  SwitchWeapon  `json:"switchweapon"`
		PlayerSpawn   PlayerSpawn   `json:"playerspawn"`
		PlayerJoined  PlayerJoined  `json:"playerjoined"`
		NewHost       NewHost       `json:"newhost"`
	} `json:"rpcs" jsonschema:"description=Payloads carried inside the rpc field"`

	Outbound struct {
		RoomInfo      RoomInfo      `json:"roominfo"`
		RoomListEntry RoomListEntry `json:"roomlist_roominfo"`
		Error         ErrorNotice   `json:"error"`
		Kick          KickNotice    `json:"kick"`
	} `json:"outbound" jsonschema:"description=Server to client messages"`
}
