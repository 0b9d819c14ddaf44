package server

import "posesync/pkg/protocol"

type EventKind int

const (
	EventUnknown EventKind = iota
	EventHost
	EventJoin
	EventReconnect
	EventStartSession
	EventLandmarks
	EventPing
	EventPong
)

type HostEvent struct {
	PlayerName     string
	MaxConnections int32 // 0 表示使用服务器默认值
}

type JoinEvent struct {
	PlayerName string
	JoinCode   string
}

type ReconnectEvent struct {
	SessionToken string
}

type LandmarkEvent struct {
	ClientID int32 // 由连接填写，忽略消息中的值
	State    *protocol.LandmarkState
}

type PingEvent struct {
	ClientTime int64
}

type PongEvent struct {
	ClientTime int64
	ServerTime int64
}

type ServerEvent struct {
	Kind      EventKind
	Type      protocol.MessageType
	Host      *HostEvent
	Join      *JoinEvent
	Reconnect *ReconnectEvent
	Landmarks *LandmarkEvent
	Ping      *PingEvent
	Pong      *PongEvent
}
