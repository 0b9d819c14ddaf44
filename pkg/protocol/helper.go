package protocol

import (
	"errors"
	"fmt"
)

var ErrUnexpectedType = errors.New("消息类型不匹配")

// message 所有可编码的消息
type message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

func newPacket(t MessageType, m message) *Packet {
	pkt := &Packet{Type: t}
	if m != nil {
		pkt.Payload = m.Marshal()
	}
	return pkt
}

func parse(pkt *Packet, want MessageType, m message) error {
	if pkt == nil || pkt.Type != want {
		got := MessageTypeUnspecified
		if pkt != nil {
			got = pkt.Type
		}
		return fmt.Errorf("期望 %s, 收到 %s: %w", want, got, ErrUnexpectedType)
	}
	if err := m.Unmarshal(pkt.Payload); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", want, err)
	}
	return nil
}

// ========== 客户端消息构造 ==========

// NewHostRequestPacket 构造创建分配请求
func NewHostRequestPacket(playerName string, maxConnections int32) *Packet {
	return newPacket(MessageTypeHostRequest, &HostRequest{PlayerName: playerName, MaxConnections: maxConnections})
}

// NewJoinRequestPacket 构造加入请求
func NewJoinRequestPacket(playerName, joinCode string) *Packet {
	return newPacket(MessageTypeJoinRequest, &JoinRequest{PlayerName: playerName, JoinCode: joinCode})
}

// NewReconnectRequestPacket 构造重连请求
func NewReconnectRequestPacket(sessionToken string) *Packet {
	return newPacket(MessageTypeReconnectRequest, &ReconnectRequest{SessionToken: sessionToken})
}

// NewStartSessionPacket 构造开始会话请求（仅房主）
func NewStartSessionPacket() *Packet {
	return newPacket(MessageTypeStartSession, nil)
}

// NewLandmarkStatePacket 构造关键点状态上报
func NewLandmarkStatePacket(state *LandmarkState) *Packet {
	if state == nil {
		state = &LandmarkState{}
	}
	return newPacket(MessageTypeLandmarkState, state)
}

// NewPingPacket 构造心跳消息
func NewPingPacket(clientTime int64) *Packet {
	return newPacket(MessageTypePing, &Ping{ClientTime: clientTime})
}

// ========== 服务器消息构造 ==========

// NewJoinResponsePacket 构造加入响应
func NewJoinResponsePacket(resp *JoinResponse) *Packet {
	if resp == nil {
		resp = &JoinResponse{}
	}
	return newPacket(MessageTypeJoinResponse, resp)
}

// NewJoinErrorPacket 构造失败的加入响应
func NewJoinErrorPacket(errorMessage string) *Packet {
	return NewJoinResponsePacket(&JoinResponse{Success: false, ErrorMessage: errorMessage})
}

// NewSessionStartPacket 构造会话开始广播
func NewSessionStartPacket(tick int32, serverTime int64) *Packet {
	return newPacket(MessageTypeSessionStart, &SessionStart{Tick: tick, ServerTime: serverTime})
}

// NewRelaySnapshotPacket 构造状态快照
func NewRelaySnapshotPacket(snapshot *RelaySnapshot) *Packet {
	if snapshot == nil {
		snapshot = &RelaySnapshot{}
	}
	return newPacket(MessageTypeRelaySnapshot, snapshot)
}

// NewPlayerLeavePacket 构造离开广播
func NewPlayerLeavePacket(clientID int32) *Packet {
	return newPacket(MessageTypePlayerLeave, &PlayerLeave{ClientID: clientID})
}

// NewPongPacket 构造心跳响应
func NewPongPacket(clientTime, serverTime int64) *Packet {
	return newPacket(MessageTypePong, &Pong{ClientTime: clientTime, ServerTime: serverTime})
}

// ========== 序列化与反序列化 ==========

// MarshalPacket 将 Packet 编码为字节
func MarshalPacket(pkt *Packet) []byte {
	return pkt.Marshal()
}

// UnmarshalPacket 从字节解析 Packet
func UnmarshalPacket(data []byte) (*Packet, error) {
	pkt := &Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return pkt, nil
}

// ========== 消息解析辅助 ==========

// ParseHostRequest 从 Packet 中解析 HostRequest
func ParseHostRequest(pkt *Packet) (*HostRequest, error) {
	m := &HostRequest{}
	if err := parse(pkt, MessageTypeHostRequest, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseJoinRequest 从 Packet 中解析 JoinRequest
func ParseJoinRequest(pkt *Packet) (*JoinRequest, error) {
	m := &JoinRequest{}
	if err := parse(pkt, MessageTypeJoinRequest, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseJoinResponse 从 Packet 中解析 JoinResponse
func ParseJoinResponse(pkt *Packet) (*JoinResponse, error) {
	m := &JoinResponse{}
	if err := parse(pkt, MessageTypeJoinResponse, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseReconnectRequest 从 Packet 中解析 ReconnectRequest
func ParseReconnectRequest(pkt *Packet) (*ReconnectRequest, error) {
	m := &ReconnectRequest{}
	if err := parse(pkt, MessageTypeReconnectRequest, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseSessionStart 从 Packet 中解析 SessionStart
func ParseSessionStart(pkt *Packet) (*SessionStart, error) {
	m := &SessionStart{}
	if err := parse(pkt, MessageTypeSessionStart, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseLandmarkState 从 Packet 中解析 LandmarkState
func ParseLandmarkState(pkt *Packet) (*LandmarkState, error) {
	m := &LandmarkState{}
	if err := parse(pkt, MessageTypeLandmarkState, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseRelaySnapshot 从 Packet 中解析 RelaySnapshot
func ParseRelaySnapshot(pkt *Packet) (*RelaySnapshot, error) {
	m := &RelaySnapshot{}
	if err := parse(pkt, MessageTypeRelaySnapshot, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParsePlayerLeave 从 Packet 中解析 PlayerLeave
func ParsePlayerLeave(pkt *Packet) (*PlayerLeave, error) {
	m := &PlayerLeave{}
	if err := parse(pkt, MessageTypePlayerLeave, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParsePing 从 Packet 中解析 Ping
func ParsePing(pkt *Packet) (*Ping, error) {
	m := &Ping{}
	if err := parse(pkt, MessageTypePing, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParsePong 从 Packet 中解析 Pong
func ParsePong(pkt *Packet) (*Pong, error) {
	m := &Pong{}
	if err := parse(pkt, MessageTypePong, m); err != nil {
		return nil, err
	}
	return m, nil
}
