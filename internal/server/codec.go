package server

import (
	"fmt"

	"posesync/pkg/protocol"
)

// DecodePacket 解析服务器收到的数据包
func DecodePacket(data []byte) (*ServerEvent, error) {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return nil, fmt.Errorf("解析包失败: %w", err)
	}

	switch pkt.Type {
	case protocol.MessageTypeHostRequest:
		req, err := protocol.ParseHostRequest(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventHost,
			Type: pkt.Type,
			Host: &HostEvent{PlayerName: req.PlayerName, MaxConnections: req.MaxConnections},
		}, nil

	case protocol.MessageTypeJoinRequest:
		req, err := protocol.ParseJoinRequest(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventJoin,
			Type: pkt.Type,
			Join: &JoinEvent{PlayerName: req.PlayerName, JoinCode: req.JoinCode},
		}, nil

	case protocol.MessageTypeReconnectRequest:
		req, err := protocol.ParseReconnectRequest(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind:      EventReconnect,
			Type:      pkt.Type,
			Reconnect: &ReconnectEvent{SessionToken: req.SessionToken},
		}, nil

	case protocol.MessageTypeStartSession:
		return &ServerEvent{Kind: EventStartSession, Type: pkt.Type}, nil

	case protocol.MessageTypeLandmarkState:
		state, err := protocol.ParseLandmarkState(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind:      EventLandmarks,
			Type:      pkt.Type,
			Landmarks: &LandmarkEvent{State: state},
		}, nil

	case protocol.MessageTypePing:
		ping, err := protocol.ParsePing(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventPing,
			Type: pkt.Type,
			Ping: &PingEvent{ClientTime: ping.ClientTime},
		}, nil

	case protocol.MessageTypePong:
		pong, err := protocol.ParsePong(pkt)
		if err != nil {
			return nil, err
		}
		return &ServerEvent{
			Kind: EventPong,
			Type: pkt.Type,
			Pong: &PongEvent{ClientTime: pong.ClientTime, ServerTime: pong.ServerTime},
		}, nil

	default:
		return &ServerEvent{Kind: EventUnknown, Type: pkt.Type}, nil
	}
}
