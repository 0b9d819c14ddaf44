package server

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// tunedListener 在 Accept 后按协议调整连接参数
type tunedListener struct {
	net.Listener
	tune func(net.Conn)
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.tune(conn)
	return conn, nil
}

// newListener proto 为 tcp 或 kcp
func newListener(proto, addr string) (net.Listener, error) {
	switch proto {
	case "", "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tunedListener{Listener: ln, tune: tuneTCP}, nil
	case "kcp":
		ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return &tunedListener{Listener: ln, tune: func(conn net.Conn) {
			if session, ok := conn.(*kcp.UDPSession); ok {
				ConfigureKCP(session)
			}
		}}, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", proto)
	}
}

// 快照要求低延迟，关闭 Nagle
func tuneTCP(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
}

// ConfigureKCP 两端共用的 KCP 参数：流模式 + 快速重传
func ConfigureKCP(session *kcp.UDPSession) {
	session.SetStreamMode(true)
	session.SetNoDelay(1, 10, 2, 1)
	session.SetWindowSize(256, 256)
}
