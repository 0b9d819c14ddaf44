package server

// Session 分配循环看到的客户端连接
type Session interface {
	ClientID() int32
	SetClientID(id int32)
	Send(data []byte) error
	Close()
	CloseWithoutNotify()
}
