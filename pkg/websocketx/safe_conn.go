package websocketx

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Conn serializes writes on a websocket connection. Reads stay on the embedded Conn and
// must come from a single goroutine.
type Conn struct {
	*websocket.Conn
	writeLock sync.Mutex
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

// WriteMessage 写入失败或底层连接 panic 时都以 error 返回
func (conn *Conn) WriteMessage(msgType int, data []byte) error {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	var err error
	lo.TryCatchWithErrorValue(func() error {
		err = conn.Conn.WriteMessage(msgType, data)
		return nil
	}, func(res any) {
		if e, ok := res.(error); ok {
			err = e
		} else {
			err = fmt.Errorf("websocket write: %v", res)
		}
	})
	return err
}

func (conn *Conn) Ping() error {
	return conn.WriteMessage(websocket.PingMessage, []byte{})
}
