package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-stream-client/internal/config"
)

func testWSConfig() *config.WSConfig {
	return &config.WSConfig{
		HandshakeTimeoutMs: 2000,
		ReadTimeoutMs:      5000,
		WriteTimeoutMs:     1000,
		CloseTimeoutMs:     1000,
		InboundBuffer:      16,
	}
}

// newTestServer 启动本地 WebSocket 服务端，返回 ws:// 地址
func newTestServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvInbound(t *testing.T, c *Conn) InboundMessage {
	t.Helper()
	select {
	case msg, ok := <-c.Inbound():
		if !ok {
			t.Fatal("入站通道已关闭")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("等待入站消息超时")
	}
	return InboundMessage{}
}

func TestConn_PingTextAndGracefulClose(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteControl(websocket.PingMessage, []byte("x"), time.Now().Add(time.Second))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteMessage(mt, data)
		}
	})

	c, err := NewDialer(testWSConfig(), zap.NewNop()).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case p := <-c.Pings():
		if string(p) != "x" {
			t.Fatalf("ping payload=%q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("未收到 ping")
	}
	if err := c.WritePong([]byte("x")); err != nil {
		t.Fatalf("WritePong: %v", err)
	}

	msg := recvInbound(t, c)
	if msg.Kind != MessageText || string(msg.Data) != `{"result":null,"id":1}` || msg.ReceivedAt.IsZero() {
		t.Fatalf("msg=%+v", msg)
	}

	if err := c.WriteText([]byte("echo")); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if msg := recvInbound(t, c); string(msg.Data) != "echo" {
		t.Fatalf("echo=%q", msg.Data)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// 幂等
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	m := c.Metrics()
	if m.PingsRead != 1 || m.PongsWritten != 1 || m.FramesWritten != 1 || m.FramesRead < 2 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestConn_ServerClose(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = ws.ReadMessage()
	})

	c, err := NewDialer(testWSConfig(), nil).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	msg := recvInbound(t, c)
	if msg.Kind != MessageClosed || msg.Err == nil {
		t.Fatalf("msg=%+v, want MessageClosed", msg)
	}
	if !websocket.IsCloseError(msg.Err, websocket.CloseGoingAway) {
		t.Fatalf("err=%v", msg.Err)
	}

	select {
	case _, ok := <-c.Inbound():
		if ok {
			t.Fatal("终止消息之后不应再有消息")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("入站通道未关闭")
	}
}

func TestDialer_Failure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewDialer(testWSConfig(), nil).Dial(ctx, "ws://127.0.0.1:1/ws"); err == nil {
		t.Fatal("连接不可达地址应失败")
	}
}
