package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"market-stream-client/internal/config"
	"market-stream-client/internal/util/timeutil"
)

// MessageKind 入站消息类型
type MessageKind int

const (
	// MessageText 文本数据帧
	MessageText MessageKind = iota
	// MessageBinary 二进制数据帧
	MessageBinary
	// MessageClosed 服务端关闭连接（终止消息）
	MessageClosed
	// MessageError 读取失败（终止消息）
	MessageError
)

// String 返回消息类型名称
func (k MessageKind) String() string {
	switch k {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClosed:
		return "closed"
	case MessageError:
		return "error"
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// InboundMessage 入站消息
// MessageClosed 与 MessageError 是通道上的最后一条消息
type InboundMessage struct {
	// Kind 消息类型
	Kind MessageKind
	// Data 帧内容
	Data []byte
	// Err 关闭原因或读取错误
	Err error
	// ReceivedAt 接收时间
	ReceivedAt time.Time
}

// pingBuffer ping 负载缓冲；满时由读协程直接回复
const pingBuffer = 16

// Dialer WebSocket 拨号器
type Dialer struct {
	// cfg WebSocket 配置
	cfg *config.WSConfig
	// logger 日志记录器
	logger *zap.Logger
}

// NewDialer 创建拨号器
// 参数 cfg: WebSocket 配置
// 参数 logger: 日志记录器
func NewDialer(cfg *config.WSConfig, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg, logger: logger.Named("transport")}
}

// Dial 建立 WebSocket 连接并启动读协程
// 参数 ctx: 上下文，仅用于取消握手
// 参数 url: 连接地址
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", "market-stream-client/1.0")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeutil.Ms(d.cfg.HandshakeTimeoutMs),
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("连接 WebSocket 失败: %w", err)
	}

	c := newConn(ws, d.cfg, d.logger.With(zap.String("url", url)))
	c.logger.Info("WebSocket 连接成功")
	return c, nil
}

// Conn 单条 WebSocket 连接
// 读协程独占读取；文本写入串行化；控制帧写入可并发
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	closeTimeout time.Duration

	inbound chan InboundMessage
	pings   chan []byte

	// writeMu 文本写入锁（gorilla 不支持并发 WriteMessage）
	writeMu sync.Mutex

	// closing 本端发起关闭后置位，读协程丢弃后续数据帧
	closing    chan struct{}
	closeOnce  sync.Once
	closeErr   error
	readerDone chan struct{}

	framesRead    atomic.Int64
	bytesRead     atomic.Int64
	pingsRead     atomic.Int64
	framesWritten atomic.Int64
	pongsWritten  atomic.Int64
}

func newConn(ws *websocket.Conn, cfg *config.WSConfig, logger *zap.Logger) *Conn {
	buf := cfg.InboundBuffer
	if buf <= 0 {
		buf = 1024
	}
	c := &Conn{
		ws:           ws,
		logger:       logger,
		readTimeout:  timeutil.Ms(cfg.ReadTimeoutMs),
		writeTimeout: timeutil.Ms(cfg.WriteTimeoutMs),
		closeTimeout: timeutil.Ms(cfg.CloseTimeoutMs),
		inbound:      make(chan InboundMessage, buf),
		pings:        make(chan []byte, pingBuffer),
		closing:      make(chan struct{}),
		readerDone:   make(chan struct{}),
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = 5 * time.Second
	}
	if c.closeTimeout <= 0 {
		c.closeTimeout = 3 * time.Second
	}

	c.refreshReadDeadline()
	ws.SetPingHandler(c.handlePing)
	ws.SetPongHandler(func(string) error {
		c.refreshReadDeadline()
		return nil
	})

	go c.readLoop()
	return c
}

// Inbound 入站消息通道，读协程退出时关闭
func (c *Conn) Inbound() <-chan InboundMessage {
	return c.inbound
}

// Pings 服务端 ping 负载通道
func (c *Conn) Pings() <-chan []byte {
	return c.pings
}

// WriteText 发送文本帧
func (c *Conn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送文本帧失败: %w", err)
	}
	c.framesWritten.Add(1)
	return nil
}

// WritePong 发送 pong 控制帧，负载原样回传
func (c *Conn) WritePong(payload []byte) error {
	if err := c.ws.WriteControl(websocket.PongMessage, payload, time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("发送 pong 失败: %w", err)
	}
	c.pongsWritten.Add(1)
	return nil
}

// Close 发送关闭帧并在关闭超时内等待服务端回应，随后释放连接
// 重复调用返回首次关闭的结果
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)

		var errs error
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.closeTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			errs = multierr.Append(errs, fmt.Errorf("发送关闭帧失败: %w", err))
		}

		timer := time.NewTimer(c.closeTimeout)
		select {
		case <-c.readerDone:
		case <-timer.C:
			c.logger.Warn("等待关闭回应超时", zap.Duration("timeout", c.closeTimeout))
		}
		timer.Stop()

		if err := c.ws.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("关闭连接失败: %w", err))
		}
		<-c.readerDone
		c.closeErr = errs
		c.logger.Info("WebSocket 连接已关闭")
	})
	return c.closeErr
}

// Metrics 获取连接指标
func (c *Conn) Metrics() ConnectionMetrics {
	return ConnectionMetrics{
		FramesRead:    c.framesRead.Load(),
		BytesRead:     c.bytesRead.Load(),
		PingsRead:     c.pingsRead.Load(),
		FramesWritten: c.framesWritten.Load(),
		PongsWritten:  c.pongsWritten.Load(),
	}
}

func (c *Conn) readLoop() {
	defer close(c.readerDone)
	defer close(c.inbound)

	for {
		mt, data, err := c.ws.ReadMessage()
		now := time.Now()
		if err != nil {
			if c.isClosing() {
				return
			}
			msg := InboundMessage{Kind: MessageError, Err: err, ReceivedAt: now}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				msg.Kind = MessageClosed
			}
			c.deliver(msg)
			return
		}

		c.refreshReadDeadline()
		c.framesRead.Add(1)
		c.bytesRead.Add(int64(len(data)))

		if c.isClosing() {
			continue
		}

		kind := MessageText
		if mt == websocket.BinaryMessage {
			kind = MessageBinary
		}
		if !c.deliver(InboundMessage{Kind: kind, Data: data, ReceivedAt: now}) {
			return
		}
	}
}

// deliver 投递入站消息；本端关闭时放弃并返回 false
func (c *Conn) deliver(msg InboundMessage) bool {
	select {
	case c.inbound <- msg:
		return true
	case <-c.closing:
		return false
	}
}

// handlePing 在读协程中调用
func (c *Conn) handlePing(appData string) error {
	c.refreshReadDeadline()
	c.pingsRead.Add(1)

	payload := []byte(appData)
	select {
	case c.pings <- payload:
		return nil
	default:
	}

	// 会话未及时处理，直接回复以免服务端断开
	c.logger.Warn("ping 缓冲已满，直接回复 pong")
	err := c.WritePong(payload)
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne interface{ Temporary() bool }
	if errors.As(err, &ne) && ne.Temporary() {
		return nil
	}
	return err
}

func (c *Conn) refreshReadDeadline() {
	if c.readTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
