// Package command 解析用户在终端输入的文本命令。
//
//	addsub <topic>   订阅
//	delsub <topic>   退订
//	list             查看本地已确认的订阅
//	listserver       查询服务端订阅
//	help             显示帮助
//	quit             退出
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"market-stream-client/internal/core/model"
)

// Kind 命令类型
type Kind int

const (
	// KindAddSub 订阅
	KindAddSub Kind = iota + 1
	// KindDelSub 退订
	KindDelSub
	// KindList 本地订阅列表
	KindList
	// KindListServer 服务端订阅列表
	KindListServer
	// KindHelp 帮助
	KindHelp
	// KindQuit 退出
	KindQuit
)

// String 返回命令关键字
func (k Kind) String() string {
	switch k {
	case KindAddSub:
		return "addsub"
	case KindDelSub:
		return "delsub"
	case KindList:
		return "list"
	case KindListServer:
		return "listserver"
	case KindHelp:
		return "help"
	case KindQuit:
		return "quit"
	}
	return "unknown"
}

// Usage 帮助文本
const Usage = `可用命令:
  addsub <topic>   订阅流，如 addsub btcusdt@trade
  delsub <topic>   退订流
  list             查看本地已确认的订阅
  listserver       查询服务端订阅
  help             显示帮助
  quit             退出`

// ErrEmpty 空行
var ErrEmpty = errors.New("空命令")

// Command 用户命令
type Command struct {
	// Kind 命令类型
	Kind Kind
	// Topics addsub/delsub 的流名称
	Topics []model.Topic
}

// Parse 解析一行输入
// addsub/delsub 支持一次给出多个流名称
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}

	keyword := strings.ToLower(fields[0])
	args := fields[1:]
	switch keyword {
	case "addsub", "delsub":
		if len(args) == 0 {
			return Command{}, fmt.Errorf("%s 需要流名称，如 %s btcusdt@trade", keyword, keyword)
		}
		topics, err := model.ParseTopics(args)
		if err != nil {
			return Command{}, err
		}
		kind := KindAddSub
		if keyword == "delsub" {
			kind = KindDelSub
		}
		return Command{Kind: kind, Topics: topics}, nil
	case "list", "listserver", "help", "quit":
		if len(args) > 0 {
			return Command{}, fmt.Errorf("%s 不接受参数", keyword)
		}
		return Command{Kind: map[string]Kind{
			"list":       KindList,
			"listserver": KindListServer,
			"help":       KindHelp,
			"quit":       KindQuit,
		}[keyword]}, nil
	}
	return Command{}, fmt.Errorf("未知命令 '%s'\n%s", fields[0], Usage)
}

// Input 一行输入的解析结果
type Input struct {
	// Command 解析成功的命令
	Command Command
	// Err 解析错误
	Err error
	// Line 原始输入
	Line string
}

// Reader 从 io.Reader 逐行读取命令
type Reader struct {
	r io.Reader
}

// NewReader 创建命令读取器
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Run 逐行读取并投递到返回的通道，EOF 或上下文取消时关闭通道
// 空行被跳过
func (r *Reader) Run(ctx context.Context) <-chan Input {
	out := make(chan Input)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r.r)
		for scanner.Scan() {
			line := scanner.Text()
			cmd, err := Parse(line)
			if errors.Is(err, ErrEmpty) {
				continue
			}
			select {
			case out <- Input{Command: cmd, Err: err, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
