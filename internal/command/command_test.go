package command

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"market-stream-client/internal/core/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr bool
	}{
		{name: "订阅", line: "addsub btcusdt@trade", want: Command{Kind: KindAddSub, Topics: []model.Topic{"btcusdt@trade"}}},
		{name: "订阅多个并转小写", line: "  addsub BTCUSDT@trade ethusdt@kline_1m ", want: Command{Kind: KindAddSub, Topics: []model.Topic{"btcusdt@trade", "ethusdt@kline_1m"}}},
		{name: "退订", line: "delsub btcusdt@trade", want: Command{Kind: KindDelSub, Topics: []model.Topic{"btcusdt@trade"}}},
		{name: "本地列表", line: "list", want: Command{Kind: KindList}},
		{name: "服务端列表", line: "LISTSERVER", want: Command{Kind: KindListServer}},
		{name: "帮助", line: "help", want: Command{Kind: KindHelp}},
		{name: "退出", line: "quit", want: Command{Kind: KindQuit}},
		{name: "订阅缺少参数", line: "addsub", wantErr: true},
		{name: "非法流名称", line: "addsub btcusdt", wantErr: true},
		{name: "多余参数", line: "list all", wantErr: true},
		{name: "未知命令", line: "subscribe btcusdt@trade", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) 应返回错误", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.line, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}

	if _, err := Parse("   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("空行 err=%v", err)
	}
	if _, err := Parse("addsub btcusdt"); !errors.Is(err, model.ErrInvalidTopic) {
		t.Fatalf("err=%v, want ErrInvalidTopic", err)
	}
	if _, err := Parse("foo"); err == nil || !strings.Contains(err.Error(), "addsub <topic>") {
		t.Fatalf("未知命令应附带帮助: %v", err)
	}
}

func TestReader_Run(t *testing.T) {
	in := strings.NewReader("addsub btcusdt@trade\n\nbogus\nquit\n")
	ch := NewReader(in).Run(context.Background())

	var got []Input
	timeout := time.After(2 * time.Second)
	for {
		select {
		case input, ok := <-ch:
			if !ok {
				if len(got) != 3 {
					t.Fatalf("got %d inputs, want 3: %+v", len(got), got)
				}
				if got[0].Command.Kind != KindAddSub || got[1].Err == nil || got[2].Command.Kind != KindQuit {
					t.Fatalf("inputs=%+v", got)
				}
				if got[1].Line != "bogus" {
					t.Fatalf("Line=%q", got[1].Line)
				}
				return
			}
			got = append(got, input)
		case <-timeout:
			t.Fatal("读取超时")
		}
	}
}

func TestReader_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewReader(strings.NewReader("list\nlist\n")).Run(ctx)
	cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("取消后通道未关闭")
		}
	}
}
