package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CommandTransport はサブプロセスの stdin/stdout を使用したトランスポート
type CommandTransport struct {
	*StreamTransport
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// StartCommand はプロバイダプロセスを起動し、その標準入出力に接続する
// env は現在の環境変数に追加される。stderr はそのまま親プロセスへ流す
func StartCommand(ctx context.Context, name string, args []string, env map[string]string) (*CommandTransport, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open provider stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open provider stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start provider %q: %w", name, err)
	}

	return &CommandTransport{
		StreamTransport: NewStreamTransport(stdout, stdin),
		cmd:             cmd,
	}, nil
}

// Close は stdin を閉じてプロセスの終了を待つ。5秒以内に終了しなければ kill する
func (t *CommandTransport) Close() error {
	closeErr := t.StreamTransport.Close()

	done := make(chan struct{})
	go func() {
		t.waitOnce.Do(func() { t.waitErr = t.cmd.Wait() })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}
	if closeErr != nil && closeErr != io.ErrClosedPipe {
		return closeErr
	}
	return nil
}
