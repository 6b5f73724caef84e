package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("transport closed")

// Transport はツールプロバイダとの双方向メッセージストリームを抽象化するインターフェース
// フレーミングのみを担当し、リクエストとレスポンスの対応付けは rpc.Session が行う
type Transport interface {
	// Send は1フレームを書き込む
	Send(ctx context.Context, payload []byte) error
	// Receive は次の受信フレームを返す。ストリーム終端では io.EOF を返す
	Receive() ([]byte, error)
	// Close はストリームを閉じる
	Close() error
}

// StreamTransport は改行区切りJSONでフレームを送受信する
type StreamTransport struct {
	reader *bufio.Reader
	rc     io.Closer
	w      io.WriteCloser

	writes    chan writeRequest
	closeOnce sync.Once
	closed    chan struct{}
}

// writeRequest は書き込みゴルーチンへ渡す1フレーム
type writeRequest struct {
	frame []byte
	done  chan error
}

// NewStreamTransport は r から読み w へ書く StreamTransport を作成
func NewStreamTransport(r io.Reader, w io.WriteCloser) *StreamTransport {
	t := &StreamTransport{
		reader: bufio.NewReader(r),
		w:      w,
		writes: make(chan writeRequest),
		closed: make(chan struct{}),
	}
	if rc, ok := r.(io.Closer); ok {
		t.rc = rc
	}
	go t.writeLoop()
	return t
}

// writeLoop は書き込みを1本のゴルーチンに直列化する
// w に書くのはこのゴルーチンだけ
func (t *StreamTransport) writeLoop() {
	for {
		select {
		case req := <-t.writes:
			_, err := t.w.Write(req.frame)
			req.done <- err
		case <-t.closed:
			return
		}
	}
}

// Send は payload の後に改行を付けて書き込む
// 相手が読まない間も ctx の期限切れか Close で戻る。キュー投入後に戻った
// フレームはその後も書き込まれうる
func (t *StreamTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, bytes.ReplaceAll(payload, []byte("\n"), nil)...)
	req := writeRequest{frame: append(frame, '\n'), done: make(chan error, 1)}

	select {
	case t.writes <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrClosed
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return ErrClosed
	}
}

// Receive は空行を読み飛ばして次の1行を返す
func (t *StreamTransport) Receive() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			select {
			case <-t.closed:
				return nil, ErrClosed
			default:
			}
			return nil, err
		}
	}
}

// Close は書き込み側と読み込み側の両方を閉じる。複数回呼んでも安全
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.w.Close()
		if t.rc != nil {
			if cerr := t.rc.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Pipe はメモリ上で接続された2つの StreamTransport を返す
// クライアント側とプロバイダ側をプロセス内で繋ぐテスト用途
func Pipe() (client, server *StreamTransport) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	return NewStreamTransport(clientR, clientW), NewStreamTransport(serverR, serverW)
}
