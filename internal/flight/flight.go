package flight

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrLagging 表示 waiter 消费过慢被断开，避免拖垮 leader 的写穿透。
var ErrLagging = errors.New("waiter fell behind leader stream")

// ErrLeaderAbandoned 表示 leader 超过期限仍未收尾，flight 被注册表回收。
var ErrLeaderAbandoned = errors.New("flight leader abandoned")

// ErrCompleted 表示 flight 在进入流式阶段前就成功收尾（例如 leader 发现
// 缓存已被并发提交）；waiter 应改读缓存而不是等待广播。
var ErrCompleted = errors.New("flight completed without streaming")

// Announcement 是 leader 确认上游命中后向 waiter 广播的响应元信息。
// ContentLength 为 -1 表示长度未知。
type Announcement struct {
	ContentType   string
	ContentLength int64
}

// Flight 表示一个路径上进行中的回源。waiters 列表与 resolved 状态由 mu 保护，
// 锁只围绕插入/摘除/关闭操作，绝不跨越任何 I/O。
type Flight struct {
	path    string
	started time.Time

	mu        sync.Mutex
	waiters   []*Waiter
	announced bool
	info      Announcement
	resolved  bool
	err       error

	annCh chan struct{}
	done  chan struct{}
	timer *time.Timer
}

func newFlight(path string) *Flight {
	return &Flight{
		path:    path,
		started: time.Now(),
		annCh:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// attach 在 flight 未进入流式阶段时返回 live waiter；否则返回 deferred waiter，
// 由调用方在 flight 结束后改读缓存，保证不会出现缺前缀的流。
func (f *Flight) attach(buffer int) *Waiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &Waiter{flight: f}
	if !f.announced && !f.resolved {
		w.live = true
		w.ch = make(chan []byte, buffer)
		f.waiters = append(f.waiters, w)
	}
	return w
}

func (f *Flight) announce(info Announcement) {
	f.mu.Lock()
	if f.announced || f.resolved {
		f.mu.Unlock()
		return
	}
	f.announced = true
	f.info = info
	f.mu.Unlock()
	close(f.annCh)
}

// publish 将一个分块复制一次后广播给所有在场 waiter。
// 缓冲已满的 waiter 当场断开，leader 永远不会因为慢消费者阻塞。
func (f *Flight) publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	shared := make([]byte, len(chunk))
	copy(shared, chunk)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.waiters {
		if w.detached {
			continue
		}
		select {
		case w.ch <- shared:
		default:
			w.lagging = true
			w.detachLocked()
		}
	}
}

func (f *Flight) resolve(err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.err = err
	if f.timer != nil {
		f.timer.Stop()
	}
	for _, w := range f.waiters {
		w.detachLocked()
	}
	f.waiters = nil
	announced := f.announced
	f.mu.Unlock()

	if !announced {
		close(f.annCh)
	}
	close(f.done)
}

// outcome 仅在 done 关闭后可读。
func (f *Flight) outcome() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Leader 是驱动回源的一方，持有广播与收尾能力。
type Leader struct {
	flight   *Flight
	registry *Registry
}

// Path 返回当前 flight 对应的规范化路径。
func (l *Leader) Path() string {
	return l.flight.path
}

// Announce 在确认上游命中后广播响应元信息，解除 live waiter 的首块等待。
func (l *Leader) Announce(info Announcement) {
	l.flight.announce(info)
}

// Publish 向所有在场 waiter 广播一个分块。
func (l *Leader) Publish(chunk []byte) {
	l.flight.publish(chunk)
}

// Write 让 Leader 可以作为 io.Writer 挂进 TeeReader 写穿透管道。
// 广播永不报错：慢 waiter 被断开而不是让上游失败。
func (l *Leader) Write(p []byte) (int, error) {
	l.flight.publish(p)
	return len(p), nil
}

// Resolve 公布终态并摘除注册表条目。err 为 nil 表示成功；
// 幂等，deadline 回收和正常收尾只会有一方生效。
func (l *Leader) Resolve(err error) {
	l.registry.finish(l.flight, err)
}

// Waiter 是搭乘 leader 回源的一方。
type Waiter struct {
	flight   *Flight
	live     bool
	ch       chan []byte
	detached bool
	lagging  bool
}

// detachLocked 关闭 waiter 通道，调用方必须持有 flight.mu。
func (w *Waiter) detachLocked() {
	if w.detached {
		return
	}
	w.detached = true
	if w.live {
		close(w.ch)
	}
}

// Live 表示该 waiter 在流式阶段之前就位，可以逐块镜像 leader 的字节流。
// 非 live 的 waiter 应调用 Wait，在 flight 结束后改读缓存。
func (w *Waiter) Live() bool {
	return w.live
}

// Announced 阻塞到 leader 广播元信息或 flight 失败。
func (w *Waiter) Announced(ctx context.Context) (Announcement, error) {
	select {
	case <-ctx.Done():
		return Announcement{}, ctx.Err()
	case <-w.flight.annCh:
	}

	w.flight.mu.Lock()
	defer w.flight.mu.Unlock()
	if w.flight.announced {
		return w.flight.info, nil
	}
	// announce 之前就收尾了：失败透传分类，成功则提示调用方改读缓存。
	if w.flight.err != nil {
		return Announcement{}, w.flight.err
	}
	return Announcement{}, ErrCompleted
}

// Next 返回下一个分块；流正常结束返回 io.EOF，leader 失败时镜像其分类，
// 自身消费过慢则返回 ErrLagging。已缓冲的分块在关闭后仍会先被读完。
func (w *Waiter) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-w.ch:
		if ok {
			return chunk, nil
		}
		if w.lagging {
			return nil, ErrLagging
		}
		if err := w.flight.outcome(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

// Wait 阻塞到 flight 终态，返回 leader 的错误分类（成功为 nil）。
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.flight.done:
		return w.flight.outcome()
	}
}

// Detach 表示 waiter 的客户端已离开；对 leader 与其他 waiter 无影响。
func (w *Waiter) Detach() {
	f := w.flight
	f.mu.Lock()
	defer f.mu.Unlock()
	w.detachLocked()
}
