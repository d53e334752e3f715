package flight

import (
	"sync"
	"time"
)

const (
	// DefaultWaiterBuffer 限定单个 waiter 最多积压的分块数，
	// 超出即判定为慢消费者并断开。
	DefaultWaiterBuffer = 32

	// DefaultLeaderDeadline 限定单次回源的最长寿命，到期后 flight 被回收,
	// 避免 registry 中出现永久卡死的条目。
	DefaultLeaderDeadline = 15 * time.Minute
)

// Options 控制注册表的回收期限与 waiter 缓冲。零值字段使用默认值。
type Options struct {
	LeaderDeadline time.Duration
	WaiterBuffer   int
}

// Registry 维护 path → 进行中 flight 的进程级映射。
// 互斥锁只保护 map 的检查与增删，从不跨越网络或磁盘 I/O。
type Registry struct {
	mu      sync.Mutex
	flights map[string]*Flight

	leaderDeadline time.Duration
	waiterBuffer   int
}

// NewRegistry 构造空注册表，整个进程复用一份实例。
func NewRegistry(opts Options) *Registry {
	deadline := opts.LeaderDeadline
	if deadline <= 0 {
		deadline = DefaultLeaderDeadline
	}
	buffer := opts.WaiterBuffer
	if buffer <= 0 {
		buffer = DefaultWaiterBuffer
	}
	return &Registry{
		flights:        make(map[string]*Flight),
		leaderDeadline: deadline,
		waiterBuffer:   buffer,
	}
}

// AttachOrStart 原子地检查并插入：每个路径每轮只会产生一个 leader，
// 其余调用方拿到 waiter。二者恰好一个非 nil。
func (r *Registry) AttachOrStart(path string) (*Leader, *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.flights[path]; ok {
		return nil, existing.attach(r.waiterBuffer)
	}

	f := newFlight(path)
	f.timer = time.AfterFunc(r.leaderDeadline, func() {
		r.finish(f, ErrLeaderAbandoned)
	})
	r.flights[path] = f
	return &Leader{flight: f, registry: r}, nil
}

// InFlight 返回当前进行中的 flight 数，供诊断输出使用。
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flights)
}

// finish 先从 map 摘除条目、再公布终态，保证新请求不可能挂到已收尾的
// flight 上。重复调用只有第一次生效。
func (r *Registry) finish(f *Flight, err error) {
	r.mu.Lock()
	if current, ok := r.flights[f.path]; ok && current == f {
		delete(r.flights, f.path)
	}
	r.mu.Unlock()

	f.resolve(err)
}
