package upstream

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示当前端点没有该构件；调用方应换下一个端点继续。
var ErrNotFound = errors.New("artifact not found upstream")

// TransientError 表示网络故障、超时或 5xx 一类可换端点重试的失败。
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure at %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError 表示协议层面的失败（非法响应、意外状态码），按 FailFast
// 策略可中止整条回退链，或降级为 transient 继续。
type FatalError struct {
	Endpoint string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal upstream failure at %s: %v", e.Endpoint, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func newTransient(endpoint string, err error) error {
	return &TransientError{Endpoint: endpoint, Err: err}
}

func newFatal(endpoint string, err error) error {
	return &FatalError{Endpoint: endpoint, Err: err}
}
