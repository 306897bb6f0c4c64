package kpierr

import (
	"context"
	"errors"
	"net"
	"strings"

	goerrors "github.com/go-errors/errors"
	"gorm.io/gorm"
)

var (
	ErrProbeTimeout        = goerrors.Errorf("probe timeout")
	ErrProbeTransport      = goerrors.Errorf("probe transport error")
	ErrTargetParse         = goerrors.Errorf("target parse error")
	ErrStoreWriteConflict  = goerrors.Errorf("store write conflict")
	ErrStoreUnavailable    = goerrors.Errorf("store unavailable")
	ErrUnknownProbeKind    = goerrors.Errorf("unknown probe kind")
	ErrIndicatorNotFound   = goerrors.Errorf("indicator not found")
	ErrAssetNotFound       = goerrors.Errorf("asset not found")
	ErrCycleAlreadyRunning = goerrors.Errorf("cycle already running")
)

// kindError 带分类的错误，同时保留原始错误的调用栈
type kindError struct {
	kind error
	err  *goerrors.Error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.err, e.kind}
}

// Wrap 给错误打上分类标签，已经带有同类标签时原样返回
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &kindError{kind: kind, err: goerrors.Wrap(err, 1)}
}

// Stack 输出错误的调用栈，用于 debug 日志
func Stack(err error) string {
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge.ErrorStack()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Probe 探测失败归类为超时或传输错误
func Probe(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProbeTimeout) || errors.Is(err, ErrProbeTransport) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrProbeTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(ErrProbeTimeout, err)
	}
	return Wrap(ErrProbeTransport, err)
}

// Store 存储层错误归类：唯一键冲突为 StoreWriteConflict，其余视为 StoreUnavailable
func Store(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreWriteConflict) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if IsDuplicate(err) {
		return Wrap(ErrStoreWriteConflict, err)
	}
	return Wrap(ErrStoreUnavailable, err)
}

// IsDuplicate 是否为唯一键冲突，兼容未开启 TranslateError 的驱动
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
