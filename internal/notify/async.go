package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Async 在后台发送通知，不阻塞评估流程
type Async struct {
	logger  *zap.Logger
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(logger *zap.Logger, next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{logger: logger, next: next, timeout: timeout}
}

// Notify 立即返回，发送失败只记录日志
func (a *Async) Notify(_ context.Context, event Event) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("发送事件通知时发生panic", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, event); err != nil {
			a.logger.Error("发送事件通知失败", zap.String("status", event.Status), zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待已提交的通知发送完成
func (a *Async) Wait() {
	a.wg.Wait()
}
