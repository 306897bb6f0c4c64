package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestProgramStopWaitsForRun(t *testing.T) {
	stopped := make(chan struct{})
	p := &program{
		logger: zap.NewNop(),
		run: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			close(stopped)
			return nil
		},
	}

	assert.NoError(t, p.Start(nil))
	assert.NoError(t, p.Stop(nil))

	select {
	case <-stopped:
	default:
		t.Fatal("Stop 返回时运行逻辑尚未结束")
	}
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "运行中 (Running)", StatusText(service.StatusRunning))
	assert.Equal(t, "已停止 (Stopped)", StatusText(service.StatusStopped))
	assert.Equal(t, "状态: 9", StatusText(service.Status(9)))
}
