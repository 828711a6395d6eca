package host

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx/fxevent"
)

// FxLogger 把 fx 生命周期事件写入 logrus，成功事件使用 debug 级别。
type FxLogger struct {
	logger *logrus.Logger
}

// NewFxLogger 创建 fxevent.Logger。
func NewFxLogger(logger *logrus.Logger) *FxLogger {
	return &FxLogger{logger: logger}
}

var _ fxevent.Logger = (*FxLogger)(nil)

// LogEvent 实现 fxevent.Logger。
func (l *FxLogger) LogEvent(event fxevent.Event) {
	entry := l.logger.WithField("action", "fx")
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		entry = entry.WithFields(logrus.Fields{"callee": e.FunctionName, "caller": e.CallerName})
		if e.Err != nil {
			entry.WithError(e.Err).Error("OnStart hook failed")
			return
		}
		entry.WithField("runtime", e.Runtime.String()).Debug("OnStart hook executed")
	case *fxevent.OnStopExecuted:
		entry = entry.WithFields(logrus.Fields{"callee": e.FunctionName, "caller": e.CallerName})
		if e.Err != nil {
			entry.WithError(e.Err).Error("OnStop hook failed")
			return
		}
		entry.WithField("runtime", e.Runtime.String()).Debug("OnStop hook executed")
	case *fxevent.Supplied:
		if e.Err != nil {
			entry.WithField("type", e.TypeName).WithError(e.Err).Error("supply failed")
		}
	case *fxevent.Provided:
		if e.Err != nil {
			entry.WithField("constructor", e.ConstructorName).WithError(e.Err).Error("provide failed")
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			entry.WithFields(logrus.Fields{
				"function": e.FunctionName,
				"stack":    e.Trace,
			}).WithError(e.Err).Error("invoke failed")
		}
	case *fxevent.Stopping:
		entry.WithField("signal", fmt.Sprint(e.Signal)).Info("received signal")
	case *fxevent.RollingBack:
		entry.WithError(e.StartErr).Error("start failed, rolling back")
	case *fxevent.RolledBack:
		if e.Err != nil {
			entry.WithError(e.Err).Error("rollback failed")
		}
	case *fxevent.Started:
		if e.Err != nil {
			entry.WithError(e.Err).Error("start failed")
			return
		}
		entry.Debug("started")
	case *fxevent.Stopped:
		if e.Err != nil {
			entry.WithError(e.Err).Error("stop failed")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			entry.WithError(e.Err).Error("custom logger initialization failed")
		}
	}
}
