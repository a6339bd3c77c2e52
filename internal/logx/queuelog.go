package logx

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// QueueLogger routes asynq's internal logging into zerolog (satisfies asynq.Logger).
type QueueLogger struct {
	logger zerolog.Logger
}

func NewQueueLogger(fields map[string]string) *QueueLogger {
	w := log.Logger.With()
	for k, v := range fields {
		w = w.Str(k, v)
	}
	return &QueueLogger{logger: w.Logger()}
}

func (q *QueueLogger) Debug(args ...interface{}) { q.logger.Debug().Msg(fmt.Sprint(args...)) }
func (q *QueueLogger) Info(args ...interface{})  { q.logger.Info().Msg(fmt.Sprint(args...)) }
func (q *QueueLogger) Warn(args ...interface{})  { q.logger.Warn().Msg(fmt.Sprint(args...)) }
func (q *QueueLogger) Error(args ...interface{}) { q.logger.Error().Msg(fmt.Sprint(args...)) }
func (q *QueueLogger) Fatal(args ...interface{}) { q.logger.Fatal().Msg(fmt.Sprint(args...)) }
