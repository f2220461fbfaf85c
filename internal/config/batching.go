package config

import (
	"time"

	"wabot/internal/batch"
)

// ToBatch converts the millisecond knobs into the engine's timing policy.
// Zero fields stay zero and are backfilled by the engine's defaults.
func (b BatchingConfig) ToBatch() batch.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return batch.Config{
		TypingTimeout:  ms(b.TypingTimeoutMS),
		MaxWait:        ms(b.MaxWaitMS),
		MinWait:        ms(b.MinWaitMS),
		InitialDelay:   ms(b.InitialDelayMS),
		TypingFallback: ms(b.TypingFallbackMS),
		GraceWindow:    ms(b.GraceWindowMS),

		GroupMinWait:       ms(b.GroupMinWaitMS),
		GroupMaxWait:       ms(b.GroupMaxWaitMS),
		GroupTypingTimeout: ms(b.GroupTypingTimeoutMS),
		MaxBatchSize:       b.MaxBatchSize,

		ProcessingDelay: ms(b.ProcessingDelayMS),
	}
}
