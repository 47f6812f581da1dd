package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RegisterLifecycle),
)

func RegisterLifecycle(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if cfg.RunOnStartup {
				// catch up on windows missed while the service was down
				go func() {
					_ = sched.RunOnce(ctx)
				}()
			}
			return sched.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			sched.Stop()
			return nil
		},
	})
}
