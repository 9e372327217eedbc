package orchestrator

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/store"
)

const (
	minPort = 1024
	maxPort = 65535
)

func validPort(p int) bool {
	return p >= minPort && p <= maxPort
}

// Settings returns the server settings. A port change is reported here
// immediately but only takes effect on the next start.
func (o *Orchestrator) Settings() model.Settings {
	return model.Settings{
		Port:    int(o.port.Load()),
		Host:    o.opts.Host,
		Debug:   o.opts.Debug,
		DataDir: o.opts.DataDir,
	}
}

// UpdatePort validates and persists a new listen port.
func (o *Orchestrator) UpdatePort(ctx context.Context, port int) error {
	if !validPort(port) {
		return model.NewValidationError("port", "Invalid port number")
	}
	if err := o.store.SetSetting(ctx, store.SettingServerPort, strconv.Itoa(port)); err != nil {
		return eris.Wrap(err, "orchestrator: persist port")
	}
	o.port.Store(int64(port))
	zap.L().Info("server port updated, restart to apply", zap.Int("port", port))
	return nil
}

// StartScheduler activates the daily trigger and persists the state. It
// returns false when the scheduler was already running.
func (o *Orchestrator) StartScheduler(ctx context.Context) (bool, error) {
	if o.sched == nil {
		return false, eris.New("orchestrator: no scheduler configured")
	}
	o.schedMu.Lock()
	defer o.schedMu.Unlock()
	started := o.sched.Start()
	if err := o.store.SetSetting(ctx, store.SettingSchedulerActive, "true"); err != nil {
		return started, eris.Wrap(err, "orchestrator: persist scheduler state")
	}
	return started, nil
}

// StopScheduler deactivates the daily trigger and persists the state.
// Stopping a stopped scheduler is not an error.
func (o *Orchestrator) StopScheduler(ctx context.Context) error {
	if o.sched == nil {
		return nil
	}
	o.schedMu.Lock()
	defer o.schedMu.Unlock()
	o.sched.Stop()
	return eris.Wrap(
		o.store.SetSetting(ctx, store.SettingSchedulerActive, "false"),
		"orchestrator: persist scheduler state",
	)
}
