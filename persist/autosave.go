package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/taskconfig"
	"github.com/chaos-io/cutout/util"
)

// Source hands out configs that changed since the last save. Both
// taskconfig.Store and batch.Orchestrator implement it.
type Source interface {
	Dirty() map[string]taskconfig.Config
	MarkClean(saved map[string]taskconfig.Config)
}

// Autosaver writes dirty configs to the store on a cron schedule.
type Autosaver struct {
	mu    sync.Mutex
	store *Store
	src   Source
	cron  *cron.Cron
}

// NewAutosaver schedules saves with a cron spec such as "@every 30s".
func NewAutosaver(store *Store, src Source, spec string) (*Autosaver, error) {
	a := &Autosaver{store: store, src: src, cron: cron.New()}
	if _, err := a.cron.AddFunc(spec, a.tick); err != nil {
		return nil, fmt.Errorf("autosave schedule %q: %w", spec, err)
	}
	return a, nil
}

func (a *Autosaver) tick() {
	n, err := a.Save(context.Background())
	if err != nil {
		util.Logger.Error("autosave failed", zap.Error(err))
		return
	}
	if n > 0 {
		util.Logger.Debug("autosaved", zap.Int("configs", n))
	}
}

func (a *Autosaver) Start() {
	a.cron.Start()
}

// Stop ends the schedule, waits for a running save and saves once more.
func (a *Autosaver) Stop(ctx context.Context) error {
	<-a.cron.Stop().Done()
	_, err := a.Save(ctx)
	return err
}

// Save writes the current dirty set and returns how many configs it wrote.
func (a *Autosaver) Save(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dirty := a.src.Dirty()
	if len(dirty) == 0 {
		return 0, nil
	}
	if err := a.store.SaveAll(ctx, dirty); err != nil {
		return 0, err
	}
	a.src.MarkClean(dirty)
	return len(dirty), nil
}
