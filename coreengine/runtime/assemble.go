package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/agents"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/contextgate"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/intent"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/memory"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/planner"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/tools"
)

// Deps are the pluggable parts of an assembled pipeline. Nil fields get
// in-process defaults.
type Deps struct {
	Catalog  *intent.Catalog
	Tools    tools.Executor
	Model    llm.ModelClient
	Episodes memory.Store
	Records  satisfaction.Store
	Kernel   *kernel.Kernel
	Bus      commbus.CommBus
}

// Assembly is a wired pipeline plus the parts that need closing.
type Assembly struct {
	Pipeline *Pipeline
	Tracker  *satisfaction.Tracker
	Kernel   *kernel.Kernel
	Bus      commbus.CommBus
	Home     *tools.Home
}

// Assemble wires every pipeline stage from cfg and deps. The kernel's bus
// handlers and the pipeline health probe are registered.
func Assemble(cfg *config.CoreConfig, deps Deps, logger logging.Logger) (*Assembly, error) {
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	a := &Assembly{Kernel: deps.Kernel, Bus: deps.Bus}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = intent.DefaultCatalog()
	}
	te := deps.Tools
	if te == nil {
		registry, home := tools.NewDemoRegistry()
		te, a.Home = registry, home
	}
	episodes := deps.Episodes
	if episodes == nil {
		episodes = memory.NewMemoryStore()
	}
	records := deps.Records
	if records == nil {
		records = satisfaction.NewMemoryStore()
	}
	if a.Kernel == nil {
		a.Kernel = kernel.NewKernel(logger, cfg, kernel.DefaultRateLimitConfig())
	}
	if a.Bus == nil {
		a.Bus = commbus.NewInMemoryCommBus(5*time.Second, logger)
	}
	if err := a.Kernel.RegisterBusHandlers(a.Bus); err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(catalog, deps.Model, cfg,
		intent.WithBus(a.Bus),
		intent.WithLogger(logger),
	)
	a.Tracker = satisfaction.NewTracker(records, cfg, logger)

	p, err := NewPipeline(Components{
		Classifier: classifier,
		Validator:  contextgate.NewValidator(cfg, catalog),
		Retriever:  memory.NewRetriever(episodes, cfg.MemoryTimeout(), logger),
		Planner:    planner.New(catalog, classifier, cfg, logger),
		Executor:   NewDAGExecutor(agents.NewRunner(te, deps.Model, cfg, logger), cfg, logger),
		Kernel:     a.Kernel,
		Tracker:    a.Tracker,
		Bus:        a.Bus,
		Model:      deps.Model,
	}, cfg, logger)
	if err != nil {
		_ = a.Tracker.Close(context.Background())
		return nil, err
	}
	p.RegisterHealth()
	a.Pipeline = p
	return a, nil
}

// Close drains the satisfaction tracker and stops the kernel.
func (a *Assembly) Close(ctx context.Context) error {
	return errors.Join(a.Tracker.Close(ctx), a.Kernel.Shutdown(ctx))
}
