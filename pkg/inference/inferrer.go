package inference

import (
	"context"
	"fmt"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/metrics"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/l3aro/go-cfg-engine/pkg/irg"
)

// Level selects the inference strategy.
type Level int

const (
	LevelConservative    Level = 1
	LevelFlowSensitive   Level = 2
	LevelFlowInsensitive Level = 3
	// LevelCombined runs the flow-sensitive strategy, then the
	// interprocedural one on the sites it left imprecise.
	LevelCombined Level = 4
)

// DefaultLevel is the level used when none is configured.
const DefaultLevel = LevelFlowSensitive

var levelNames = map[Level]string{
	LevelConservative:    "conservative",
	LevelFlowSensitive:   "flow-sensitive",
	LevelFlowInsensitive: "flow-insensitive",
	LevelCombined:        "combined",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses a level name as printed by String.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("invalid type inference level %q", s)
}

// Interprocedural reports whether the level needs the program's class list
// and relationship graph.
func (l Level) Interprocedural() bool {
	return l == LevelFlowInsensitive || l == LevelCombined
}

// InferrerOptions configures an Inferrer.
type InferrerOptions struct {
	Level Level
	// Classes lists the program classes. Required by the interprocedural
	// levels.
	Classes []string
	// IRG records the relationships of Classes. Built from the hierarchy's
	// loader when nil.
	IRG *irg.IRG
	// Graphs supplies callee graphs to the interprocedural levels.
	Graphs GraphSource
	// BindingCacheBytes bounds the remembered call resolutions of the
	// interprocedural levels; 0 selects DefaultBindingCacheBytes.
	BindingCacheBytes int64
	Logger            log.Logger
}

// Inferrer runs the strategies of one level over the exception sites of
// methods. It is not safe for concurrent use.
type Inferrer struct {
	level  Level
	intra  Strategy
	inter  Strategy
	logger log.Logger

	imprecise int
}

// NewInferrer returns an inferrer for opts.Level.
func NewInferrer(h *Hierarchy, opts InferrerOptions) (*Inferrer, error) {
	level := opts.Level
	if level == 0 {
		level = DefaultLevel
	}
	in := &Inferrer{level: level, logger: log.OrDefault(opts.Logger)}

	if level.Interprocedural() {
		if len(opts.Classes) == 0 {
			return nil, fmt.Errorf("%s inference requires the program class list", level)
		}
		if opts.Graphs == nil {
			return nil, fmt.Errorf("%s inference requires a graph source", level)
		}
		rel := opts.IRG
		if rel == nil {
			var err error
			rel, err = irg.New(h.Loader(), opts.Classes)
			if err != nil {
				return nil, err
			}
		}
		in.inter = NewInterprocedural(h, rel, opts.Classes, opts.Graphs, opts.BindingCacheBytes, in.logger)
	}

	switch level {
	case LevelConservative:
		in.intra = NewConservative(h, in.logger)
	case LevelFlowSensitive, LevelCombined:
		in.intra = NewFlowSensitive(h, in.logger)
	case LevelFlowInsensitive:
	default:
		return nil, fmt.Errorf("invalid type inference level %d", int(level))
	}
	return in, nil
}

// Level returns the inferrer's level.
func (in *Inferrer) Level() Level { return in.level }

// ImpreciseCount returns the number of imprecise intraprocedural results
// seen so far.
func (in *Inferrer) ImpreciseCount() int { return in.imprecise }

// Infer infers the exceptional edges leaving sites, the blocks of g ending
// in athrow or a call.
func (in *Inferrer) Infer(ctx context.Context, m *bytecode.Method, g *cfg.Graph, sites []*cfg.Block) (*Results, error) {
	res := NewResults()
	if in.intra != nil {
		if err := in.intra.Infer(ctx, m, g, sites, res); err != nil {
			return nil, err
		}
		imprecise := res.Imprecise(sites)
		in.imprecise += len(imprecise)
		metrics.RecordImprecise(in.level.String(), len(imprecise))
		if in.inter == nil {
			return res, nil
		}
		for _, b := range imprecise {
			delete(res.Edges, b.ID)
		}
		sites = imprecise
	}
	if err := in.inter.Infer(ctx, m, g, sites, res); err != nil {
		return nil, err
	}
	return res, nil
}
