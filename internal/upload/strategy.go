package upload

import (
	"context"

	"github.com/ashureev/laporan-bot/internal/shared"
)

// StrategyID names an upload strategy.
type StrategyID string

const (
	StrategyDirect        StrategyID = "direct"
	StrategyDelegate      StrategyID = "delegate"
	StrategyStageRelocate StrategyID = "stage_relocate"
	StrategyInMemory      StrategyID = "in_memory"
)

// Shape groups strategies that issue the same kind of storage request.
// A quota refusal for one shape is assumed to apply to every strategy sharing it.
type Shape int

const (
	ShapeDirect Shape = iota
	ShapeStaged
	ShapeInMemory
)

type strategy struct {
	id       StrategyID
	shape    Shape
	eligible func(Config, Payload) bool
	run      func(ctx context.Context, p *Pipeline, req Request) (id string, transferred bool, err error)
}

func defaultTable() []strategy {
	return []strategy{
		{
			id:    StrategyDirect,
			shape: ShapeDirect,
			eligible: func(c Config, _ Payload) bool {
				return c.Owner == ""
			},
			run: func(ctx context.Context, p *Pipeline, req Request) (string, bool, error) {
				id, err := p.uploadFile(ctx, req, req.Name, req.FolderID)
				return id, false, err
			},
		},
		{
			id:    StrategyDelegate,
			shape: ShapeDirect,
			eligible: func(c Config, _ Payload) bool {
				return c.Owner != ""
			},
			run: func(ctx context.Context, p *Pipeline, req Request) (string, bool, error) {
				id, err := p.uploadFile(ctx, req, req.Name, req.FolderID)
				if err != nil {
					return "", false, err
				}
				return id, p.transfer(ctx, id), nil
			},
		},
		{
			id:       StrategyStageRelocate,
			shape:    ShapeStaged,
			eligible: func(Config, Payload) bool { return true },
			run: func(ctx context.Context, p *Pipeline, req Request) (string, bool, error) {
				id, err := p.stageAndRelocate(ctx, req)
				return id, false, err
			},
		},
		{
			id:    StrategyInMemory,
			shape: ShapeInMemory,
			eligible: func(c Config, pl Payload) bool {
				return c.InMemoryMaxBytes > 0 && pl.Size <= c.InMemoryMaxBytes
			},
			run: func(ctx context.Context, p *Pipeline, req Request) (string, bool, error) {
				id, err := p.uploadInMemory(ctx, req)
				return id, false, err
			},
		},
	}
}

// Action is the pipeline's next step after a failed attempt.
type Action int

const (
	ActionNext Action = iota
	ActionRetry
	ActionNextShape
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionNextShape:
		return "next_shape"
	case ActionStop:
		return "stop"
	default:
		return "next"
	}
}

// Decide maps a failure kind to the next step. retried reports whether the
// current strategy has already been repeated once.
func Decide(kind shared.Kind, retried bool) Action {
	switch kind {
	case shared.KindPermission:
		return ActionStop
	case shared.KindTransient:
		if !retried {
			return ActionRetry
		}
		return ActionNextShape
	case shared.KindQuota:
		return ActionNextShape
	default:
		return ActionNext
	}
}
