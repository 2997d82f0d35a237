package knowledge

import "context"

// Stage 类型化的流水线阶段
type Stage[I, O any] interface {
	Invoke(ctx context.Context, in I) (O, error)
}

// StageFunc 函数适配为 Stage
type StageFunc[I, O any] func(ctx context.Context, in I) (O, error)

func (f StageFunc[I, O]) Invoke(ctx context.Context, in I) (O, error) {
	return f(ctx, in)
}

// Then 顺序组合两个阶段，前一阶段失败时不再执行后一阶段
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return StageFunc[A, C](func(ctx context.Context, in A) (C, error) {
		mid, err := first.Invoke(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return second.Invoke(ctx, mid)
	})
}
