package inventory

import (
	"context"
	"errors"
	"fmt"
)

var ErrTooManyPages = errors.New("too many pages")

// MaxPages bounds Paginate so an endpoint that never returns an empty page
// fails instead of looping forever.
var MaxPages = 10000

// Paginate calls fetch with page numbers starting at 1 until a page comes
// back empty, and returns the concatenated results.
func Paginate[T any](ctx context.Context, fetch func(ctx context.Context, page int) ([]T, error)) ([]T, error) {
	var out []T
	for page := 1; ; page++ {
		if page > MaxPages {
			return out, fmt.Errorf("%w: stopped after %d", ErrTooManyPages, MaxPages)
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		items, err := fetch(ctx, page)
		if err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}
		if len(items) == 0 {
			return out, nil
		}
		out = append(out, items...)
	}
}
