//go:build !darwin

package screenshot

import (
	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/types"
)

type windowLookup struct{}

func newWindowLookup() windowLookup { return windowLookup{} }

func (windowLookup) foreground() (*types.WindowContext, error) {
	return nil, capture.ErrNotSupported
}
