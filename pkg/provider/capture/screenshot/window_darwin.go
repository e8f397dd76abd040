//go:build darwin

package screenshot

import (
	"github.com/progrium/darwinkit/macos/appkit"

	"github.com/MrWong99/glimpse/pkg/types"
)

// windowLookup reads the frontmost application from the shared workspace.
// Only the application is available without accessibility permissions, so
// Title carries the bundle identifier.
type windowLookup struct {
	workspace appkit.Workspace
}

func newWindowLookup() windowLookup {
	return windowLookup{workspace: appkit.Workspace_SharedWorkspace()}
}

func (w windowLookup) foreground() (*types.WindowContext, error) {
	app := w.workspace.FrontmostApplication()
	if app.Ptr() == nil {
		return nil, nil
	}
	name := app.LocalizedName()
	if name == "" {
		return nil, nil
	}
	return &types.WindowContext{Title: app.BundleIdentifier(), ProcessName: name}, nil
}
