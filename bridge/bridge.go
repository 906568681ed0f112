// Package bridge carries validated actions out to the device and reads
// raw perception dumps back. The only transport implemented is adb; the
// interfaces exist so the decision engine never shells out directly.
package bridge

import (
	"context"

	"github.com/hermitdroid/hermitdroid/plan"
)

// Bridge is the full device surface: dispatch plus perception reads.
type Bridge interface {
	Dispatch(ctx context.Context, a plan.ActionRequest) error

	NotificationDump(ctx context.Context) (string, error)
	ActivityDump(ctx context.Context) (string, error)
	UITreeDump(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ScreenOn(ctx context.Context) (bool, error)
}
