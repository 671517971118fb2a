package store

import (
	"context"
	"fmt"
)

// Open selects a backend by driver name: "postgres" needs dsn, "file"
// needs path.
func Open(ctx context.Context, driver, dsn, path string) (Store, error) {
	switch driver {
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "file":
		return OpenFile(path)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
}
