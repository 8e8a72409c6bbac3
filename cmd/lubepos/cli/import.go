// Package cli holds operational commands of the lubepos binary.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/users"
)

// Upserter applies a bulk price table.
type Upserter interface {
	BulkUpsert(ctx context.Context, rows []catalog.TableRow) (catalog.UpsertResult, error)
}

// UserLookup resolves the acting user by name.
type UserLookup interface {
	GetUserByName(ctx context.Context, name string) (users.User, error)
}

// ImportCLI loads price tables from disk.
type ImportCLI struct {
	catalog Upserter
	users   UserLookup
}

// NewImportCLI constructs the helper.
func NewImportCLI(catalog Upserter, users UserLookup) *ImportCLI {
	return &ImportCLI{catalog: catalog, users: users}
}

// ImportOptions defines flags for the import-products command.
type ImportOptions struct {
	Path       string
	ActorName  string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ImportCommand parses the CSV at opts.Path and upserts it as opts.ActorName.
func (c *ImportCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Path) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "import-products: --file is required")
		return 2
	}
	user, err := c.users.GetUserByName(ctx, opts.ActorName)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "import-products: user %q: %v\n", opts.ActorName, err)
		return 1
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "import-products: %v\n", err)
		return 1
	}
	defer f.Close()

	rows, err := catalog.ParseTable(f)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "import-products: %v\n", err)
		return 1
	}
	ctx = shared.ContextWithActor(ctx, shared.Actor{UserID: user.ID, Name: user.Name, Role: user.Role})
	result, err := c.catalog.BulkUpsert(ctx, rows)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "import-products: [%s] %v\n", shared.KindFor(err), err)
		return 1
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "import-products: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "created %d, updated %d, unchanged %d, price changes %d\n",
		result.Created, result.Updated, result.Unchanged, len(result.PriceChanges))
	return 0
}
