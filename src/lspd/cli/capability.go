package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// locateArg is the wire shape of a capability locate block. Positions are
// zero-based on the wire; the CLI accepts one-based and converts.
type locateArg struct {
	Path   string  `json:"path"`
	Line   *uint32 `json:"line,omitempty"`
	Column *uint32 `json:"column,omitempty"`
}

type locateParams struct {
	Locate locateArg `json:"locate"`
}

type referencesParams struct {
	Locate             locateArg `json:"locate"`
	IncludeDeclaration bool      `json:"includeDeclaration"`
}

type symbolParams struct {
	Locate locateArg `json:"locate"`
	Query  string    `json:"query"`
}

type renameParams struct {
	Locate  locateArg `json:"locate"`
	NewName string    `json:"newName"`
}

var _includeDeclaration bool

var hoverCmd = &cobra.Command{
	Use:   "hover FILE:LINE[:COL]",
	Short: "Show hover documentation at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPositional(cmd, "hover", args[0])
	},
}

var definitionCmd = &cobra.Command{
	Use:     "definition FILE:LINE[:COL]",
	Aliases: []string{"def"},
	Short:   "Jump to the definition of the symbol at a position",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPositional(cmd, "definition", args[0])
	},
}

var typeDefinitionCmd = &cobra.Command{
	Use:     "type-definition FILE:LINE[:COL]",
	Aliases: []string{"typedef"},
	Short:   "Jump to the type definition of the symbol at a position",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPositional(cmd, "typeDefinition", args[0])
	},
}

var implementationCmd = &cobra.Command{
	Use:     "implementation FILE:LINE[:COL]",
	Aliases: []string{"impl"},
	Short:   "List implementations of the symbol at a position",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPositional(cmd, "implementation", args[0])
	},
}

var referencesCmd = &cobra.Command{
	Use:     "references FILE:LINE[:COL]",
	Aliases: []string{"refs"},
	Short:   "List references to the symbol at a position",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locate, err := parseLocate(args[0])
		if err != nil {
			return err
		}
		if locate.Line == nil {
			return fmt.Errorf("references requires a position, got %q", args[0])
		}
		return runCapability(cmd, "references", referencesParams{
			Locate:             locate,
			IncludeDeclaration: _includeDeclaration,
		})
	},
}

var outlineCmd = &cobra.Command{
	Use:   "outline FILE",
	Short: "Show the symbol outline of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		locate, err := parseLocate(args[0])
		if err != nil {
			return err
		}
		return runCapability(cmd, "outline", locateParams{Locate: locate})
	},
}

var symbolCmd = &cobra.Command{
	Use:   "symbol QUERY [PATH]",
	Short: "Search workspace symbols matching a query",
	Long: `Search symbols across the workspace. The optional PATH argument picks
the workspace to search; it defaults to the current directory.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 2 {
			path = args[1]
		}
		return runCapability(cmd, "symbol", symbolParams{
			Locate: locateArg{Path: path},
			Query:  args[0],
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Rename the symbol at a position",
}

var renamePreviewCmd = &cobra.Command{
	Use:   "preview FILE:LINE[:COL] NEW_NAME",
	Short: "Show the patches a rename would apply, without touching files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd, "rename/preview", args)
	},
}

var renameExecuteCmd = &cobra.Command{
	Use:   "execute FILE:LINE[:COL] NEW_NAME",
	Short: "Apply the rename to the files on disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRename(cmd, "rename/execute", args)
	},
}

func init() {
	referencesCmd.Flags().BoolVar(&_includeDeclaration, "include-declaration", false, "include the declaration site in the results")
	renameCmd.AddCommand(renamePreviewCmd, renameExecuteCmd)
}

func runPositional(cmd *cobra.Command, name string, arg string) error {
	locate, err := parseLocate(arg)
	if err != nil {
		return err
	}
	if locate.Line == nil {
		return fmt.Errorf("%s requires a position, got %q", name, arg)
	}
	return runCapability(cmd, name, locateParams{Locate: locate})
}

func runRename(cmd *cobra.Command, name string, args []string) error {
	locate, err := parseLocate(args[0])
	if err != nil {
		return err
	}
	if locate.Line == nil {
		return fmt.Errorf("rename requires a position, got %q", args[0])
	}
	return runCapability(cmd, name, renameParams{Locate: locate, NewName: args[1]})
}

// runCapability dials the daemon, dispatches one capability call, and
// renders the result.
func runCapability(cmd *cobra.Command, name string, params interface{}) error {
	ctx, cancel := callContext()
	defer cancel()

	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	result, err := c.call(ctx, "capability/"+name, params)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), result)
}

// parseLocate parses FILE[:LINE[:COL]] with one-based positions into a
// zero-based locate block.
func parseLocate(arg string) (locateArg, error) {
	locate := locateArg{Path: arg}

	// Trailing numeric segments are positions; everything before them is
	// the path, which may itself contain colons.
	parts := strings.Split(arg, ":")
	numeric := 0
	for i := len(parts) - 1; i > 0 && numeric < 2; i-- {
		if _, err := strconv.ParseUint(parts[i], 10, 32); err != nil {
			break
		}
		numeric++
	}
	if numeric == 0 {
		return locate, nil
	}

	locate.Path = strings.Join(parts[:len(parts)-numeric], ":")
	if locate.Path == "" {
		return locateArg{}, fmt.Errorf("missing file path in %q", arg)
	}

	line, err := parsePosition(parts[len(parts)-numeric])
	if err != nil {
		return locateArg{}, fmt.Errorf("parsing line in %q: %w", arg, err)
	}
	locate.Line = &line

	if numeric == 2 {
		col, err := parsePosition(parts[len(parts)-1])
		if err != nil {
			return locateArg{}, fmt.Errorf("parsing column in %q: %w", arg, err)
		}
		locate.Column = &col
	}
	return locate, nil
}

// parsePosition converts a one-based CLI position to zero-based.
func parsePosition(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("positions are one-based, got 0")
	}
	return uint32(n - 1), nil
}
