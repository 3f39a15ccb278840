package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evalgrid/internal/core"
	"evalgrid/pkg/domain"
)

func scoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score <item-key> <self|mgr> <staff> <value>",
		Short: "Set one score",
		Long: `Set the score an evaluator gave one staff member for one item. <staff> is a
staff id or an exact name. An empty value clears the cell. Values above the
template maximum are clamped; "3/5" is read as 3.

Examples:
  evalgrid score teamwork mgr 佐藤 4
  evalgrid score safety self s-102 ""`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := parsePerspective(args[1])
			if err != nil {
				return err
			}
			return a.withEngine(ctx, func(e *core.Engine) error {
				view := e.Snapshot()
				member, err := resolveStaff(view.Staff, args[2])
				if err != nil {
					return err
				}
				if err := e.EditScore(args[0], p, member.ID, args[3]); err != nil {
					return err
				}
				row, _ := e.Snapshot().Row(args[0])
				score, _ := row.Get(p, member.ID)
				fmt.Fprintf(a.out, "%s %s %s %s = %s\n", good("✓"), args[0], p, member.Name, core.FormatScore(score, view.MaxScore()))
				return nil
			})
		},
	}
}

func itemsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List and edit evaluation items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List items in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				printItems(a.out, e.Snapshot().Items)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add",
		Short: "Append a blank item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				item, err := e.AddBlankItem(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s added %s (%s)\n", good("✓"), item.Key, item.Label)
				return nil
			})
		},
	})

	var label, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an item from a label and description",
		Long: `Fill the draft row and commit it. The key is derived from the label; a
blank label falls back to "New item N".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				if err := e.EditDraft(domain.FieldLabel, label); err != nil {
					return err
				}
				if err := e.EditDraft(domain.FieldDescription, description); err != nil {
					return err
				}
				item, created, err := e.CommitDraft(cmd.Context())
				if err != nil {
					return err
				}
				if !created {
					return errors.New("label or description required")
				}
				fmt.Fprintf(a.out, "%s created %s (%s)\n", good("✓"), item.Key, item.Label)
				return nil
			})
		},
	}
	create.Flags().StringVar(&label, "label", "", "item label")
	create.Flags().StringVar(&description, "description", "", "item description")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <item-key>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				if err := e.RemoveItem(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s removed %s\n", good("✓"), args[0])
				return nil
			})
		},
	})

	for _, field := range []string{domain.FieldLabel, domain.FieldDescription} {
		cmd.AddCommand(&cobra.Command{
			Use:   "set-" + field + " <item-key> <text>",
			Short: "Change an item's " + field,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEngine(cmd.Context(), func(e *core.Engine) error {
					if err := e.EditItemText(cmd.Context(), args[0], field, args[1]); err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s %s %s updated\n", good("✓"), args[0], field)
					return nil
				})
			},
		})
	}
	return cmd
}

func staffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "List and register staff for the role",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staff in column order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				printStaff(a.out, e.Snapshot().Staff)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a staff member under the current role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				member, err := e.CreateStaff(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s added %s %s\n", good("✓"), member.ID, member.Name)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <staff> <name>",
		Short: "Rename a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				current, err := resolveStaff(e.Snapshot().Staff, args[0])
				if err != nil {
					return err
				}
				member, err := e.RenameStaff(cmd.Context(), current.ID, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s %s is now %s\n", good("✓"), member.ID, member.Name)
				return nil
			})
		},
	})
	return cmd
}

func scoreboardCmd(a *app) *cobra.Command {
	var perspective string
	cmd := &cobra.Command{
		Use:   "scoreboard",
		Short: "Rank staff by total score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parsePerspective(perspective)
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				if err := e.SetPerspective(p); err != nil {
					return err
				}
				view := e.Snapshot()
				printScoreboard(a.out, e.Scoreboard(), core.MaxTotalPerStaff(view.Template, len(view.Items)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&perspective, "perspective", "p", string(domain.PerspectiveManager), "self|mgr")
	return cmd
}

func suggestCmd(a *app) *cobra.Command {
	var style string
	var apply bool
	cmd := &cobra.Command{
		Use:   "suggest <seed text>",
		Short: "Ask the generator for an item proposal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := strings.Join(args, " ")
			return a.withEngine(cmd.Context(), func(e *core.Engine) error {
				s, err := e.Suggest(cmd.Context(), seed, style)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s\n  %s\n", bold(s.ItemName), s.ItemDescription)
				if !apply {
					return nil
				}
				item, err := e.ApplySuggestion(cmd.Context(), s)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s created %s\n", good("✓"), item.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "tone hint for the generator")
	cmd.Flags().BoolVar(&apply, "apply", false, "add the proposal as a new item")
	return cmd
}
