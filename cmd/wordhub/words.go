package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/wordhub/internal/app"
	"github.com/at-ishikawa/wordhub/internal/word"
)

var errWordNotFound = errors.New("word not found")

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print the word with an id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				w, err := a.Engine.GetByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("engine.GetByID(%s) > %w", args[0], err)
				}
				if w == nil {
					return fmt.Errorf("%w: id %s", errWordNotFound, args[0])
				}
				return writeOutput(cmd.OutOrStdout(), w)
			})
		},
	}
}

func newSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Print the word whose text matches, ignoring case and surrounding spaces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				w, err := a.Engine.SearchByText(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("engine.SearchByText(%q) > %w", args[0], err)
				}
				if w == nil {
					return fmt.Errorf("%w: %q", errWordNotFound, args[0])
				}
				return writeOutput(cmd.OutOrStdout(), w)
			})
		},
	}
}

func newGetManyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-many <id>...",
		Short: "Print the words found for several ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				words, err := a.Engine.GetByIDs(cmd.Context(), args)
				if err != nil {
					return fmt.Errorf("engine.GetByIDs() > %w", err)
				}
				if err := writeOutput(cmd.OutOrStdout(), words); err != nil {
					return err
				}
				requested := countUnique(args)
				if missing := requested - len(words); missing > 0 {
					warningColor.Fprintf(cmd.ErrOrStderr(), "%d of %d id(s) were not found\n", missing, requested)
				}
				return nil
			})
		},
	}
}

func countUnique(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func newSaveCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Validate and store words from a YAML file holding one word or a list of words",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			words, err := readWords(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				out := cmd.OutOrStdout()
				rejected := 0
				for _, w := range words {
					ok, err := a.Engine.Save(cmd.Context(), w)
					if err != nil {
						return fmt.Errorf("engine.Save(%s) > %w", w.Word, err)
					}
					if !ok {
						rejected++
						failureColor.Fprintf(out, "[REJECTED] %s\n", w.Word)
						continue
					}
					successColor.Fprintf(out, "[SAVED]    %s (%s) score=%d\n", w.Word, w.ID, w.Quality.Score)
				}
				if rejected > 0 {
					return fmt.Errorf("%d of %d word(s) failed validation", rejected, len(words))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `YAML file to read, or "-" for stdin`)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readWords(file string, stdin io.Reader) ([]*word.Word, error) {
	var content []byte
	var err error
	if file == "-" {
		content, err = io.ReadAll(stdin)
	} else {
		content, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	var node yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(content)).Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s has no words", file)
		}
		return nil, fmt.Errorf("yaml.Decode(%s) > %w", file, err)
	}
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	if root.Kind == yaml.SequenceNode {
		var words []*word.Word
		if err := root.Decode(&words); err != nil {
			return nil, fmt.Errorf("decode words in %s: %w", file, err)
		}
		return words, nil
	}
	var w word.Word
	if err := root.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode word in %s: %w", file, err)
	}
	return []*word.Word{&w}, nil
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a word from the canonical partition and the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Engine.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("engine.Delete(%s) > %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache commands",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the memory and durable cache tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				a.Engine.ClearCache(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
				return nil
			})
		},
	})
	return cacheCmd
}
