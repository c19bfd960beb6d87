package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/mailstore/internal/catalog"
	"github.com/fenilsonani/mailstore/internal/config"
	"github.com/fenilsonani/mailstore/internal/logging"
	"github.com/fenilsonani/mailstore/internal/maildir"
)

var (
	cfgFile   string
	storePath string
	cfg       *config.Config
	logger    *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailstore",
	Short: "Maildir-backed message store",
	Long: `A directory-backed message store following the Maildir convention:
one file per message under tmp/new/cur, crash-safe delivery via atomic
rename, flags encoded in filenames, and Maildir++ subfolders.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if storePath != "" {
			if cfg.Store.Path, err = filepath.Abs(storePath); err != nil {
				return fmt.Errorf("resolve store path: %w", err)
			}
		}
		if cfg.Store.Path != "" {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
		}

		logger, err = logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
}

// storeOptions translates the loaded config into maildir options.
func storeOptions(create bool) maildir.Options {
	return maildir.Options{
		Create:     create,
		Lazy:       cfg.Store.Lazy,
		LazyPeriod: cfg.LazyPeriodDuration(),
		Xattr:      cfg.Store.Xattr,
		FSLayout:   cfg.Store.Layout == "fs",
		Separator:  cfg.Store.Separator,
		Logger:     logger,
	}
}

func openStore(create bool) (*maildir.Store, error) {
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("no store path: set store.path in the config or pass --path")
	}
	return maildir.Open(cfg.Store.Path, storeOptions(create))
}

// resolveFolder opens the store and descends into --folder when given.
func resolveFolder(cmd *cobra.Command, create bool) (*maildir.Store, error) {
	store, err := openStore(create)
	if err != nil {
		return nil, err
	}
	vpath, _ := cmd.Flags().GetString("folder")
	if vpath == "" || vpath == "/" {
		return store, nil
	}
	return store.Folder(vpath)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the maildir structure",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(true)
		if err != nil {
			return err
		}
		fmt.Printf("Initialized maildir at %s\n", store.Path())
		return nil
	},
}

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Deliver a message from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}

		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}

		msg := maildir.NewMessage(content)
		if flags, _ := cmd.Flags().GetString("flags"); flags != "" {
			msg.SetFlags(flags)
		}

		key, err := store.Add(msg)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List message keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		keys, err := store.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <key>",
	Short: "Print a message to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		msg, err := store.Get(args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(msg.Content())
		return err
	},
}

var markCmd = &cobra.Command{
	Use:   "mark <key>",
	Short: "Add or remove message flags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		msg, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if add, _ := cmd.Flags().GetString("add"); add != "" {
			msg.AddFlags(add)
		}
		if remove, _ := cmd.Flags().GetString("remove"); remove != "" {
			msg.RemoveFlags(remove)
		}

		key, err := store.Update(args[0], msg)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", key, msg.Flags())
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		return store.Remove(args[0])
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <key> <folder>",
	Short: "Move a message into another folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		dest, err := store.Folder(args[1])
		if err != nil {
			return err
		}
		return store.Move(args[0], dest)
	},
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := resolveFolder(cmd, false)
		if err != nil {
			return err
		}
		folders, err := store.ListFolders()
		if err != nil {
			return err
		}
		for _, f := range folders {
			fmt.Println(f)
		}
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <folder>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(false)
		if err != nil {
			return err
		}
		folder, err := store.CreateFolder(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created folder %s at %s\n", args[0], folder.Path())
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the SQLite catalog from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is not configured")
		}

		store, err := openStore(false)
		if err != nil {
			return err
		}
		db, err := catalog.Open(cfg.Catalog.Path, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		total, err := db.IndexStore(ctx, store)
		if err != nil {
			return err
		}

		folders, err := store.ListFolders()
		if err != nil {
			return err
		}
		for _, vpath := range folders {
			if vpath == store.Name() {
				continue
			}
			folder, err := store.Folder(vpath)
			if err != nil {
				logger.WithError(err).Warn("skipping folder", "vpath", vpath)
				continue
			}
			n, err := db.IndexStore(ctx, folder)
			if err != nil {
				return err
			}
			total += n
		}

		fmt.Printf("Indexed %d messages\n", total)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the SQLite catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is not configured")
		}

		db, err := catalog.Open(cfg.Catalog.Path, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		var q catalog.Query
		q.Folder, _ = cmd.Flags().GetString("folder")
		q.Flag, _ = cmd.Flags().GetString("flag")
		q.NotFlag, _ = cmd.Flags().GetString("not-flag")
		q.Larger, _ = cmd.Flags().GetInt64("larger")
		q.Smaller, _ = cmd.Flags().GetInt64("smaller")

		entries, err := db.Search(context.Background(), q)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\t%d\t%s\t%s\n",
				e.Folder, e.Key, e.Flags, e.Size,
				e.Subdir, e.DeliveryDate.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "mailstore.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&storePath, "path", "p", "", "maildir root path (overrides config)")

	for _, cmd := range []*cobra.Command{deliverCmd, listCmd, catCmd, markCmd, rmCmd, mvCmd, foldersCmd} {
		cmd.Flags().String("folder", "", "operate on a subfolder (virtual path)")
	}

	deliverCmd.Flags().String("flags", "", "pre-set flag characters (delivers into cur)")
	markCmd.Flags().String("add", "", "flag characters to add")
	markCmd.Flags().String("remove", "", "flag characters to remove")
	searchCmd.Flags().String("folder", "", "restrict to one folder")
	searchCmd.Flags().String("flag", "", "require this flag character")
	searchCmd.Flags().String("not-flag", "", "exclude this flag character")
	searchCmd.Flags().Int64("larger", 0, "minimum size in bytes (exclusive)")
	searchCmd.Flags().Int64("smaller", 0, "maximum size in bytes (exclusive)")

	rootCmd.AddCommand(initCmd, deliverCmd, listCmd, catCmd, markCmd, rmCmd,
		mvCmd, foldersCmd, mkdirCmd, indexCmd, searchCmd)
}
