package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"crm-backup/internal/backup"
)

var (
	// Backup creation flags
	createOut   string
	createStore bool
	actorName   string

	// Shared artifact flags
	outputFormat string
	fromStore    string

	// Prune flags
	pruneDryRun bool
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, verify, inspect and list backups",
	Long: `Create, verify, inspect and list encrypted CRM backups.

A backup artifact is a .htb file: a SHA-256 checksum line followed by the
AES-256-GCM encrypted, compressed snapshot of every governed table.

Examples:
  # Create a backup in the current directory
  crm-backup backup create

  # Create a backup and upload it to the configured store
  crm-backup backup create --store

  # Verify the checksum of a downloaded artifact (no key needed)
  crm-backup backup verify crm-backup-20240305-140709.htb

  # Show the tables and row counts inside an artifact
  crm-backup backup inspect crm-backup-20240305-140709.htb --format json

  # Preview which stored artifacts the retention policy would delete
  crm-backup backup prune --dry-run`,
}

// backupCreateCmd creates a new backup
var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new database backup",
	Long: `Read every governed table in one consistent pass and seal the snapshot.

Nothing is written unless the whole snapshot was read, encoded and sealed.

Examples:
  crm-backup backup create --out /var/backups/crm.htb
  crm-backup backup create --store --actor ops@example.com`,
	Args: cobra.NoArgs,
	RunE: runBackupCreate,
}

// backupVerifyCmd checks an artifact checksum
var backupVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify the checksum of a backup artifact",
	Long: `Recompute the SHA-256 checksum of the encrypted frame and compare it with the
checksum line of the artifact. The encryption key is not needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupVerify,
}

// backupInspectCmd decrypts an artifact without restoring it
var backupInspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Show the contents of a backup artifact",
	Long: `Verify, decrypt and decode an artifact and report its version, timestamp and
per-table row counts. The database is never modified.

Examples:
  crm-backup backup inspect crm-backup-20240305-140709.htb
  crm-backup backup inspect --from-store crm-backup-20240305-140709.htb --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupInspect,
}

// backupListCmd lists stored artifacts
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts in the configured store",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

// backupPruneCmd applies the retention policy to the store
var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored artifacts outside the retention policy",
	Long: `Apply backup.retention to the configured store. An artifact is kept when any
of keep_last, max_age or keep_daily keeps it, and the newest artifact is never
deleted. A policy without rules is refused.`,
	Args: cobra.NoArgs,
	RunE: runBackupPrune,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupVerifyCmd, backupInspectCmd, backupListCmd, backupPruneCmd)

	backupCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")

	backupCreateCmd.Flags().StringVarP(&createOut, "out", "o", "", "write the artifact to this file")
	backupCreateCmd.Flags().BoolVar(&createStore, "store", false, "upload the artifact to the configured store")
	backupCreateCmd.Flags().StringVar(&actorName, "actor", "", "actor recorded in the audit log (default $USER)")

	backupInspectCmd.Flags().StringVar(&fromStore, "from-store", "", "read the named artifact from the configured store")

	backupPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be deleted without deleting")
}

// runBackupCreate creates a backup and writes it to a file or the store
func runBackupCreate(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(outputFormat)
	if err != nil {
		return err
	}
	if err := env.requireKey(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	svc, err := env.backupService(ctx, connectNow)
	if err != nil {
		return err
	}

	artifact, err := svc.CreateBackup(ctx, resolveActor())
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}

	var location string
	if createStore {
		store, err := env.artifactStore(ctx)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, artifact.Filename, artifact.Data); err != nil {
			return fmt.Errorf("failed to store backup: %w", err)
		}
		location = fmt.Sprintf("%s:%s", env.cfg.Storage.Provider, artifact.Filename)
	}
	if createOut != "" || !createStore {
		path := createOut
		if path == "" {
			path = artifact.Filename
		}
		if err := os.WriteFile(path, artifact.Data, 0600); err != nil {
			return fmt.Errorf("failed to write backup file: %w", err)
		}
		if location == "" {
			location = path
		}
	}

	return renderer.RenderArtifact(artifact, location)
}

// runBackupVerify checks the artifact checksum
func runBackupVerify(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(outputFormat)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	checksum, _, err := backup.VerifyArtifact(data)
	if err != nil {
		renderer.Error("%s: %v", filepath.Base(args[0]), err)
		return err
	}
	return renderer.RenderVerification(filepath.Base(args[0]), checksum, len(data))
}

// runBackupInspect decrypts and summarizes an artifact
func runBackupInspect(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(outputFormat)
	if err != nil {
		return err
	}
	if err := env.requireKey(); err != nil {
		return err
	}

	ctx := context.Background()
	data, _, err := readArtifact(ctx, env, args, fromStore)
	if err != nil {
		return err
	}

	svc, err := env.backupService(ctx, connectLazy)
	if err != nil {
		return err
	}

	summary, err := svc.InspectArtifact(data)
	if err != nil {
		return fmt.Errorf("backup inspection failed: %w", err)
	}
	return renderer.RenderSummary(summary)
}

// runBackupList lists stored artifacts
func runBackupList(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(outputFormat)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := env.artifactStore(ctx)
	if err != nil {
		return err
	}

	items, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	return renderer.RenderArtifactList(items)
}

// runBackupPrune deletes stored artifacts the retention policy does not keep
func runBackupPrune(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(outputFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := env.artifactStore(ctx)
	if err != nil {
		return err
	}

	rm := backup.NewRetentionManager(store, env.cfg.Backup.Retention, env.logger)
	result, err := rm.Apply(ctx, pruneDryRun)
	if result != nil {
		if rerr := renderer.RenderRetentionResult(result); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return fmt.Errorf("backup prune failed: %w", err)
	}
	return nil
}

// readArtifact loads an artifact from a file argument or, with name set, from the store
func readArtifact(ctx context.Context, env *environment, args []string, name string) ([]byte, string, error) {
	switch {
	case name != "" && len(args) > 0:
		return nil, "", fmt.Errorf("pass either a file or --from-store, not both")
	case name != "":
		if err := backup.ValidateArtifactName(name); err != nil {
			return nil, "", err
		}
		store, err := env.artifactStore(ctx)
		if err != nil {
			return nil, "", err
		}
		data, err := store.Get(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read backup %s from store: %w", name, err)
		}
		return data, name, nil
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, "", fmt.Errorf("failed to read backup file: %w", err)
		}
		return data, filepath.Base(args[0]), nil
	default:
		return nil, "", fmt.Errorf("a backup file or --from-store is required")
	}
}

// resolveActor returns the audit actor of a CLI run
func resolveActor() string {
	if actorName != "" {
		return actorName
	}
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}
