package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crm-backup/internal/confirmation"
)

var (
	restoreYes    bool
	restoreStrict bool
	restoreFormat string
	restoreStore  string
)

// restoreCmd replaces the governed tables with an artifact
var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore the CRM database from a backup artifact",
	Long: `Verify, decrypt and decode an artifact, then replace every governed table with
its contents in one transaction. Tables are emptied children first and refilled
parents first. Any failure rolls the whole restore back.

The artifact is fully checked before the database is touched, and the restore
asks for confirmation on a terminal unless --yes is given.

Examples:
  crm-backup restore crm-backup-20240305-140709.htb
  crm-backup restore --from-store crm-backup-20240305-140709.htb --yes
  crm-backup restore backup.htb --strict --format json --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "restore without asking for confirmation")
	restoreCmd.Flags().BoolVar(&restoreStrict, "strict", false, "refuse snapshots whose version differs from this build")
	restoreCmd.Flags().StringVar(&restoreFormat, "format", "table", "output format (table, json, yaml)")
	restoreCmd.Flags().StringVar(&restoreStore, "from-store", "", "read the named artifact from the configured store")
	restoreCmd.Flags().StringVar(&actorName, "actor", "", "actor recorded in the audit log (default $USER)")
}

// runRestore restores an artifact after confirmation
func runRestore(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	renderer, err := env.renderer(restoreFormat)
	if err != nil {
		return err
	}
	if err := env.requireKey(); err != nil {
		return err
	}
	if cmd.Flags().Changed("strict") {
		env.cfg.Backup.StrictVersion = restoreStrict
	}

	ctx := context.Background()
	data, name, err := readArtifact(ctx, env, args, restoreStore)
	if err != nil {
		return err
	}

	svc, err := env.backupService(ctx, connectNow)
	if err != nil {
		return err
	}

	summary, err := svc.InspectArtifact(data)
	if err != nil {
		return fmt.Errorf("backup %s cannot be restored: %w", name, err)
	}

	drift, err := env.schemaDrift(ctx)
	if err != nil {
		return err
	}
	if !drift.IsEmpty() {
		return fmt.Errorf("database %s does not match the governed tables: %s", env.cfg.Database.String(), drift)
	}

	confirm := confirmation.NewConfirmationServiceWithIO(os.Stdin, os.Stderr, env.colors, term.IsTerminal(int(os.Stdin.Fd())))
	ok, err := confirm.ConfirmRestore(summary, env.cfg.Database.String(), restoreYes)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	env.logger.WithField("artifact", name).Info("Starting restore")
	result, restoreErr := svc.RestoreBackup(ctx, resolveActor(), data)
	if err := renderer.RenderRestoreResult(result); err != nil {
		return err
	}
	if restoreErr != nil {
		return fmt.Errorf("restore failed: %w", restoreErr)
	}
	return nil
}
