package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"crm-backup/internal/backup"
	"crm-backup/internal/display"
)

// ErrNonInteractive is returned when a restore needs confirmation but stdin is not a terminal
var ErrNonInteractive = errors.New("restore requires confirmation: stdin is not a terminal, pass --yes to proceed")

// ConfirmationService asks the operator before a restore replaces live data
type ConfirmationService interface {
	ConfirmRestore(summary *backup.ArtifactSummary, target string, autoApprove bool) (bool, error)
	DisplayRestoreSummary(summary *backup.ArtifactSummary, target string) error
	HandleInterruption() error
}

type confirmationService struct {
	renderer    *display.Renderer
	colors      display.ColorSystem
	out         io.Writer
	reader      *bufio.Reader
	interactive bool
}

// NewConfirmationServiceWithIO prompts on the given streams
func NewConfirmationServiceWithIO(in io.Reader, out io.Writer, colors display.ColorSystem, interactive bool) ConfirmationService {
	if colors == nil {
		colors = display.NewPlainColorSystem()
	}
	return &confirmationService{
		renderer:    display.NewRenderer(out, display.FormatTable, colors),
		colors:      colors,
		out:         out,
		reader:      bufio.NewReader(in),
		interactive: interactive,
	}
}

// ConfirmRestore shows what the artifact holds and asks for approval
func (cs *confirmationService) ConfirmRestore(summary *backup.ArtifactSummary, target string, autoApprove bool) (bool, error) {
	if err := cs.DisplayRestoreSummary(summary, target); err != nil {
		return false, fmt.Errorf("failed to display restore summary: %w", err)
	}

	if autoApprove {
		cs.renderer.Success("Auto-approving restore...")
		return true, nil
	}
	if !cs.interactive {
		return false, ErrNonInteractive
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	for {
		inputChan := make(chan string, 1)
		errorChan := make(chan error, 1)

		go func() {
			input, err := cs.promptForConfirmation()
			if err != nil {
				errorChan <- err
				return
			}
			inputChan <- input
		}()

		select {
		case <-interruptChan:
			fmt.Fprintln(cs.out)
			cs.renderer.Warning("Restore cancelled by user")
			return false, cs.HandleInterruption()
		case err := <-errorChan:
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-inputChan:
			switch strings.ToLower(input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				cs.renderer.Success("Restore cancelled, no changes were made")
				return false, nil
			case "d", "details":
				if err := cs.displayDetails(summary); err != nil {
					return false, err
				}
			default:
				fmt.Fprintf(cs.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
			}
		}
	}
}

// DisplayRestoreSummary prints the artifact facts and the replacement warning
func (cs *confirmationService) DisplayRestoreSummary(summary *backup.ArtifactSummary, target string) error {
	if summary == nil {
		return errors.New("artifact summary is required")
	}
	theme := cs.colors.Theme()

	fmt.Fprintln(cs.out, cs.colors.Colorize("Restore Summary", theme.Highlight))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintf(cs.out, "Target database:  %s\n", target)
	fmt.Fprintf(cs.out, "Snapshot taken:   %s\n", summary.Timestamp)
	fmt.Fprintf(cs.out, "Snapshot version: %s\n", summary.Version)
	fmt.Fprintf(cs.out, "Tables:           %d\n", len(summary.Tables))
	fmt.Fprintf(cs.out, "Records:          %s\n", strconv.FormatInt(summary.Records, 10))
	fmt.Fprintln(cs.out)

	if !summary.VersionMatches {
		cs.renderer.Warning("Snapshot version %s differs from the current version %s", summary.Version, backup.SnapshotVersion)
	}
	if len(summary.Ungoverned) > 0 {
		cs.renderer.Warning("These tables will be ignored: %s", strings.Join(summary.Ungoverned, ", "))
	}

	fmt.Fprintln(cs.out, cs.colors.Colorize("🚨 DESTRUCTIVE OPERATION", theme.Error))
	fmt.Fprintln(cs.out, strings.Repeat("=", 50))
	fmt.Fprintln(cs.out, "Every governed table in the target will be emptied and replaced with the snapshot contents.")
	fmt.Fprintln(cs.out, "Rows written since the snapshot was taken will be lost.")
	fmt.Fprintln(cs.out)
	return nil
}

// HandleInterruption runs when the prompt is interrupted
func (cs *confirmationService) HandleInterruption() error {
	fmt.Fprintln(cs.out, "No changes were made.")
	return nil
}

func (cs *confirmationService) promptForConfirmation() (string, error) {
	fmt.Fprint(cs.out, cs.colors.Colorize("Do you want to restore this backup? [y/N/d]: ", cs.colors.Theme().Highlight))

	input, err := cs.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

func (cs *confirmationService) displayDetails(summary *backup.ArtifactSummary) error {
	fmt.Fprintln(cs.out)
	fmt.Fprintln(cs.out, cs.colors.Colorize("Snapshot contents:", cs.colors.Theme().Highlight))
	if err := cs.renderer.RenderSummary(summary); err != nil {
		return fmt.Errorf("failed to display snapshot details: %w", err)
	}
	fmt.Fprintln(cs.out)
	return nil
}
