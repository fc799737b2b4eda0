package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"crm-backup/internal/logging"
)

// RetentionPolicy decides which stored artifacts survive a prune.
// An artifact is kept when any rule keeps it; the newest artifact is always kept.
type RetentionPolicy struct {
	KeepLast  int           `mapstructure:"keep_last" yaml:"keep_last"`
	MaxAge    time.Duration `mapstructure:"max_age" yaml:"max_age"`
	KeepDaily int           `mapstructure:"keep_daily" yaml:"keep_daily"`
}

// IsZero reports whether no rule is set
func (p RetentionPolicy) IsZero() bool {
	return p.KeepLast <= 0 && p.MaxAge <= 0 && p.KeepDaily <= 0
}

// Validate rejects negative values
func (p RetentionPolicy) Validate() error {
	var errs []error
	if p.KeepLast < 0 {
		errs = append(errs, errors.New("keep_last cannot be negative"))
	}
	if p.MaxAge < 0 {
		errs = append(errs, errors.New("max_age cannot be negative"))
	}
	if p.KeepDaily < 0 {
		errs = append(errs, errors.New("keep_daily cannot be negative"))
	}
	return errors.Join(errs...)
}

// RetentionResult reports what a prune kept and deleted
type RetentionResult struct {
	Processed int            `json:"processed" yaml:"processed"`
	Kept      []ArtifactInfo `json:"kept" yaml:"kept"`
	Deleted   []ArtifactInfo `json:"deleted" yaml:"deleted"`
	Errors    []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
	DryRun    bool           `json:"dryRun" yaml:"dry_run"`
}

// RetentionManager prunes an artifact store according to a policy
type RetentionManager struct {
	store  ArtifactStore
	policy RetentionPolicy
	logger *logging.Logger
	now    func() time.Time
}

// NewRetentionManager creates a manager for store
func NewRetentionManager(store ArtifactStore, policy RetentionPolicy, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RetentionManager{store: store, policy: policy, logger: logger, now: time.Now}
}

// Apply deletes every artifact the policy does not keep. With dryRun nothing is deleted.
func (rm *RetentionManager) Apply(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	if rm.policy.IsZero() {
		return nil, NewConfigurationError("retention policy has no rules, refusing to prune", nil)
	}
	if err := rm.policy.Validate(); err != nil {
		return nil, NewConfigurationError("invalid retention policy", err)
	}

	items, err := rm.store.List(ctx)
	if err != nil {
		return nil, err
	}

	keep, del := rm.selectArtifacts(items)
	result := &RetentionResult{
		Processed: len(items),
		Kept:      keep,
		Deleted:   del,
		DryRun:    dryRun,
	}
	if dryRun {
		return result, nil
	}

	result.Deleted = nil
	for _, item := range del {
		if err := rm.store.Delete(ctx, item.Name); err != nil {
			msg := fmt.Sprintf("failed to delete %s: %v", item.Name, err)
			result.Errors = append(result.Errors, msg)
			rm.logger.Error(msg)
			continue
		}
		result.Deleted = append(result.Deleted, item)
		rm.logger.WithField("artifact", item.Name).Info("Deleted backup by retention policy")
	}

	rm.logger.WithFields(map[string]interface{}{
		"processed": result.Processed,
		"deleted":   len(result.Deleted),
		"kept":      len(result.Kept),
	}).Info("Retention policy applied")

	if len(result.Errors) > 0 {
		return result, NewStorageError(fmt.Sprintf("%d backups could not be deleted", len(result.Errors)), nil)
	}
	return result, nil
}

// selectArtifacts splits items into kept and deleted, both newest first
func (rm *RetentionManager) selectArtifacts(items []ArtifactInfo) ([]ArtifactInfo, []ArtifactInfo) {
	sorted := append([]ArtifactInfo(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ArtifactTime(sorted[i]).After(ArtifactTime(sorted[j]))
	})

	now := rm.now()
	keepSet := make(map[string]bool, len(sorted))
	if len(sorted) > 0 {
		keepSet[sorted[0].Name] = true
	}

	for i := 0; i < len(sorted) && i < rm.policy.KeepLast; i++ {
		keepSet[sorted[i].Name] = true
	}

	if rm.policy.MaxAge > 0 {
		cutoff := now.Add(-rm.policy.MaxAge)
		for _, item := range sorted {
			if ArtifactTime(item).After(cutoff) {
				keepSet[item.Name] = true
			}
		}
	}

	if rm.policy.KeepDaily > 0 {
		days := make(map[string]bool)
		for _, item := range sorted {
			if len(days) >= rm.policy.KeepDaily {
				break
			}
			day := ArtifactTime(item).UTC().Format("2006-01-02")
			if !days[day] {
				days[day] = true
				keepSet[item.Name] = true
			}
		}
	}

	var keep, del []ArtifactInfo
	for _, item := range sorted {
		if keepSet[item.Name] {
			keep = append(keep, item)
		} else {
			del = append(del, item)
		}
	}
	return keep, del
}

// ArtifactTime returns the creation time encoded in a generated artifact name,
// or the store modification time for other names
func ArtifactTime(info ArtifactInfo) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(info.Name, "crm-backup-"), ArtifactExtension)
	if t, err := time.Parse(artifactTimeLayout, stamp); err == nil {
		return t
	}
	return info.ModifiedAt
}
