package backup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backup/internal/schema"
)

// sixTableRegistry inserts as orgs, teams, members, projects, tasks, notes
func sixTableRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r, err := schema.NewRegistry(
		schema.NewTable("orgs", schema.SizeSmall, []string{"id"}, schema.Col("id"), schema.Col("name")),
		schema.NewTable("teams", schema.SizeSmall, []string{"id"}, schema.Col("id"), schema.Ref("orgId", "orgs")),
		schema.NewTable("members", schema.SizeSmall, []string{"id"}, schema.Col("id"), schema.Ref("teamId", "teams")),
		schema.NewTable("projects", schema.SizeSmall, []string{"id"}, schema.Col("id"), schema.Ref("orgId", "orgs")),
		schema.NewTable("tasks", schema.SizeSmall, []string{"id"},
			schema.Col("id"), schema.Ref("projectId", "projects"), schema.Ref("memberId", "members")),
		schema.NewTable("notes", schema.SizeSmall, []string{"id"}, schema.Col("id"), schema.Ref("taskId", "tasks")),
	)
	require.NoError(t, err)
	return r
}

func sixTableSnapshot(suffix string) *Snapshot {
	s := NewSnapshot(time.Now())
	for i := 1; i <= 2; i++ {
		n := fmt.Sprintf("%s%d", suffix, i)
		s.Tables["orgs"] = append(s.Tables["orgs"], Row{"id": "O" + n, "name": "Org " + n})
		s.Tables["teams"] = append(s.Tables["teams"], Row{"id": "T" + n, "orgId": "O" + n})
		s.Tables["members"] = append(s.Tables["members"], Row{"id": "M" + n, "teamId": "T" + n})
		s.Tables["projects"] = append(s.Tables["projects"], Row{"id": "P" + n, "orgId": "O" + n})
		s.Tables["tasks"] = append(s.Tables["tasks"], Row{"id": "K" + n, "projectId": "P" + n, "memberId": "M" + n})
		s.Tables["notes"] = append(s.Tables["notes"], Row{"id": "N" + n, "taskId": "K" + n})
	}
	return s
}

func seedSixTables(store *memStore) {
	store.seed("orgs", Row{"id": "Oold", "name": "Old org"})
	store.seed("teams", Row{"id": "Told", "orgId": "Oold"})
	store.seed("members", Row{"id": "Mold", "teamId": "Told"})
	store.seed("projects", Row{"id": "Pold", "orgId": "Oold"})
	store.seed("tasks", Row{"id": "Kold", "projectId": "Pold", "memberId": "Mold"})
	store.seed("notes", Row{"id": "Nold", "taskId": "Kold"})
}

func crmSnapshot(tables map[string][]Row) *Snapshot {
	s := NewSnapshot(time.Now())
	for name, rows := range tables {
		s.Tables[name] = rows
	}
	return s
}

func TestRestorer_ConcreteScenario(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	snapshot := crmSnapshot(map[string][]Row{
		"accounts": {{"id": "ACCT-1", "name": "Acme"}},
		"contacts": {{"id": "CONT-1", "accountId": "ACCT-1", "firstName": "Jo"}},
	})

	result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(2), result.RecordsRestored)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, store.count("accounts"))
	assert.Equal(t, 1, store.count("contacts"))

	accountID, ok := store.value("contacts", "CONT-1", "accountId")
	require.True(t, ok)
	_, ok = store.value("accounts", fmt.Sprint(accountID), "name")
	assert.True(t, ok, "contact foreign key must resolve")
}

func TestRestorer_AtomicityOnInsertFailure(t *testing.T) {
	registry := sixTableRegistry(t)
	store := newMemStore(registry)
	seedSixTables(store)
	before := store.total()

	third := registry.InsertionOrder()[2].Name
	require.Equal(t, "members", third)
	store.failInsert[third] = errors.New("injected failure")

	result, err := NewRestorer(store, registry).Restore(context.Background(), sixTableSnapshot("new"))
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, BackupErrorTypeTableRestore, backupErr.Type)
	assert.Equal(t, "members", backupErr.Table)
	assert.Equal(t, PhaseInsert, backupErr.Phase)

	assert.False(t, result.Success)
	assert.Zero(t, result.RecordsRestored)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "members")
	assert.Zero(t, result.RecordsDeleted)
	for name, stats := range result.Tables {
		assert.Zero(t, stats.Deleted, name)
		assert.Zero(t, stats.Batches, name)
	}

	assert.Equal(t, before, store.total())
	_, ok := store.value("orgs", "Oold", "name")
	assert.True(t, ok, "pre-restore rows must survive a failed restore")
	_, ok = store.value("orgs", "Onew1", "name")
	assert.False(t, ok, "rows of a failed restore must not be visible")
	assert.Equal(t, 1, store.rollbacks)
	assert.Zero(t, store.commits)
}

func TestRestorer_AtomicityOnDeleteFailure(t *testing.T) {
	registry := sixTableRegistry(t)
	store := newMemStore(registry)
	seedSixTables(store)
	before := store.total()

	store.failDelete["projects"] = errors.New("lock wait timeout")

	result, err := NewRestorer(store, registry).Restore(context.Background(), sixTableSnapshot("new"))
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeTableRestore))
	assert.False(t, result.Success)
	assert.Equal(t, before, store.total())
	assert.Empty(t, store.inserts, "no insert may run after a delete failure")
}

func TestRestorer_DependencyOrder(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)
	store.seed("accounts", Row{"id": "ACCT-OLD", "name": "Old"})
	store.seed("contacts", Row{"id": "CONT-OLD", "accountId": "ACCT-OLD"})
	store.seed("opportunities", Row{"id": "OPP-OLD", "accountId": "ACCT-OLD", "contactId": "CONT-OLD"})

	snapshot := crmSnapshot(map[string][]Row{
		"opportunities": {{"id": "OPP-1", "accountId": "ACCT-1", "contactId": "CONT-1", "stage": "prospecting"}},
		"contacts":      {{"id": "CONT-1", "accountId": "ACCT-1"}},
		"accounts":      {{"id": "ACCT-1", "name": "Acme"}},
	})

	result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RecordsRestored)
	assert.Equal(t, int64(3), result.RecordsDeleted)

	var deletionNames []string
	for _, table := range registry.DeletionOrder() {
		deletionNames = append(deletionNames, table.Name)
	}
	assert.Equal(t, deletionNames, store.deletes)
	assert.Equal(t, []string{"accounts", "contacts", "opportunities"}, store.inserts)

	_, ok := store.value("accounts", "ACCT-OLD", "name")
	assert.False(t, ok)
}

func TestRestorer_EmptySnapshotClearsStore(t *testing.T) {
	registry := sixTableRegistry(t)
	store := newMemStore(registry)
	seedSixTables(store)

	result, err := NewRestorer(store, registry).Restore(context.Background(), NewSnapshot(time.Now()))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.RecordsRestored)
	assert.Equal(t, int64(6), result.RecordsDeleted)
	assert.Zero(t, store.total())
}

func TestRestorer_BatchingIsTransparent(t *testing.T) {
	registry, err := schema.NewRegistry(schema.NewTable("events", schema.SizeLarge, []string{"id"},
		schema.Col("id"), schema.Col("name"), schema.Col("createdAt")))
	require.NoError(t, err)

	rows := make([]Row, 5000)
	for i := range rows {
		rows[i] = Row{"id": fmt.Sprintf("EV-%05d", i), "name": fmt.Sprintf("event %d", i), "createdAt": "2024-01-01T00:00:00Z"}
	}
	snapshot := crmSnapshot(map[string][]Row{"events": rows})

	small := newMemStore(registry)
	result, err := NewRestorer(small, registry, WithBatchSize(10)).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.RecordsRestored)
	assert.Equal(t, 500, result.Tables["events"].Batches)
	assert.Len(t, small.batches["events"], 500)

	large := newMemStore(registry)
	result, err = NewRestorer(large, registry, WithBatchSize(500)).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.RecordsRestored)
	assert.Len(t, large.batches["events"], 10)

	assert.Equal(t, 5000, small.count("events"))
	assert.Equal(t, small.tables["events"], large.tables["events"])
}

func TestRestorer_BatchSizeRespectsParameterCeiling(t *testing.T) {
	registry := schema.MustCRM()
	activities, ok := registry.Lookup(schema.TableActivities)
	require.True(t, ok)
	cols := len(activities.Columns)

	r := NewRestorer(newMemStore(registry), registry, WithBatchSize(500), WithMaxParams(cols*7))
	assert.Equal(t, 7, r.BatchSize(activities))

	r = NewRestorer(newMemStore(registry), registry, WithBatchSize(5), WithMaxParams(65535))
	assert.Equal(t, 5, r.BatchSize(activities))

	r = NewRestorer(newMemStore(registry), registry, WithMaxParams(1))
	assert.Equal(t, 1, r.BatchSize(activities))

	r = NewRestorer(newMemStore(registry), registry)
	assert.Equal(t, DefaultBatchSize, r.BatchSize(activities))
}

func TestRestorer_Normalization(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	snapshot := crmSnapshot(map[string][]Row{
		"opportunities": {
			{"id": "OPP-1", "name": "Deal", "stage": "Closed_Won", "closeDate": "2024-06-30T15:04:05.000Z"},
			{"id": "OPP-2", "name": "Maybe", "closeDate": "sometime next year"},
		},
		"activities": {
			{"id": "ACT-1", "type": "Call", "subject": "Intro"},
		},
	})

	result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RecordsRestored)

	stage, _ := store.value("opportunities", "OPP-1", "stage")
	assert.Equal(t, "closed_won", stage)

	closeDate, _ := store.value("opportunities", "OPP-1", "closeDate")
	require.IsType(t, time.Time{}, closeDate)
	assert.True(t, time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC).Equal(closeDate.(time.Time)))

	unparseable, _ := store.value("opportunities", "OPP-2", "closeDate")
	assert.Nil(t, unparseable)

	defaultStage, _ := store.value("opportunities", "OPP-2", "stage")
	assert.Equal(t, "prospecting", defaultStage)

	status, _ := store.value("activities", "ACT-1", "status")
	priority, _ := store.value("activities", "ACT-1", "priority")
	activityType, _ := store.value("activities", "ACT-1", "type")
	assert.Equal(t, "pending", status)
	assert.Equal(t, "medium", priority)
	assert.Equal(t, "call", activityType)
}

func TestRestorer_SelfReferencingRowsParentsFirst(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	snapshot := crmSnapshot(map[string][]Row{
		"comments": {
			{"id": "C3", "parentId": "C2", "entityType": "account", "entityId": "ACCT-1", "body": "third"},
			{"id": "C2", "parentId": "C1", "entityType": "account", "entityId": "ACCT-1", "body": "second"},
			{"id": "C1", "entityType": "account", "entityId": "ACCT-1", "body": "first"},
		},
		"comment_reactions": {
			{"id": "R1", "commentId": "C3", "emoji": "+1"},
		},
	})

	result, err := NewRestorer(store, registry, WithBatchSize(1)).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.RecordsRestored)
	assert.Equal(t, 3, store.count("comments"))
}

func TestRestorer_VersionMismatch(t *testing.T) {
	registry := schema.MustCRM()

	t.Run("lenient proceeds with a warning", func(t *testing.T) {
		store := newMemStore(registry)
		snapshot := crmSnapshot(map[string][]Row{"accounts": {{"id": "ACCT-1", "name": "Acme"}}})
		snapshot.Version = "0.9"

		result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], `"0.9"`)
		assert.Equal(t, 1, store.count("accounts"))
	})

	t.Run("strict fails before any mutation", func(t *testing.T) {
		store := newMemStore(registry)
		store.seed("accounts", Row{"id": "ACCT-OLD", "name": "Old"})
		snapshot := crmSnapshot(nil)
		snapshot.Version = "2.0"

		result, err := NewRestorer(store, registry, WithStrictVersion(true)).Restore(context.Background(), snapshot)
		require.Error(t, err)
		assert.True(t, IsType(err, BackupErrorTypeVersion))
		assert.False(t, result.Success)
		assert.Zero(t, store.begins)
		assert.Equal(t, 1, store.count("accounts"))
	})
}

func TestRestorer_UnknownTablesAndFields(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	snapshot := crmSnapshot(map[string][]Row{
		"legacy_widgets": {{"id": "W1"}},
		"tags":           {{"id": "TAG-1", "name": "vip", "legacyColour": "red"}},
	})

	result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.RecordsRestored)
	assert.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "legacy_widgets")
	assert.Contains(t, result.Warnings[1], "legacyColour")
}

func TestRestorer_DecodeFailureMutatesNothing(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)
	store.seed("tags", Row{"id": "TAG-OLD", "name": "old"})

	snapshot := crmSnapshot(map[string][]Row{
		"id_patterns": {{"id": "acct", "nextValue": "many"}},
	})

	result, err := NewRestorer(store, registry).Restore(context.Background(), snapshot)
	require.Error(t, err)

	var backupErr *BackupError
	require.True(t, errors.As(err, &backupErr))
	assert.Equal(t, "id_patterns", backupErr.Table)
	assert.Equal(t, PhaseDecode, backupErr.Phase)
	assert.False(t, result.Success)
	assert.Zero(t, store.begins)
	assert.Equal(t, 1, store.count("tags"))
}

func TestRestorer_NilSnapshot(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	result, err := NewRestorer(store, registry).Restore(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeMalformed))
	assert.False(t, result.Success)
	assert.Zero(t, store.begins)
}

func TestRestorer_CancelledCallerDoesNotAbortTransaction(t *testing.T) {
	registry := schema.MustCRM()
	store := newMemStore(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewRestorer(store, registry).Restore(ctx, crmSnapshot(map[string][]Row{
		"tags": {{"id": "TAG-1", "name": "vip"}},
	}))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, store.count("tags"))
}

func TestOrderParentsFirst(t *testing.T) {
	table := schema.NewTable("comments", schema.SizeSmall, []string{"id"},
		schema.Col("id"), schema.Ref("parentId", "comments")).WithSelfRef("parentId")

	records := []schema.Record{
		{"c", "b"},
		{"loop", "loop"},
		{"b", "a"},
		{"orphan", "missing"},
		{"a", nil},
	}

	ordered := orderParentsFirst(table, records)
	require.Len(t, ordered, 5)

	position := make(map[string]int)
	for i, r := range ordered {
		position[r[0].(string)] = i
	}
	assert.Less(t, position["a"], position["b"])
	assert.Less(t, position["b"], position["c"])
	assert.Equal(t, 4, position["loop"], "rows in a reference cycle go last")
}
