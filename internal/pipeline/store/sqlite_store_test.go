// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*SqliteStore, *clock.Fake) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "pipelines.sqlite"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := clock.NewFake(epoch)
	s, err := NewSqliteStore(context.Background(), db, WithClock(fake))
	require.NoError(t, err)
	return s, fake
}

func csvDefinition(id, csv string, editors ...string) model.Definition {
	return model.Definition{
		ID:            id,
		OwnerUserID:   "owner",
		EditorUserIDs: editors,
		Type:          model.TypeCSV,
		Options:       json.RawMessage(fmt.Sprintf(`{"csv":%q,"feedOptions":{"feedId":"%s","feedDisplayName":"feed"}}`, csv, id)),
	}
}

func TestUpsertDefinition_InsertThenUpdate(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	stored, err := s.UpsertDefinition(ctx, csvDefinition("p1", "a"), "u1")
	require.NoError(t, err)
	assert.Equal(t, epoch, stored.TimeCreated)
	assert.Equal(t, epoch, stored.TimeUpdated)
	assert.Equal(t, []string{}, stored.EditorUserIDs)

	fake.Advance(time.Hour)
	stored, err = s.UpsertDefinition(ctx, csvDefinition("p1", "b"), "u1")
	require.NoError(t, err)
	assert.Equal(t, epoch, stored.TimeCreated, "creation time survives updates")
	assert.Equal(t, epoch.Add(time.Hour), stored.TimeUpdated)

	got, err := s.GetDefinition(ctx, "p1")
	require.NoError(t, err)
	opts, err := got.ParseOptions()
	require.NoError(t, err)
	assert.Equal(t, "b", opts.(*model.CSVOptions).CSV)
}

func TestUpsertDefinition_RejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	def := csvDefinition("p1", "a")
	def.Type = "Unknown"

	_, err := s.UpsertDefinition(context.Background(), def, "u1")
	assert.ErrorIs(t, err, model.ErrInvalidDefinition)

	history, err := s.EditHistory(context.Background(), "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected writes leave no history")
}

func TestUpsertDefinition_EditorSetConverges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	steps := [][]string{
		{"alice", "bob"},
		{"bob", "carol", "carol"},
		{},
		{"dave", "alice", "dave"},
	}
	for _, editors := range steps {
		_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "x", editors...), "owner")
		require.NoError(t, err)

		got, err := s.GetDefinition(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.NormalizeEditors(editors), got.EditorUserIDs)
	}
}

func TestUpsertDefinition_EditorDiffScopedToPipeline(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "x", "alice"), "")
	require.NoError(t, err)
	_, err = s.UpsertDefinition(ctx, csvDefinition("p2", "x", "alice"), "")
	require.NoError(t, err)
	_, err = s.UpsertDefinition(ctx, csvDefinition("p1", "x"), "")
	require.NoError(t, err)

	p2, err := s.GetDefinition(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, p2.EditorUserIDs)
}

func TestEditHistory_AppendOnly(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	var inputs []model.Definition
	for i := 0; i < 5; i++ {
		def := csvDefinition("p1", fmt.Sprintf("v%d", i), "alice")
		inputs = append(inputs, def)
		_, err := s.UpsertDefinition(ctx, def, fmt.Sprintf("editor-%d", i))
		require.NoError(t, err)
		fake.Advance(time.Minute)

		history, err := s.EditHistory(ctx, "p1", 100)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		for j, entry := range history {
			if diff := cmp.Diff(inputs[j], entry.Pipeline); diff != "" {
				t.Fatalf("history[%d] mismatch (-want +got):\n%s", j, diff)
			}
			assert.Equal(t, fmt.Sprintf("editor-%d", j), entry.EditorUserID)
			assert.Equal(t, epoch.Add(time.Duration(j)*time.Minute), entry.TimeCreated)
		}
	}

	recent, err := s.EditHistory(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, inputs[3].Options, recent[0].Pipeline.Options)
	assert.Equal(t, inputs[4].Options, recent[1].Pipeline.Options)
}

func TestEditHistory_NoLimitReturnsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "a"), "u1")
	require.NoError(t, err)

	history, err := s.EditHistory(ctx, "p1", 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestEditHistory_SystemWriteHasNoEditor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertDefinitions(ctx, []model.Definition{csvDefinition("p1", "a"), csvDefinition("p2", "b")}))

	history, err := s.EditHistory(ctx, "p2", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].EditorUserID)
}

func TestLoadAndDelete(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "a", "alice"), "")
	require.NoError(t, err)
	fake.Advance(time.Second)
	_, err = s.UpsertDefinition(ctx, csvDefinition("p2", "b"), "")
	require.NoError(t, err)

	defs, err := s.LoadDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "p1", defs[0].ID)
	assert.Equal(t, []string{"alice"}, defs[0].EditorUserIDs)
	assert.Equal(t, []string{}, defs[1].EditorUserIDs)

	require.NoError(t, s.DeleteDefinition(ctx, "p1"))
	_, err = s.GetDefinition(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	history, err := s.EditHistory(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, s.DeleteAllDefinitions(ctx))
	defs, err = s.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestInstrumentedStore_PassesThrough(t *testing.T) {
	inner, _ := newTestStore(t)
	s := NewInstrumentedStore(inner, "sqlite")
	ctx := context.Background()

	_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "a"), "u1")
	require.NoError(t, err)
	_, err = s.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.EditHistory(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemorySummaryStore(t *testing.T) {
	s := NewMemorySummaryStore()
	ctx := context.Background()

	got, err := s.LastLoadSummary(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	summary := &model.LoadSummary{LastRunStartTimestamp: epoch, AtomsLoaded: 3, Success: true, Errors: []string{"warn"}}
	require.NoError(t, s.SaveLoadSummary(ctx, "p1", summary))
	summary.Errors[0] = "mutated"

	got, err = s.LastLoadSummary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.AtomsLoaded)
	assert.Equal(t, []string{"warn"}, got.Errors)

	require.NoError(t, s.SaveLoadSummary(ctx, "p1", nil))
	got, err = s.LastLoadSummary(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateDefinition_AppliesToCurrentRow(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertDefinition(ctx, csvDefinition("p1", "v1", "alice"), "owner")
	require.NoError(t, err)
	_, err = s.UpsertDefinition(ctx, csvDefinition("p1", "v2", "bob"), "owner")
	require.NoError(t, err)

	stored, err := s.UpdateDefinition(ctx, "p1", "", func(def *model.Definition) error {
		assert.Equal(t, []string{"bob"}, def.EditorUserIDs, "update sees the latest write")
		opts, err := def.ParseOptions()
		require.NoError(t, err)
		opts.(*model.CSVOptions).Paused = true
		return def.SetOptions(opts)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, stored.EditorUserIDs)

	got, err := s.GetDefinition(ctx, "p1")
	require.NoError(t, err)
	opts, err := got.ParseOptions()
	require.NoError(t, err)
	assert.True(t, opts.(*model.CSVOptions).Paused)
	assert.Equal(t, "v2", opts.(*model.CSVOptions).CSV)

	history, err := s.EditHistory(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Empty(t, history[2].EditorUserID)
}

func TestUpdateDefinition_Rejections(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateDefinition(ctx, "missing", "", func(*model.Definition) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpsertDefinition(ctx, csvDefinition("p1", "v1"), "owner")
	require.NoError(t, err)

	errStop := errors.New("stop")
	_, err = s.UpdateDefinition(ctx, "p1", "", func(*model.Definition) error { return errStop })
	assert.ErrorIs(t, err, errStop)

	_, err = s.UpdateDefinition(ctx, "p1", "", func(def *model.Definition) error {
		def.ID = "p2"
		return nil
	})
	assert.ErrorIs(t, err, model.ErrInvalidDefinition)

	history, err := s.EditHistory(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed updates write nothing")
}
