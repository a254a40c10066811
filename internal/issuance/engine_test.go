// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package issuance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ticket-%d", n)
	}
}

func newTestEngine(at time.Time) *Engine {
	return NewEngine(WithClock(clock.NewFake(at)), WithIDGenerator(sequentialIDs()))
}

func hourlyRule() model.AutoIssuanceRule {
	return model.AutoIssuanceRule{
		EventID:        "food",
		ProductID:      "meal",
		MemberCriteria: []model.MemberCriterion{{EventID: "conf"}},
		Schedule: model.Schedule{
			StartDate:  now.Add(-24 * time.Hour),
			EndDate:    now.Add(24 * time.Hour),
			IntervalMs: time.Hour.Milliseconds(),
		},
	}
}

func attendee(email string) Record {
	return Record{Email: email, Name: "Ada", EventID: "conf", ProductID: "ga", Source: SourceReal}
}

func TestEvaluate_IssuesToQualifyingConsumer(t *testing.T) {
	e := newTestEngine(now)
	got := e.Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com", "eve@example.com"}, nil,
		[]Record{attendee("ada@example.com")})

	require.Len(t, got, 1)
	assert.Equal(t, model.ManualTicket{
		ID:            "ticket-1",
		AttendeeEmail: "ada@example.com",
		AttendeeName:  "Ada",
		EventID:       "food",
		ProductID:     "meal",
		TimeCreated:   now,
	}, got[0])
}

func TestEvaluate_CooldownIsSlidingWindow(t *testing.T) {
	rule := hourlyRule()
	prior := func(age time.Duration) []model.ManualTicket {
		return []model.ManualTicket{{
			ID: "old", AttendeeEmail: "ada@example.com", AttendeeName: "Ada",
			EventID: "food", ProductID: "meal", TimeCreated: now.Add(-age),
		}}
	}
	records := []Record{attendee("ada@example.com")}
	emails := []string{"ada@example.com"}

	assert.Empty(t, newTestEngine(now).Evaluate([]model.AutoIssuanceRule{rule}, emails, prior(30*time.Minute), records))
	assert.Empty(t, newTestEngine(now).Evaluate([]model.AutoIssuanceRule{rule}, emails, prior(time.Hour), records),
		"a ticket exactly one interval old still blocks")
	assert.Len(t, newTestEngine(now).Evaluate([]model.AutoIssuanceRule{rule}, emails, prior(61*time.Minute), records), 1)
}

func TestEvaluate_CooldownCountsAnyTicketOfUser(t *testing.T) {
	existing := []model.ManualTicket{{
		ID: "x", AttendeeEmail: "ada@example.com", EventID: "conf", ProductID: "speaker", TimeCreated: now.Add(-10 * time.Minute),
	}}
	records := []Record{attendee("ada@example.com")}
	got := newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com"}, existing, records)
	assert.Empty(t, got, "a ticket for another event still starts the cooldown")

	existing[0].AttendeeEmail = "eve@example.com"
	got = newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com"}, existing, records)
	assert.Len(t, got, 1, "other users' tickets do not")
}

func TestEvaluate_DistinctRulesIssueInSamePass(t *testing.T) {
	swag := hourlyRule()
	swag.EventID, swag.ProductID = "swag", "shirt"
	got := newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule(), swag}, []string{"ada@example.com"}, nil,
		[]Record{attendee("ada@example.com")})
	require.Len(t, got, 2)
	assert.Equal(t, "food", got[0].EventID)
	assert.Equal(t, "swag", got[1].EventID)
}

func TestEvaluate_EmailsMatchCaseInsensitively(t *testing.T) {
	rules := []model.AutoIssuanceRule{hourlyRule()}
	got := newTestEngine(now).Evaluate(rules, []string{"Ada@Example.com", "ada@example.com"}, nil,
		[]Record{attendee("ada@example.com")})
	require.Len(t, got, 1, "one consumer despite differing case")
	assert.Equal(t, "Ada@Example.com", got[0].AttendeeEmail)

	recent := []model.ManualTicket{{ID: "m", AttendeeEmail: "ADA@example.com", EventID: "food", ProductID: "meal", TimeCreated: now}}
	assert.Empty(t, newTestEngine(now).Evaluate(rules, []string{"ada@example.com"}, recent, []Record{attendee("ada@example.com")}))
}

func TestEvaluate_ScheduleWindowInclusive(t *testing.T) {
	rule := hourlyRule()
	records := []Record{attendee("ada@example.com")}
	emails := []string{"ada@example.com"}
	rules := []model.AutoIssuanceRule{rule}

	assert.Len(t, newTestEngine(rule.Schedule.StartDate).Evaluate(rules, emails, nil, records), 1)
	assert.Len(t, newTestEngine(rule.Schedule.EndDate).Evaluate(rules, emails, nil, records), 1)
	assert.Empty(t, newTestEngine(rule.Schedule.StartDate.Add(-time.Millisecond)).Evaluate(rules, emails, nil, records))
	assert.Empty(t, newTestEngine(rule.Schedule.EndDate.Add(time.Millisecond)).Evaluate(rules, emails, nil, records))
}

func TestEvaluate_CriteriaVariants(t *testing.T) {
	rule := hourlyRule()
	rule.MemberCriteria = []model.MemberCriterion{{EventID: "conf", ProductID: "speaker"}}
	rules := []model.AutoIssuanceRule{rule}
	emails := []string{"ada@example.com"}

	assert.Empty(t, newTestEngine(now).Evaluate(rules, emails, nil, []Record{attendee("ada@example.com")}))

	speaker := attendee("ada@example.com")
	speaker.ProductID = "speaker"
	assert.Len(t, newTestEngine(now).Evaluate(rules, emails, nil, []Record{speaker}), 1)

	other := attendee("ada@example.com")
	other.EventID = "other"
	assert.Empty(t, newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, emails, nil, []Record{other}))
}

func TestEvaluate_ManualTicketQualifiesAndNames(t *testing.T) {
	existing := []model.ManualTicket{{
		ID: "m1", AttendeeEmail: "ada@example.com", AttendeeName: "Manual Ada",
		EventID: "conf", ProductID: "ga", TimeCreated: now.Add(-48 * time.Hour),
	}}
	got := newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com"}, existing, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "Manual Ada", got[0].AttendeeName)
}

func TestEvaluate_NameFallbacks(t *testing.T) {
	nameless := attendee("ada@example.com")
	nameless.Name = ""
	got := newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com"}, nil, []Record{nameless})
	require.Len(t, got, 1)
	assert.Equal(t, PlaceholderName, got[0].AttendeeName)
}

func TestEvaluate_DuplicateEmailsAndRulesIssueOnce(t *testing.T) {
	rules := []model.AutoIssuanceRule{hourlyRule(), hourlyRule()}
	got := newTestEngine(now).Evaluate(rules, []string{"ada@example.com", "ada@example.com"}, nil,
		[]Record{attendee("ada@example.com")})
	assert.Len(t, got, 1)
}

func TestEvaluate_IsPure(t *testing.T) {
	existing := []model.ManualTicket{{ID: "m1", AttendeeEmail: "ada@example.com", EventID: "conf"}}
	snapshot := append([]model.ManualTicket(nil), existing...)
	_ = newTestEngine(now).Evaluate([]model.AutoIssuanceRule{hourlyRule()}, []string{"ada@example.com"}, existing, nil)
	assert.Equal(t, snapshot, existing)
}

type fakeDirectory struct {
	consumers []Consumer
	err       error
}

func (f fakeDirectory) LoadAll(context.Context, string) ([]Consumer, error) {
	return f.consumers, f.err
}

func TestProvider_Load(t *testing.T) {
	p := NewProvider("p1", []model.AutoIssuanceRule{hourlyRule()}, newTestEngine(now))
	dir := fakeDirectory{consumers: []Consumer{{Email: "ada@example.com"}, {Email: "bob@example.com"}}}

	got, err := p.Load(context.Background(), dir, nil, []Record{attendee("ada@example.com"), attendee("bob@example.com")})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = p.Load(context.Background(), fakeDirectory{err: errors.New("db down")}, nil, nil)
	assert.Error(t, err)
}

func TestSqliteConsumers(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "consumers.sqlite"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := clock.NewFake(now)
	dir, err := NewSqliteConsumers(context.Background(), db, fake)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dir.Save(ctx, "p1", "bob@example.com", "s1"))
	require.NoError(t, dir.Save(ctx, "p1", "ada@example.com", "s2"))
	require.NoError(t, dir.Save(ctx, "p2", "ada@example.com", "s2"))
	fake.Advance(time.Minute)
	require.NoError(t, dir.Save(ctx, "p1", "bob@example.com", "s3"))

	got, err := dir.LoadAll(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ada@example.com", got[0].Email)
	assert.Equal(t, "bob@example.com", got[1].Email)
	assert.Equal(t, "s3", got[1].SemaphoreID)
	assert.Equal(t, now, got[1].TimeCreated)
	assert.Equal(t, now.Add(time.Minute), got[1].TimeUpdated)
}
