package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

func TestRewardAllMembers_AddsPrizeExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryScience, "Hackathon", 10, 100)
	scores := map[string]int{"1": 0, "2": 50, "3": 10}
	for id, s := range scores {
		f.user(t, id, s)
		res, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	f.user(t, "4", 7)

	res, err := f.eng.RewardAllMembers(ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, 3, res.Rewarded)
	assert.Empty(t, res.Unrewarded)

	want := map[string]int{"1": 100, "2": 150, "3": 110, "4": 7}
	for id, s := range want {
		assert.Equal(t, s, f.userRecord(t, id).Score, "user %s", id)
	}
	// Rewarding is not completion.
	assert.Zero(t, f.userRecord(t, "1").CompletedProjects)
	f.assertConsistent(t)
}

func TestRewardAllMembers_EmptyProject(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryScience, "Quiet", 10, 100)

	res, err := f.eng.RewardAllMembers(ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.Rewarded)
}

func TestRewardAllMembers_NotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.RewardAllMembers(models.ProjectRef{Category: models.CategorySport, ID: "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNotFound, res.Reason)
}

func TestRewardAllMembers_MissingUserIsPartial(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryCulture, "Choir", 10, 20)
	f.user(t, "1", 0)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)
	require.NoError(t, f.st.Update(func(tx *store.Tx) error {
		p, _ := tx.Projects.Get(ref)
		p.Members["99"] = &models.Member{Role: models.MemberRole}
		return nil
	}))

	res, err := f.eng.RewardAllMembers(ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonPartialFailure, res.Reason)
	assert.Equal(t, 1, res.Rewarded)
	assert.Equal(t, []string{"99"}, res.Unrewarded)
	assert.Equal(t, 20, f.userRecord(t, "1").Score)
}

func TestRewardAllMembers_PersistFailurePaysNobody(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryCulture, "Choir", 10, 20)
	f.user(t, "1", 5)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)

	f.fs.arm("users.json")
	res, err := f.eng.RewardAllMembers(ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrPersistFailed)
	assert.Equal(t, ReasonPersistFailed, res.Reason)

	f.fs.arm("")
	assert.Equal(t, 5, f.userRecord(t, "1").Score)
}

func TestTerminateProject_WithReward(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategorySport, "Marathon", 10, 30)
	_, err := f.eng.SetPreview(ref, "media/sport_1_abcd1234.jpg")
	require.NoError(t, err)
	other := f.project(t, models.CategorySport, "Relay", 10, 0)
	for _, id := range []string{"1", "2"} {
		f.user(t, id, 1)
		_, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
	}
	_, err = f.eng.AddMember("2", other)
	require.NoError(t, err)

	res, err := f.eng.TerminateProject(ref, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Marathon", res.Title)
	assert.Equal(t, 2, res.Rewarded)
	assert.Equal(t, 2, res.Detached)
	assert.Equal(t, 30, res.Prize)
	assert.Equal(t, []string{"1", "2"}, res.Former)

	for _, id := range []string{"1", "2"} {
		u := f.userRecord(t, id)
		assert.Equal(t, 31, u.Score)
		assert.Equal(t, 1, u.CompletedProjects)
		assert.False(t, u.HasActive(ref.String()))
	}
	assert.Equal(t, []string{other.String()}, f.userRecord(t, "2").ActiveProjects)

	p, err := f.eng.Project(ref)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, []string{"media/sport_1_abcd1234.jpg"}, f.media.removed)
	f.assertConsistent(t)
}

func TestTerminateProject_WithoutReward(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategorySport, "Marathon", 10, 30)
	for _, id := range []string{"1", "2", "3"} {
		f.user(t, id, 4)
		_, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
	}

	res, err := f.eng.TerminateProject(ref, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Zero(t, res.Rewarded)
	assert.Equal(t, 3, res.Detached)

	for _, id := range []string{"1", "2", "3"} {
		u := f.userRecord(t, id)
		assert.Equal(t, 4, u.Score)
		assert.Zero(t, u.CompletedProjects)
		assert.Empty(t, u.ActiveProjects)
	}
	f.assertConsistent(t)
}

func TestTerminateProject_PersistFailureKeepsEverything(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryOther, "Fair", 10, 30)
	_, err := f.eng.SetPreview(ref, "media/other_1_deadbeef.png")
	require.NoError(t, err)
	f.user(t, "1", 0)
	_, err = f.eng.AddMember("1", ref)
	require.NoError(t, err)
	usersBefore, projectsBefore := f.snapshot(t)

	f.fs.arm("users.json")
	res, err := f.eng.TerminateProject(ref, true)
	require.Error(t, err)
	assert.Equal(t, ReasonPersistFailed, res.Reason)
	f.fs.arm("")

	usersAfter, projectsAfter := f.snapshot(t)
	assert.Equal(t, usersBefore, usersAfter)
	assert.Equal(t, projectsBefore, projectsAfter)
	assert.Empty(t, f.media.removed)

	p, err := f.eng.Project(ref)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.IsMember("1"))
	f.assertConsistent(t)
}

func TestTerminateProject_PreviewRemovalFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.media.err = errors.New("gone")
	ref := f.project(t, models.CategoryOther, "Fair", 10, 0)
	_, err := f.eng.SetPreview(ref, "media/x.png")
	require.NoError(t, err)

	res, err := f.eng.TerminateProject(ref, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTerminateProject_MissingMemberRecord(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryOther, "Fair", 10, 10)
	f.user(t, "1", 0)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)
	require.NoError(t, f.st.Update(func(tx *store.Tx) error {
		p, _ := tx.Projects.Get(ref)
		p.Members["77"] = &models.Member{Role: models.MemberRole}
		return nil
	}))

	res, err := f.eng.TerminateProject(ref, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ReasonPartialFailure, res.Reason)
	assert.Equal(t, []string{"77"}, res.Unrewarded)
	assert.Equal(t, 1, res.Detached)
	assert.Equal(t, []string{"1"}, res.Former)

	p, err := f.eng.Project(ref)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCleanupScenario(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryVolunteering, "Cleanup", 2, 50)
	for _, id := range []string{"1", "2", "3"} {
		f.user(t, id, 0)
	}

	steps := []struct {
		name   string
		run    func() (Result, error)
		reason Reason
	}{
		{"add U1", func() (Result, error) { return f.eng.AddMember("1", ref) }, ReasonOK},
		{"add U2", func() (Result, error) { return f.eng.AddMember("2", ref) }, ReasonOK},
		{"add U3 over capacity", func() (Result, error) { return f.eng.AddMember("3", ref) }, ReasonCapacityExceeded},
		{"remove U1", func() (Result, error) { return f.eng.RemoveMember("1", ref) }, ReasonOK},
		{"add U3", func() (Result, error) { return f.eng.AddMember("3", ref) }, ReasonOK},
	}
	for _, s := range steps {
		res, err := s.run()
		require.NoError(t, err, s.name)
		assert.Equal(t, s.reason, res.Reason, s.name)
		f.assertConsistent(t)
	}

	res, err := f.eng.TerminateProject(ref, true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Rewarded)

	u1 := f.userRecord(t, "1")
	assert.Zero(t, u1.Score)
	assert.Zero(t, u1.CompletedProjects)
	for _, id := range []string{"2", "3"} {
		u := f.userRecord(t, id)
		assert.Equal(t, 50, u.Score, id)
		assert.Equal(t, 1, u.CompletedProjects, id)
		assert.Empty(t, u.ActiveProjects, id)
	}
	p, err := f.eng.Project(ref)
	require.NoError(t, err)
	assert.Nil(t, p)
	f.assertConsistent(t)
}

func TestLessID(t *testing.T) {
	assert.True(t, lessID("9", "10"))
	assert.True(t, lessID("100", "200"))
	assert.False(t, lessID("20", "3"))
	assert.False(t, lessID("5", "5"))
}
