package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activist-bot/internal/models"
	"activist-bot/internal/store"
)

func TestAddMember_CapacityInvariant(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryScience, "Lab", 2, 0)
	for _, id := range []string{"1", "2", "3", "4"} {
		f.user(t, id, 0)
	}

	for _, id := range []string{"1", "2"} {
		res, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
		assert.Equal(t, Result{Success: true, Reason: ReasonOK}, res)
	}

	usersBefore, projectsBefore := f.snapshot(t)
	for _, id := range []string{"3", "4", "3"} {
		res, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, ReasonCapacityExceeded, res.Reason)
	}
	usersAfter, projectsAfter := f.snapshot(t)
	assert.Equal(t, usersBefore, usersAfter)
	assert.Equal(t, projectsBefore, projectsAfter)

	members, err := f.eng.Members(ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, members)
	f.assertConsistent(t)
}

func TestAddMember_Preconditions(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryCulture, "Theatre", 10, 0)
	f.user(t, "1", 0)

	res, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.eng.AddMember("1", ref)
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyMember, res.Reason)

	res, err = f.eng.AddMember("404", ref)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	res, err = f.eng.AddMember("1", models.ProjectRef{Category: models.CategoryCulture, ID: "9999"})
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	u := f.userRecord(t, "1")
	assert.Equal(t, []string{ref.String()}, u.ActiveProjects)
	f.assertConsistent(t)
}

func TestAddMember_UnrestrictedCapacity(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryOther, "Open", 0, 0)
	for i := 0; i < 150; i++ {
		id := fmt.Sprint(i + 1)
		f.user(t, id, 0)
		res, err := f.eng.AddMember(id, ref)
		require.NoError(t, err)
		require.True(t, res.Success, "user %s", id)
	}
	f.assertConsistent(t)
}

func TestRemoveMember_NotMemberLeavesDocumentsUnchanged(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategorySport, "Run", 5, 0)
	f.user(t, "1", 0)
	f.user(t, "2", 0)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)

	usersBefore, projectsBefore := f.snapshot(t)
	res, err := f.eng.RemoveMember("2", ref)
	require.NoError(t, err)
	assert.Equal(t, Result{Reason: ReasonNotMember}, res)

	usersAfter, projectsAfter := f.snapshot(t)
	assert.Equal(t, usersBefore, usersAfter)
	assert.Equal(t, projectsBefore, projectsAfter)
}

func TestRemoveMember_IsNotCompletion(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategorySport, "Run", 5, 10)
	f.user(t, "1", 0)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)

	res, err := f.eng.RemoveMember("1", ref)
	require.NoError(t, err)
	assert.True(t, res.Success)

	u := f.userRecord(t, "1")
	assert.Empty(t, u.ActiveProjects)
	assert.Zero(t, u.CompletedProjects)
	assert.Zero(t, u.Score)
	f.assertConsistent(t)
}

func TestLeave_RespectsUnleaveable(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryPatriotism, "Parade", 5, 0)
	f.user(t, "1", 0)
	_, err := f.eng.AddMember("1", ref)
	require.NoError(t, err)
	_, err = f.eng.SetUnleaveable(ref, true)
	require.NoError(t, err)

	res, err := f.eng.Leave("1", ref)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnleaveable, res.Reason)

	// A moderator can still remove the member.
	res, err = f.eng.RemoveMember("1", ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
	f.assertConsistent(t)
}

func TestAddMember_PersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryEducation, "Olympiad", 5, 0)
	f.user(t, "1", 0)
	usersBefore, projectsBefore := f.snapshot(t)

	f.fs.arm("users.json")
	res, err := f.eng.AddMember("1", ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrPersistFailed)
	assert.Equal(t, ReasonPersistFailed, res.Reason)
	assert.False(t, res.Success)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "add_member", engErr.Op)

	usersAfter, projectsAfter := f.snapshot(t)
	assert.Equal(t, usersBefore, usersAfter)
	assert.Equal(t, projectsBefore, projectsAfter)

	f.fs.arm("")
	f.assertConsistent(t)
	res, err = f.eng.AddMember("1", ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestAddMember_ConcurrentJoinsNeverOverrun(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryVolunteering, "Shelter", 5, 0)
	const n = 40
	for i := 1; i <= n; i++ {
		f.user(t, fmt.Sprint(i), 0)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.eng.AddMember(id, ref)
			assert.NoError(t, err)
			if res.Success {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.Equal(t, ReasonCapacityExceeded, res.Reason)
			}
		}(fmt.Sprint(i))
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	members, err := f.eng.Members(ref)
	require.NoError(t, err)
	assert.Len(t, members, 5)
	f.assertConsistent(t)
}

func TestRequestJoin_ApprovalWorkflow(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryProfession, "Internship", 3, 0)
	_, err := f.eng.SetApprovalRequired(ref, true)
	require.NoError(t, err)
	f.user(t, "1", 0)
	f.user(t, "2", 0)

	usersBefore, projectsBefore := f.snapshot(t)
	res, err := f.eng.RequestJoin("1", ref)
	require.NoError(t, err)
	assert.Equal(t, ReasonApprovalRequired, res.Reason)
	usersAfter, projectsAfter := f.snapshot(t)
	assert.Equal(t, usersBefore, usersAfter)
	assert.Equal(t, projectsBefore, projectsAfter)

	req, err := ParseJoinRequest(JoinRequest{UserID: "1", Ref: ref}.Encode())
	require.NoError(t, err)
	res, err = f.eng.Approve(req)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = f.eng.Decline(JoinRequest{UserID: "2", Ref: ref})
	require.NoError(t, err)
	assert.True(t, res.Success)
	u := f.userRecord(t, "2")
	assert.Empty(t, u.ActiveProjects)

	res, err = f.eng.RequestJoin("1", ref)
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyMember, res.Reason)
	f.assertConsistent(t)
}

func TestRequestJoin_WithoutApprovalAddsDirectly(t *testing.T) {
	f := newFixture(t)
	ref := f.project(t, models.CategoryProfession, "Fair", 3, 0)
	f.user(t, "1", 0)

	res, err := f.eng.RequestJoin("1", ref)
	require.NoError(t, err)
	assert.True(t, res.Success)
	f.assertConsistent(t)
}

func TestParseJoinRequest_Rejects(t *testing.T) {
	for _, raw := range []string{"", "1", "1:::sport", ":::sport:::7", "1:::chess:::7"} {
		_, err := ParseJoinRequest(raw)
		assert.Error(t, err, raw)
	}
}

func TestCheckRegistration(t *testing.T) {
	f := newFixture(t)
	f.user(t, "1", 0)

	res, err := f.eng.CheckRegistration("1")
	require.NoError(t, err)
	assert.Equal(t, ReasonProfileIncomplete, res.Reason)
	assert.Equal(t, "name", res.Detail)

	_, _ = f.eng.SetName("1", "Аня")
	_, _ = f.eng.SetSurname("1", "Петрова")
	_, _ = f.eng.SetExternalID("1", "12345678")
	res, err = f.eng.CheckRegistration("1")
	require.NoError(t, err)
	assert.Equal(t, "phone", res.Detail)

	_, _ = f.eng.SetPhone("1", "+79990001122")
	res, err = f.eng.CheckRegistration("1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = f.eng.CheckRegistration("2")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)
}
