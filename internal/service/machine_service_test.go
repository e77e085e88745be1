package service

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type mockMachineRepo struct {
	machines   []models.ExamMachine
	byID       *models.ExamMachine
	findErr    error
	reassigned string
}

func (m *mockMachineRepo) ListByRoom(_ context.Context, _ string) ([]models.ExamMachine, error) {
	return m.machines, nil
}

func (m *mockMachineRepo) FindByID(_ context.Context, _ string) (*models.ExamMachine, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byID, nil
}

func (m *mockMachineRepo) Create(_ context.Context, _ *models.ExamMachine) error { return nil }
func (m *mockMachineRepo) Update(_ context.Context, _ *models.ExamMachine) error { return nil }
func (m *mockMachineRepo) SetArchived(_ context.Context, _ string, _ bool) error { return nil }

func (m *mockMachineRepo) Reassign(_ context.Context, _, roomID string) error {
	m.reassigned = roomID
	return nil
}

func machineWith(id string, mutate func(*models.ExamMachine)) models.ExamMachine {
	name := "ws-" + id
	ip := "10.0.0.1"
	m := models.ExamMachine{ID: id, Name: &name, IPAddress: &ip}
	if mutate != nil {
		mutate(&m)
	}
	return m
}

func TestEligibleMachinesFiltering(t *testing.T) {
	exam := &models.Exam{ID: "exam-1", RequiredSoftware: []string{"sas"}}
	machines := []models.ExamMachine{
		machineWith("ok", func(m *models.ExamMachine) {
			m.Software = []string{"sas", "office"}
			m.Accessibility = []string{"wheelchair"}
		}),
		machineWith("archived", func(m *models.ExamMachine) {
			m.Archived = true
			m.Software = []string{"sas"}
		}),
		machineWith("no-ip", func(m *models.ExamMachine) {
			m.IPAddress = nil
			m.Software = []string{"sas"}
		}),
		machineWith("wrong-software", func(m *models.ExamMachine) {
			m.Software = []string{"office"}
		}),
		machineWith("no-tags-but-accessible", func(m *models.ExamMachine) {
			m.Accessible = true
			m.Software = []string{"sas"}
		}),
	}
	svc := NewMachineService(&mockMachineRepo{machines: machines}, &mockRoomRepo{}, nil)

	room := &models.ExamRoom{ID: "room-1"}
	got, err := svc.EligibleMachines(context.Background(), room, []string{"wheelchair"}, exam)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].ID)
	assert.Equal(t, "no-tags-but-accessible", got[1].ID, "fully accessible flag overrides missing tags")
}

func TestEligibleMachinesPreloaded(t *testing.T) {
	room := &models.ExamRoom{
		ID:       "room-1",
		Machines: []models.ExamMachine{machineWith("m-1", nil)},
	}
	// The repo would return nothing; preloaded machines must win.
	svc := NewMachineService(&mockMachineRepo{}, &mockRoomRepo{}, nil)

	got, err := svc.EligibleMachines(context.Background(), room, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m-1", got[0].ID)
}

func TestShuffledCandidatesLeavesInputIntact(t *testing.T) {
	machines := []models.ExamMachine{
		machineWith("a", nil), machineWith("b", nil), machineWith("c", nil), machineWith("d", nil),
	}
	svc := NewMachineService(&mockMachineRepo{}, &mockRoomRepo{}, nil).
		WithRand(rand.New(rand.NewSource(1)))

	shuffled := svc.ShuffledCandidates(machines)
	require.Len(t, shuffled, len(machines))
	assert.Equal(t, "a", machines[0].ID, "input order is untouched")

	seen := map[string]bool{}
	for _, m := range shuffled {
		seen[m.ID] = true
	}
	assert.Len(t, seen, len(machines), "shuffle is a permutation")
}

func TestShuffledCandidatesConcurrent(t *testing.T) {
	machines := []models.ExamMachine{
		machineWith("a", nil), machineWith("b", nil), machineWith("c", nil), machineWith("d", nil),
	}
	svc := NewMachineService(&mockMachineRepo{}, &mockRoomRepo{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				shuffled := svc.ShuffledCandidates(machines)
				if len(shuffled) != len(machines) {
					t.Errorf("got %d candidates, want %d", len(shuffled), len(machines))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestReassignMachineUnknownRoom(t *testing.T) {
	repo := &mockMachineRepo{byID: &models.ExamMachine{ID: "m-1", RoomID: "room-1"}}
	svc := NewMachineService(repo, &mockRoomRepo{err: sql.ErrNoRows}, nil)

	_, err := svc.ReassignMachine(context.Background(), "m-1", &models.ReassignMachineRequest{RoomID: testRoomID})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, repo.reassigned)
}

func TestReassignMachineTargetOutOfService(t *testing.T) {
	repo := &mockMachineRepo{byID: &models.ExamMachine{ID: "m-1", RoomID: "room-1"}}
	svc := NewMachineService(repo, &mockRoomRepo{room: &models.ExamRoom{
		ID:           testRoomID,
		State:        models.RoomStateActive,
		OutOfService: true,
	}}, nil)

	_, err := svc.ReassignMachine(context.Background(), "m-1", &models.ReassignMachineRequest{RoomID: testRoomID})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReassignMachineSuccess(t *testing.T) {
	repo := &mockMachineRepo{byID: &models.ExamMachine{ID: "m-1", RoomID: "room-1"}}
	svc := NewMachineService(repo, &mockRoomRepo{room: &models.ExamRoom{
		ID:    testRoomID,
		State: models.RoomStateActive,
	}}, nil)

	got, err := svc.ReassignMachine(context.Background(), "m-1", &models.ReassignMachineRequest{RoomID: testRoomID})
	require.NoError(t, err)
	assert.Equal(t, testRoomID, repo.reassigned)
	assert.Equal(t, testRoomID, got.RoomID)
}
