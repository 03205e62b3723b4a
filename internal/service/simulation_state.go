package service

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/Habitat/internal/domain/snapshot"
	"github.com/Strob0t/Habitat/internal/port/cache"
	"github.com/Strob0t/Habitat/internal/world"
)

// WorldState projects the whole world.
func (s *SimulationService) WorldState(_ context.Context) snapshot.WorldState {
	var st snapshot.WorldState
	s.world.View(func(w *world.World) {
		st = s.projector.WorldState(w, s.running.Load())
	})
	return st
}

// WorldSnapshot returns the encoded world projection, served from the
// snapshot cache when the world has not changed since it was stored.
func (s *SimulationService) WorldSnapshot(ctx context.Context) (json.RawMessage, error) {
	encode := func(ctx context.Context) ([]byte, error) {
		return json.Marshal(s.WorldState(ctx))
	}
	if s.snapshots == nil {
		return encode(ctx)
	}
	key := cache.SnapshotKey("world", "", s.world.Version())
	return s.snapshots.GetOrLoad(ctx, key, s.snapshotTTL, encode)
}

// AgentState projects one agent.
func (s *SimulationService) AgentState(_ context.Context, agentID string) (snapshot.AgentState, error) {
	id, err := parseAgent(agentID)
	if err != nil {
		return snapshot.AgentState{}, err
	}
	var st snapshot.AgentState
	s.world.View(func(w *world.World) {
		st, err = s.projector.AgentState(w, id)
	})
	return st, err
}

// RoomState projects one room.
func (s *SimulationService) RoomState(_ context.Context, roomID string) (snapshot.RoomState, error) {
	var (
		st  snapshot.RoomState
		err error
	)
	s.world.View(func(w *world.World) {
		st, err = s.projector.RoomState(w, roomID)
	})
	return st, err
}

// RoomOf returns the id of the room agentID occupies, if any.
func (s *SimulationService) RoomOf(agentID string) (string, bool) {
	id, err := parseAgent(agentID)
	if err != nil {
		return "", false
	}
	var (
		roomID string
		ok     bool
	)
	s.world.View(func(w *world.World) {
		roomID, ok = s.rooms.RoomIDOf(w, id)
	})
	return roomID, ok
}
