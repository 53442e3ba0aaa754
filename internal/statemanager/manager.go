package statemanager

import (
	"signal-trading-bot-go/internal/models"
	"signal-trading-bot-go/internal/persistence"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	// StateResetEvent replaces the whole engine state with the event's snapshot.
	StateResetEvent EventType = iota
	// PositionUpdateEvent replaces the open position; nil data means flat.
	PositionUpdateEvent
	// RiskUpdateEvent replaces the daily risk state.
	RiskUpdateEvent
	// TradeRecordedEvent appends a trade to the journal.
	TradeRecordedEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// persistJob is one unit of work for the persistence loop.
type persistJob struct {
	state *models.EngineState
	trade *models.TradeRecord
}

// StateManager is responsible for the persisted copy of the engine state.
// It ensures that all state changes are processed serially and saved asynchronously,
// so a slow disk never blocks the trading cycle.
type StateManager struct {
	state           *models.EngineState
	mu              sync.RWMutex
	repo            persistence.StateRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan persistJob
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager.
func NewStateManager(initialState *models.EngineState, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024), // Buffered channel
		persistenceChan: make(chan persistJob, 128),       // Buffered channel for snapshots and trades to be persisted
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop gracefully shuts down the StateManager. Events already dispatched are
// processed and persisted before Stop returns.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// DispatchEvent sends an event to the StateManager for processing.
// Events dispatched after Stop are dropped.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	select {
	case <-sm.stopChan:
		sm.logger.Sugar().Warnf("StateManager stopped, dropping event type %d", event.Type)
		return
	default:
	}
	select {
	case sm.eventChannel <- event:
	case <-sm.stopChan:
		sm.logger.Sugar().Warnf("StateManager stopped, dropping event type %d", event.Type)
	}
}

// PublishState dispatches a full snapshot of the engine state.
func (sm *StateManager) PublishState(state *models.EngineState) {
	sm.DispatchEvent(NormalizedEvent{Type: StateResetEvent, Timestamp: time.Now(), Data: state})
}

// RecordTrade dispatches a trade for the journal.
func (sm *StateManager) RecordTrade(rec *models.TradeRecord) {
	sm.DispatchEvent(NormalizedEvent{Type: TradeRecordedEvent, Timestamp: time.Now(), Data: rec})
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.EngineState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return deepCopy(sm.state)
}

// deepCopy creates a deep copy of the EngineState to prevent data races.
func deepCopy(state *models.EngineState) *models.EngineState {
	if state == nil {
		return nil
	}
	stateCopy := *state
	stateCopy.Position = state.Position.Clone()
	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
// On stop it drains the queued events and closes the persistence channel.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	defer close(sm.persistenceChan)
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			for {
				select {
				case event := <-sm.eventChannel:
					sm.processEvent(event)
				default:
					return
				}
			}
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots and trades.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for job := range sm.persistenceChan {
		if sm.repo == nil {
			continue
		}
		if job.trade != nil {
			if err := sm.repo.SaveTrade(job.trade); err != nil {
				sm.logger.Sugar().Errorf("CRITICAL: Failed to save trade %s: %v", job.trade.ID, err)
			}
		}
		if job.state != nil {
			if err := sm.repo.SaveState(job.state); err != nil {
				sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
			}
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	if event.Type == TradeRecordedEvent {
		if rec, ok := event.Data.(*models.TradeRecord); ok && rec != nil {
			sm.persistenceChan <- persistJob{trade: rec}
		} else {
			sm.logger.Sugar().Warnf("Received TradeRecordedEvent with unexpected data type: %T", event.Data)
		}
		return
	}

	sm.mu.Lock()
	switch event.Type {
	case StateResetEvent:
		if newState, ok := event.Data.(*models.EngineState); ok && newState != nil {
			sm.state = deepCopy(newState)
		} else {
			sm.logger.Sugar().Warnf("Received StateResetEvent with unexpected data type: %T", event.Data)
		}
	case PositionUpdateEvent:
		pos, ok := event.Data.(*models.Position)
		if ok && sm.state != nil {
			sm.state.Position = pos.Clone()
		} else {
			sm.logger.Sugar().Warnf("Received PositionUpdateEvent with unexpected data type: %T", event.Data)
		}
	case RiskUpdateEvent:
		if risk, ok := event.Data.(models.DailyRiskState); ok && sm.state != nil {
			sm.state.Risk = risk
		} else {
			sm.logger.Sugar().Warnf("Received RiskUpdateEvent with unexpected data type: %T", event.Data)
		}
	}

	if sm.state == nil {
		sm.mu.Unlock()
		return
	}
	sm.state.Version++
	sm.state.LastUpdateTime = event.Timestamp
	stateCopy := deepCopy(sm.state)
	sm.mu.Unlock()

	// After processing, send a deep copy of the new state to the persistence channel.
	sm.persistenceChan <- persistJob{state: stateCopy}
}
