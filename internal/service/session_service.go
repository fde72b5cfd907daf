// internal/service/session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/config"
	internalDriver "can-bridge-service/internal/driver"
	"can-bridge-service/internal/model"
	"can-bridge-service/internal/protocol"
	"can-bridge-service/internal/repository"
	"can-bridge-service/internal/utils"
	"can-bridge-service/pkg/driver"
)

// EventPublisher receives session and operation events
type EventPublisher interface {
	Publish(event model.BridgeEvent)
}

// SessionService manages bridge sessions and runs operations against them
type SessionService struct {
	registry       *internalDriver.Registry
	channelFactory protocol.ChannelFactory
	operationRepo  repository.OperationRepository
	pool           *WorkerPool
	publisher      EventPublisher
	config         *config.Config
	logger         *utils.ServiceLogger
	auditLogger    *utils.AuditLogger
	now            func() time.Time

	sessions map[uuid.UUID]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service instance
func NewSessionService(
	registry *internalDriver.Registry,
	channelFactory protocol.ChannelFactory,
	operationRepo repository.OperationRepository,
	pool *WorkerPool,
	publisher EventPublisher,
	config *config.Config,
	logger *zap.Logger,
) *SessionService {
	if channelFactory == nil {
		channelFactory = protocol.CreateChannel
	}
	return &SessionService{
		registry:       registry,
		channelFactory: channelFactory,
		operationRepo:  operationRepo,
		pool:           pool,
		publisher:      publisher,
		config:         config,
		logger:         utils.NewServiceLogger(logger, "session-service"),
		auditLogger:    utils.NewAuditLogger(logger),
		now:            time.Now,
		sessions:       make(map[uuid.UUID]*Session),
	}
}

// ConnectRequest describes the bridge to open
type ConnectRequest struct {
	Brand            model.BridgeBrand      `json:"brand"`
	Model            string                 `json:"model"`
	ConnectionType   model.ConnectionType   `json:"connection_type"`
	ConnectionConfig map[string]interface{} `json:"connection_config"`
}

// Connect opens a channel to a bridge and registers a session for it
func (ss *SessionService) Connect(ctx context.Context, req *ConnectRequest) (*model.SessionInfo, error) {
	if err := ss.validateConnectRequest(req); err != nil {
		return nil, err
	}

	connectionConfig := ss.config.Bridge.DefaultPorts.ConnectionDefaults(string(req.ConnectionType))
	for k, v := range req.ConnectionConfig {
		connectionConfig[k] = v
	}

	channel, err := ss.channelFactory(req.ConnectionType, connectionConfig, ss.logger.Logger)
	if err != nil {
		return nil, err
	}

	info := model.SessionInfo{
		ID:               uuid.New(),
		Brand:            req.Brand,
		Model:            req.Model,
		ConnectionType:   req.ConnectionType,
		ConnectionConfig: model.JSONObject(connectionConfig),
		Status:           model.SessionStatusDisconnected,
		ModeState:        "unknown",
	}

	hostBaud := 0
	if req.ConnectionType == model.ConnectionTypeSerial {
		hostBaud = protocol.ParseSerialConfig(connectionConfig).BaudRate
	}
	opts := driver.Options{
		SessionID:           info.ID.String(),
		Timing:              ss.config.Bridge.DriverTiming(),
		Host:                ss.config.Bridge.HostDefaults(hostBaud),
		RequireConfirmation: ss.config.Bridge.RequireConfirmation,
	}

	drv, err := ss.registry.CreateDriver(&info, channel, opts)
	if err != nil {
		return nil, err
	}

	session := newSession(info, drv, model.DefaultSnapshot(ss.now()))
	drv.SetEventHandler(&sessionEvents{service: ss, session: session, sessionID: info.ID})

	connectCtx, cancel := context.WithTimeout(ctx, ss.config.Bridge.OperationTimeout)
	defer cancel()

	if err := drv.Connect(connectCtx); err != nil {
		ss.logger.Warn("Failed to connect bridge",
			zap.String("session_id", info.ID.String()),
			zap.String("connection_type", string(req.ConnectionType)),
			zap.Error(err),
		)
		return nil, err
	}

	session.mu.Lock()
	session.info.Status = model.SessionStatusConnected
	session.info.ConnectedAt = ss.now()
	session.mu.Unlock()

	ss.mu.Lock()
	ss.sessions[info.ID] = session
	ss.mu.Unlock()

	ss.logger.Info("Session connected",
		zap.String("session_id", info.ID.String()),
		zap.String("brand", string(info.Brand)),
		zap.String("model", info.Model),
		zap.String("connection_type", string(info.ConnectionType)),
	)

	return session.Info(), nil
}

// Disconnect closes the channel and forgets the session
func (ss *SessionService) Disconnect(ctx context.Context, id uuid.UUID) error {
	session, err := ss.session(id)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, ss.config.Bridge.QueueWaitTimeout)
	defer cancel()
	if err := session.acquire(waitCtx); err != nil {
		return err
	}
	defer session.release()

	ss.mu.Lock()
	delete(ss.sessions, id)
	ss.mu.Unlock()

	if err := session.driver.Disconnect(ctx); err != nil {
		ss.logger.Warn("Error while disconnecting bridge", zap.String("session_id", id.String()), zap.Error(err))
	}
	session.setStatus(model.SessionStatusDisconnected)

	ss.logger.Info("Session disconnected", zap.String("session_id", id.String()))
	return nil
}

// GetSession returns the public view of a session
func (ss *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*model.SessionInfo, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}
	return session.Info(), nil
}

// GetSessionHealth returns driver health metrics for a session
func (ss *SessionService) GetSessionHealth(ctx context.Context, id uuid.UUID) (*driver.HealthMetrics, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}
	return session.driver.GetHealthMetrics()
}

// ListSessions returns all sessions ordered by connect time
func (ss *SessionService) ListSessions(ctx context.Context) []*model.SessionInfo {
	ss.mu.RLock()
	sessions := make([]*model.SessionInfo, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		sessions = append(sessions, s.Info())
	}
	ss.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// Probe detects the device mode, optionally trying to switch into command mode
func (ss *SessionService) Probe(ctx context.Context, id uuid.UUID, allowSwitch bool) (*driver.ProbeResult, error) {
	data := model.JSONObject{"allow_switch": allowSwitch}
	value, err := ss.execute(ctx, id, model.OperationTypeProbe, data, func(opCtx context.Context, s *Session) (*outcome, error) {
		result, err := s.driver.Probe(opCtx, allowSwitch)
		if err != nil {
			return nil, err
		}
		s.setModeState(result.ModeState)

		status := model.OperationStatusSuccess
		if !result.Responsive {
			status = model.OperationStatusDegraded
		}
		return &outcome{
			value:  result,
			status: status,
			result: model.JSONObject{
				"mode_state":      result.ModeState,
				"responsive":      result.Responsive,
				"switch_strategy": result.SwitchStrategy,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*driver.ProbeResult), nil
}

// ReadAll reads every parameter section into the live snapshot
func (ss *SessionService) ReadAll(ctx context.Context, id uuid.UUID) (*driver.SyncResult, error) {
	value, err := ss.execute(ctx, id, model.OperationTypeReadAll, nil, func(opCtx context.Context, s *Session) (*outcome, error) {
		working := s.Snapshot()
		result, err := s.driver.ReadAll(opCtx, working)
		if err != nil {
			return nil, err
		}
		s.setSnapshot(working)
		s.setModeState(result.ModeState)

		sections := make([]interface{}, 0, len(result.Sections))
		for _, sec := range result.Sections {
			sections = append(sections, map[string]interface{}{
				"name":    sec.Name,
				"success": sec.Success,
				"error":   sec.Error,
			})
		}
		return &outcome{
			value:        result,
			status:       result.Status(),
			successCount: result.SuccessCount,
			total:        result.Total,
			result: model.JSONObject{
				"ratio":           result.Ratio().String(),
				"degraded":        result.Degraded,
				"mode_state":      result.ModeState,
				"switch_strategy": result.SwitchStrategy,
				"sections":        sections,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*driver.SyncResult), nil
}

// ApplyAll writes snapshot to the bridge and saves it. A nil snapshot applies the live one.
func (ss *SessionService) ApplyAll(ctx context.Context, id uuid.UUID, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	return ss.apply(ctx, id, model.OperationTypeApplyAll, snapshot, func(opCtx context.Context, d driver.BridgeDriver, s *model.Snapshot) (*driver.ApplyResult, error) {
		return d.ApplyAll(opCtx, s)
	})
}

// ApplyAdvanced writes the advanced CAN parameters and saves them
func (ss *SessionService) ApplyAdvanced(ctx context.Context, id uuid.UUID, snapshot *model.Snapshot) (*driver.ApplyResult, error) {
	return ss.apply(ctx, id, model.OperationTypeApplyAdvanced, snapshot, func(opCtx context.Context, d driver.BridgeDriver, s *model.Snapshot) (*driver.ApplyResult, error) {
		return d.ApplyAdvanced(opCtx, s)
	})
}

type applyFunc func(ctx context.Context, d driver.BridgeDriver, snapshot *model.Snapshot) (*driver.ApplyResult, error)

func (ss *SessionService) apply(ctx context.Context, id uuid.UUID, opType model.OperationType, snapshot *model.Snapshot, fn applyFunc) (*driver.ApplyResult, error) {
	value, err := ss.execute(ctx, id, opType, nil, func(opCtx context.Context, s *Session) (*outcome, error) {
		target := snapshot
		if target == nil {
			target = s.Snapshot()
		}

		result, err := fn(opCtx, s.driver, target)

		var applied []string
		if result != nil {
			applied = result.Applied
		}
		ss.auditLogger.LogConfigurationApplied(s.Info().ID.String(), strings.ToLower(string(opType)), applied, err)

		if err != nil {
			return nil, err
		}

		target = target.Clone()
		target.CanConfig.CustomIDs = s.Snapshot().CanConfig.CustomIDs
		target.Touch(ss.now())
		s.setSnapshot(target)

		return &outcome{
			value:        result,
			status:       model.OperationStatusSuccess,
			successCount: len(result.Applied),
			total:        result.Total,
			result: model.JSONObject{
				"applied":   toInterfaces(result.Applied),
				"confirmed": result.Confirmed,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*driver.ApplyResult), nil
}

// ResetDevice restarts the bridge and resets the live snapshot to defaults
func (ss *SessionService) ResetDevice(ctx context.Context, id uuid.UUID) error {
	_, err := ss.execute(ctx, id, model.OperationTypeReset, nil, func(opCtx context.Context, s *Session) (*outcome, error) {
		if err := s.driver.Reset(opCtx); err != nil {
			return nil, err
		}
		s.setSnapshot(model.DefaultSnapshot(ss.now()))
		s.setModeState("unknown")
		return &outcome{status: model.OperationStatusSuccess}, nil
	})
	return err
}

// SendCommand sends one raw AT command and returns the device answer
func (ss *SessionService) SendCommand(ctx context.Context, id uuid.UUID, command string) (string, error) {
	data := model.JSONObject{"command": command}
	value, err := ss.execute(ctx, id, model.OperationTypeSendCommand, data, func(opCtx context.Context, s *Session) (*outcome, error) {
		response, err := s.driver.SendCommand(opCtx, command)
		if err != nil {
			return nil, err
		}
		return &outcome{
			value:  response,
			status: model.OperationStatusSuccess,
			result: model.JSONObject{"response": response},
		}, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// LoadSnapshot decodes a persisted document. The live snapshot is replaced
// only when merge is set and the document validates; otherwise only
// status.last_update is refreshed. A failure leaves the live snapshot untouched.
func (ss *SessionService) LoadSnapshot(ctx context.Context, id uuid.UUID, text string, merge bool) (*model.Snapshot, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}

	doc, err := model.DecodeSnapshot([]byte(text))
	if err != nil {
		return nil, err
	}
	if merge {
		if err := doc.Snapshot.Validate(); err != nil {
			return nil, err
		}
	}

	snapshot, err := session.updateSnapshot(func(s *model.Snapshot) error {
		if merge {
			customIDs := s.CanConfig.CustomIDs
			*s = doc.Snapshot
			s.CanConfig.CustomIDs = customIDs
		}
		s.Touch(ss.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	ss.auditLogger.LogSnapshotImported(id.String(), merge, len(text))
	ss.publish(model.EventConfigUpdate, id, model.JSONObject{"source": "import", "merged": merge})
	return snapshot, nil
}

// SaveSnapshot renders the live snapshot as a persisted document
func (ss *SessionService) SaveSnapshot(ctx context.Context, id uuid.UUID) (string, error) {
	session, err := ss.session(id)
	if err != nil {
		return "", err
	}

	data, err := model.EncodeSnapshot(session.Snapshot(), ss.now())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetSnapshot returns a copy of the live snapshot
func (ss *SessionService) GetSnapshot(ctx context.Context, id uuid.UUID) (*model.Snapshot, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}
	return session.Snapshot(), nil
}

// UpdateSnapshot replaces the live snapshot after validation. Nothing is written to the device.
func (ss *SessionService) UpdateSnapshot(ctx context.Context, id uuid.UUID, snapshot *model.Snapshot) (*model.Snapshot, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, model.Errorf(model.KindValidation, "update_snapshot", "snapshot is required")
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	updated, err := session.updateSnapshot(func(s *model.Snapshot) error {
		customIDs := s.CanConfig.CustomIDs
		*s = *snapshot.Clone()
		s.CanConfig.CustomIDs = customIDs
		s.Touch(ss.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	ss.publish(model.EventConfigUpdate, id, model.JSONObject{"source": "edit"})
	return updated, nil
}

// AddCustomID records a custom CAN ID valid for the active frame type
func (ss *SessionService) AddCustomID(ctx context.Context, id uuid.UUID, canID string) (string, []string, error) {
	session, err := ss.session(id)
	if err != nil {
		return "", nil, err
	}

	var normalized string
	snapshot, err := session.updateSnapshot(func(s *model.Snapshot) error {
		var err error
		normalized, err = s.CanConfig.AddCustomID(canID)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return normalized, snapshot.CanConfig.CustomIDs, nil
}

// ApplyFilterPreset replaces the filter settings of the live snapshot
func (ss *SessionService) ApplyFilterPreset(ctx context.Context, id uuid.UUID, preset string) (*model.Snapshot, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}

	snapshot, err := session.updateSnapshot(func(s *model.Snapshot) error {
		return s.CanConfig.ApplyPreset(preset)
	})
	if err != nil {
		return nil, err
	}

	ss.publish(model.EventConfigUpdate, id, model.JSONObject{"source": "preset", "preset": preset})
	return snapshot, nil
}

// CANIDDescription explains one CAN identifier
type CANIDDescription struct {
	ID          string `json:"id"`
	Value       uint32 `json:"value"`
	Standard    bool   `json:"standard"`
	Description string `json:"description"`
}

// DescribeCANID names the well-known meaning of an identifier
func (ss *SessionService) DescribeCANID(canID string) (*CANIDDescription, error) {
	normalized, err := model.NormalizeCANID(canID)
	if err != nil {
		return nil, err
	}
	value, err := model.ParseCANID(normalized)
	if err != nil {
		return nil, err
	}
	return &CANIDDescription{
		ID:          normalized,
		Value:       value,
		Standard:    value <= model.MaxStandardCANID,
		Description: model.DescribeCANID(value),
	}, nil
}

// Shutdown disconnects every session
func (ss *SessionService) Shutdown(ctx context.Context) {
	ss.mu.Lock()
	sessions := ss.sessions
	ss.sessions = make(map[uuid.UUID]*Session)
	ss.mu.Unlock()

	for id, session := range sessions {
		if err := session.driver.Close(); err != nil {
			ss.logger.Warn("Failed to close session", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
	ss.logger.Info("Sessions closed", zap.Int("count", len(sessions)))
}

// outcome is what an operation body hands back to execute
type outcome struct {
	value        interface{}
	status       model.OperationStatus
	successCount int
	total        int
	result       model.JSONObject
}

type operationBody func(ctx context.Context, s *Session) (*outcome, error)

// execute serializes body on the session, runs it on the worker pool with
// the operation timeout and records it in the operation history
func (ss *SessionService) execute(ctx context.Context, id uuid.UUID, opType model.OperationType, data model.JSONObject, body operationBody) (interface{}, error) {
	session, err := ss.session(id)
	if err != nil {
		return nil, err
	}
	if status := session.status(); status == model.SessionStatusStale || status == model.SessionStatusDisconnected {
		return nil, model.Errorf(model.KindChannelIO, strings.ToLower(string(opType)), "session is %s, reconnect first", strings.ToLower(string(status)))
	}

	waitCtx, cancel := context.WithTimeout(ctx, ss.config.Bridge.QueueWaitTimeout)
	err = session.acquire(waitCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	operation := &model.SessionOperation{
		ID:            uuid.New(),
		SessionID:     id,
		OperationType: opType,
		OperationData: data,
		Status:        model.OperationStatusProcessing,
		StartedAt:     ss.now(),
		CreatedAt:     ss.now(),
	}
	if err := ss.operationRepo.Create(ctx, operation); err != nil {
		ss.logger.Error("Failed to record operation", zap.Error(err))
	}

	opLogger := utils.NewOperationLogger(ss.logger.Logger, string(opType), operation.ID.String())
	opLogger.Start(zap.String("session_id", id.String()))
	session.beginOperation(operation.ID)
	ss.publish(model.EventOperationStarted, id, model.JSONObject{
		"operation_id":   operation.ID.String(),
		"operation_type": string(opType),
	})

	results := ss.pool.Submit(func() (interface{}, error) {
		defer session.release()

		opCtx, cancel := context.WithTimeout(context.Background(), ss.config.Bridge.OperationTimeout)
		defer cancel()

		out, err := body(opCtx, session)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && model.KindOf(err) == "" {
			err = model.NewError(model.KindTimeout, strings.ToLower(string(opType)), err)
		}
		ss.finish(session, operation, opLogger, out, err)
		if err != nil {
			return nil, err
		}
		return out.value, nil
	})

	select {
	case res := <-results:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("operation %s still running: %w", operation.ID, ctx.Err())
	}
}

func (ss *SessionService) finish(session *Session, operation *model.SessionOperation, opLogger *utils.OperationLogger, out *outcome, err error) {
	now := ss.now()
	session.endOperation(err, now)

	eventData := model.JSONObject{
		"operation_id":   operation.ID.String(),
		"operation_type": string(operation.OperationType),
	}

	if err != nil {
		operation.Fail(err, now)
		opLogger.Error(err)
		eventData["status"] = string(operation.Status)
		eventData["error"] = err.Error()
		ss.publish(model.EventOperationFailed, operation.SessionID, eventData)
	} else {
		operation.SuccessCount = out.successCount
		operation.Total = out.total
		operation.Result = out.result
		operation.Complete(out.status, now)
		opLogger.Success(zap.String("status", string(out.status)))
		eventData["status"] = string(out.status)
		ss.publish(model.EventOperationCompleted, operation.SessionID, eventData)
	}

	if updateErr := ss.operationRepo.Update(context.Background(), operation); updateErr != nil {
		ss.logger.Error("Failed to update operation record", zap.Error(updateErr))
	}

	if model.KindOf(err) == model.KindChannelIO {
		ss.logger.Warn("Session marked stale after channel failure",
			zap.String("session_id", operation.SessionID.String()),
			zap.Error(err),
		)
	}
}

func (ss *SessionService) session(id uuid.UUID) (*Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	session, ok := ss.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrSessionNotFound)
	}
	return session, nil
}

func (ss *SessionService) publish(eventType model.EventType, sessionID uuid.UUID, data model.JSONObject) {
	if ss.publisher == nil {
		return
	}
	event := model.NewBridgeEvent(eventType, sessionID, data)
	if eventType == model.EventOperationFailed || eventType == model.EventSessionError {
		event.Severity = "ERROR"
	}
	ss.publisher.Publish(event)
}

func (ss *SessionService) validateConnectRequest(req *ConnectRequest) error {
	if req.Brand == "" {
		req.Brand = model.BrandWaveshare
	}
	if req.Model == "" {
		req.Model = ss.config.Bridge.DefaultModel
	}
	req.ConnectionType = model.ConnectionType(strings.ToUpper(string(req.ConnectionType)))
	switch req.ConnectionType {
	case model.ConnectionTypeSerial, model.ConnectionTypeTCP, model.ConnectionTypeUSB:
	case "":
		return model.Errorf(model.KindValidation, "connect", "connection_type is required")
	default:
		return model.Errorf(model.KindValidation, "connect", "unsupported connection type %q", req.ConnectionType)
	}
	if !ss.registry.IsSupported(req.Brand, req.Model) {
		return model.Errorf(model.KindValidation, "connect", "unsupported bridge: %s %s", req.Brand, req.Model)
	}
	return nil
}

// sessionEvents forwards driver events to the event publisher
type sessionEvents struct {
	service   *SessionService
	session   *Session
	sessionID uuid.UUID
}

func (e *sessionEvents) OnConnected(string) {
	e.service.publish(model.EventSessionConnected, e.sessionID, model.JSONObject{
		"connection_type": string(e.session.Info().ConnectionType),
	})
}

func (e *sessionEvents) OnDisconnected(_ string, reason string) {
	e.service.publish(model.EventSessionDisconnected, e.sessionID, model.JSONObject{"reason": reason})
}

func (e *sessionEvents) OnError(_ string, err error) {
	e.service.publish(model.EventSessionError, e.sessionID, model.JSONObject{
		"error": err.Error(),
		"kind":  string(model.KindOf(err)),
	})
}

func (e *sessionEvents) OnModeChanged(_ string, oldState, newState string) {
	e.session.setModeState(newState)
	e.service.publish(model.EventModeChanged, e.sessionID, model.JSONObject{
		"old_state": oldState,
		"new_state": newState,
	})
}

func (e *sessionEvents) OnSectionCompleted(_ string, section driver.SectionResult) {
	data := model.SectionEventData{
		OperationID: e.session.operationID(),
		Section:     section.Name,
		Success:     section.Success,
		Error:       section.Error,
	}
	e.service.publish(model.EventSectionCompleted, e.sessionID, model.JSONObject{
		"operation_id": data.OperationID.String(),
		"section":      data.Section,
		"success":      data.Success,
		"error":        data.Error,
	})
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
