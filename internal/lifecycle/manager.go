package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/observability/metrics"
	"livego/internal/rooms"
	"livego/internal/storage"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Hook actions sent by the media server. The "on_" prefix is optional.
const (
	ActionConnect   = "connect"
	ActionClose     = "close"
	ActionPublish   = "publish"
	ActionUnpublish = "unpublish"
	ActionPlay      = "play"
	ActionStop      = "stop"
	ActionDVR       = "dvr"
	ActionRecord    = "record"
)

const hookTimeout = 5 * time.Second

// Publisher fans lifecycle events out to a room and to every client.
type Publisher interface {
	Publish(ctx context.Context, roomID, event string, payload any) error
	PublishGlobal(ctx context.Context, event string, payload any) error
}

// StatusEvent is published to the stream's room on every transition.
type StatusEvent struct {
	StreamID  string     `json:"streamId"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"startedAt"`
}

// GlobalUpdate tells every client a stream changed state.
type GlobalUpdate struct {
	ID     string `json:"id"`
	IsLive bool   `json:"isLive"`
}

type Config struct {
	Store   storage.Repository
	Rooms   Publisher
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time
}

type Manager struct {
	store   storage.Repository
	rooms   Publisher
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	viewers *viewerTracker

	// transitions serializes write + announce so status events reach rooms
	// in the order the store applied them.
	transitions sync.Mutex
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		store:   cfg.Store,
		rooms:   cfg.Rooms,
		logger:  logger.With("component", "lifecycle"),
		metrics: recorder,
		now:     clock,
		viewers: newViewerTracker(),
	}, nil
}

// NormalizeAction lower-cases action and strips the "on_" prefix.
func NormalizeAction(action string) string {
	normalized := strings.ToLower(strings.TrimSpace(action))
	return strings.TrimPrefix(normalized, "on_")
}

// HandleHook dispatches a media server callback. It never fails: problems
// are logged and the caller always acknowledges the hook.
func (m *Manager) HandleHook(ctx context.Context, action, streamID string) {
	action = NormalizeAction(action)
	streamID = strings.TrimSpace(streamID)
	m.metrics.HookReceived(action)

	switch action {
	case ActionPublish:
		m.OnPublish(ctx, streamID)
	case ActionUnpublish:
		m.OnUnpublish(ctx, streamID)
	default:
		m.Acknowledge(ctx, action, streamID)
	}
}

// OnPublish marks the stream live. Repeated callbacks for a live stream are
// no-ops and keep the original start time.
func (m *Manager) OnPublish(ctx context.Context, streamID string) {
	m.transition(ctx, streamID, true)
}

// OnUnpublish marks the stream offline. StartedAt is kept.
func (m *Manager) OnUnpublish(ctx context.Context, streamID string) {
	m.transition(ctx, streamID, false)
	if streamID == "" {
		return
	}
	peak, total := m.viewers.clear(streamID)
	m.metrics.SetViewers(total)
	if peak > 0 {
		m.logger.InfoContext(ctx, "stream viewers cleared", "stream_id", streamID, "peak_viewers", peak)
	}
}

func (m *Manager) transition(ctx context.Context, streamID string, live bool) {
	if streamID == "" {
		m.logger.WarnContext(ctx, "hook without stream id", "live", live)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	m.transitions.Lock()
	defer m.transitions.Unlock()

	stream, changed, err := m.store.SetStreamLive(ctx, streamID, live, m.now())
	switch {
	case errors.Is(err, storage.ErrStreamNotFound):
		m.logger.WarnContext(ctx, "hook for unknown stream", "stream_id", streamID, "live", live)
		return
	case err != nil:
		m.logger.ErrorContext(ctx, "stream state update failed", "stream_id", streamID, "live", live, "error", err)
		return
	case !changed:
		m.logger.DebugContext(ctx, "stream already in requested state", "stream_id", streamID, "live", live)
		return
	}

	status := StatusOffline
	if live {
		status = StatusOnline
		m.metrics.StreamStarted()
	} else {
		m.metrics.StreamStopped()
	}
	m.logger.InfoContext(ctx, "stream state changed", "stream_id", streamID, "status", status)
	m.announce(ctx, stream, status)
}

func (m *Manager) announce(ctx context.Context, stream models.Stream, status string) {
	if m.rooms == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	event := StatusEvent{StreamID: stream.ID, Status: status, StartedAt: stream.StartedAt}
	if err := m.rooms.Publish(ctx, stream.ID, rooms.EventStreamStatus, event); err != nil {
		m.logger.WarnContext(ctx, "stream status publish failed", "stream_id", stream.ID, "error", err)
	}
	update := GlobalUpdate{ID: stream.ID, IsLive: stream.IsLive}
	if err := m.rooms.PublishGlobal(ctx, rooms.EventGlobalUpdate, update); err != nil {
		m.logger.WarnContext(ctx, "global stream update publish failed", "stream_id", stream.ID, "error", err)
	}
}

// Acknowledge handles the callbacks that never change stream state. Play
// and stop adjust the viewer count.
func (m *Manager) Acknowledge(ctx context.Context, action, streamID string) {
	action = NormalizeAction(action)
	switch action {
	case ActionPlay:
		if streamID == "" {
			return
		}
		m.attachViewer(ctx, streamID)
	case ActionStop:
		if streamID == "" {
			return
		}
		counts, total := m.viewers.decrement(streamID)
		m.metrics.SetViewers(total)
		m.logger.DebugContext(ctx, "viewer detached", "stream_id", streamID, "viewers", counts.current)
	case ActionConnect, ActionClose, ActionDVR, ActionRecord:
		m.logger.DebugContext(ctx, "hook acknowledged", "action", action, "stream_id", streamID)
	default:
		m.logger.WarnContext(ctx, "unknown hook action", "action", action, "stream_id", streamID)
	}
}

// attachViewer counts a player only while its stream is live, so the tracker
// holds at most one entry per live stream. It shares the transition lock with
// unpublish so a late play cannot recreate a cleared entry.
func (m *Manager) attachViewer(ctx context.Context, streamID string) {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	m.transitions.Lock()
	defer m.transitions.Unlock()

	stream, err := m.store.GetStream(ctx, streamID)
	switch {
	case errors.Is(err, storage.ErrStreamNotFound):
		m.logger.WarnContext(ctx, "play for unknown stream", "stream_id", streamID)
		return
	case err != nil:
		m.logger.ErrorContext(ctx, "stream lookup failed", "stream_id", streamID, "error", err)
		return
	case !stream.IsLive:
		m.logger.DebugContext(ctx, "play for offline stream ignored", "stream_id", streamID)
		return
	}
	counts, total := m.viewers.increment(streamID)
	m.metrics.SetViewers(total)
	m.logger.DebugContext(ctx, "viewer attached", "stream_id", streamID, "viewers", counts.current)
}

// Get returns the stream with its current viewer count.
func (m *Manager) Get(ctx context.Context, streamID string) (models.Stream, error) {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return models.Stream{}, apperr.InvalidInput("stream id is required")
	}
	stream, err := m.store.GetStream(ctx, streamID)
	if errors.Is(err, storage.ErrStreamNotFound) {
		return models.Stream{}, apperr.Wrap(apperr.KindNotFound, err, "stream not found")
	}
	if err != nil {
		return models.Stream{}, apperr.Internal(err)
	}
	stream.Viewers = m.viewers.current(stream.ID)
	return stream, nil
}

// ListLive returns live streams, most recently started first.
func (m *Manager) ListLive(ctx context.Context) ([]models.Stream, error) {
	streams, err := m.store.ListLiveStreams(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range streams {
		streams[i].Viewers = m.viewers.current(streams[i].ID)
	}
	return streams, nil
}
