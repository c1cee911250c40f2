//go:build linux

package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = "/org/mpris/MediaPlayer2"
	playerInterface  = "org.mpris.MediaPlayer2.Player"
	metadataProp     = playerInterface + ".Metadata"
	statusProp       = playerInterface + ".PlaybackStatus"
	propertiesSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
	nameOwnerSignal  = "org.freedesktop.DBus.NameOwnerChanged"
)

// ErrNotConnected is returned by Connect before Launch succeeded or after Close
var ErrNotConnected = errors.New("session bus not connected")

// MprisMonitor watches the session bus for MPRIS players.
// Every player on the bus without a session waits to be offered by Next,
// players that started playing first. Connect turns credentials into a
// session fed by the player's PropertiesChanged signals. When a player
// without a session starts playing, the open session of any other player
// ends so the loop can follow it.
type MprisMonitor struct {
	logger *zap.Logger
	dial   func() (DBusClient, error)

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	conn        DBusClient                // Interface for testability
	wg          sync.WaitGroup            // Tracks the signal goroutine
	playerNames map[string]string         // Maps unique bus names (:1.45) to well-known names
	sessions    map[string]*playerSession // Open sessions by unique bus name
	pending     []string                  // Unique names waiting for a session, next first

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewMprisMonitor creates a monitor connected to the user's session bus on Launch
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return newMprisMonitor(logger, NewStdDBusClient)
}

func newMprisMonitor(logger *zap.Logger, dial func() (DBusClient, error)) *MprisMonitor {
	return &MprisMonitor{
		logger:      logger,
		dial:        dial,
		playerNames: make(map[string]string),
		sessions:    make(map[string]*playerSession),
		wake:        make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// Launch connects to the session bus, subscribes to player signals and
// announces the players that are already running. It does not block.
func (m *MprisMonitor) Launch(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	select {
	case <-m.closed:
		m.mu.Unlock()
		return domain.ErrDiscoveryClosed
	default:
	}
	m.running = true
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.resetRunning()
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
		}
		m.resetRunning()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Without NameOwnerChanged only players present at launch are seen
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)

	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx, signals)

	if err := m.detectExistingPlayers(); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	m.logger.Info("MPRIS discovery started")
	return nil
}

// Next blocks until a player without a session is on the bus. The player
// that most recently started playing comes first.
func (m *MprisMonitor) Next(ctx context.Context) (domain.Credentials, error) {
	for {
		select {
		case <-m.closed:
			return domain.Credentials{}, domain.ErrDiscoveryClosed
		default:
		}

		if creds, ok := m.popPending(); ok {
			return creds, nil
		}

		select {
		case <-ctx.Done():
			return domain.Credentials{}, ctx.Err()
		case <-m.closed:
			return domain.Credentials{}, domain.ErrDiscoveryClosed
		case <-m.wake:
		}
	}
}

// Connect opens a session on the player named by creds and primes it with the
// player's current track
func (m *MprisMonitor) Connect(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, ok := m.playerNames[creds.Token]; !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("player %s is no longer on the bus", creds.Player)
	}
	if _, busy := m.sessions[creds.Token]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("player %s already has a session", creds.Player)
	}
	sess := newPlayerSession(m.logger, m, creds)
	m.sessions[creds.Token] = sess
	m.unqueueLocked(creds.Token)
	m.mu.Unlock()

	m.logger.Info("Player session opened",
		zap.String("player", creds.Player),
		zap.String("unique", creds.Token))

	if err := m.primeSession(conn, sess); err != nil {
		m.logger.Warn("Failed to fetch initial metadata",
			zap.String("player", creds.Player),
			zap.Error(err))
	}
	return sess, nil
}

// Close stops discovery, ends every open session and releases the connection
func (m *MprisMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.markClosed()

		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.running = false
		m.mu.Unlock()

		m.logger.Debug("Waiting for monitoring goroutines to finish")
		m.wg.Wait()

		m.endSessions()

		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()

		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				err = fmt.Errorf("close session bus: %w", cerr)
			}
		}
		m.logger.Info("MPRIS monitor shutdown complete")
	})
	return err
}

func (m *MprisMonitor) resetRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *MprisMonitor) markClosed() {
	m.doneOnce.Do(func() { close(m.closed) })
}

func (m *MprisMonitor) endSessions() {
	m.mu.Lock()
	open := make([]*playerSession, 0, len(m.sessions))
	for unique, sess := range m.sessions {
		open = append(open, sess)
		delete(m.sessions, unique)
	}
	m.mu.Unlock()

	for _, sess := range open {
		sess.end()
	}
}

// release forgets a session closed by its owner. A player still on the bus
// waits for a new session.
func (m *MprisMonitor) release(sess *playerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sess.creds.Token] != sess {
		return
	}
	delete(m.sessions, sess.creds.Token)
	m.queueLocked(sess.creds.Token, false)
}

func (m *MprisMonitor) isPresent(unique string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.playerNames[unique]
	return ok
}

// queueLocked makes a present player without a session pending, at the head
// of the queue or at its tail. m.mu must be held.
func (m *MprisMonitor) queueLocked(unique string, head bool) {
	if _, ok := m.playerNames[unique]; !ok {
		return
	}
	if _, busy := m.sessions[unique]; busy {
		return
	}
	m.unqueueLocked(unique)
	if head {
		m.pending = slices.Insert(m.pending, 0, unique)
	} else {
		m.pending = append(m.pending, unique)
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MprisMonitor) unqueueLocked(unique string) {
	m.pending = slices.DeleteFunc(m.pending, func(u string) bool { return u == unique })
}

func (m *MprisMonitor) popPending() (domain.Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) > 0 {
		unique := m.pending[0]
		m.pending = m.pending[1:]
		if name, ok := m.playerNames[unique]; ok {
			return domain.Credentials{Player: name, Token: unique}, true
		}
	}
	return domain.Credentials{}, false
}

// handOver moves a player that started playing to the head of the queue and
// ends the sessions of every other player
func (m *MprisMonitor) handOver(unique string) {
	m.mu.Lock()
	wellKnown, ok := m.playerNames[unique]
	if !ok || m.sessions[unique] != nil {
		m.mu.Unlock()
		return
	}
	var ended []*playerSession
	for other, sess := range m.sessions {
		ended = append(ended, sess)
		delete(m.sessions, other)
		m.queueLocked(other, false)
	}
	m.queueLocked(unique, true)
	m.mu.Unlock()

	for _, sess := range ended {
		m.logger.Info("Another player started playing, ending session",
			zap.String("player", sess.ID()),
			zap.String("playing", wellKnown))
		sess.end()
	}
}

func (m *MprisMonitor) sessionFor(unique string) *playerSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[unique]
}

func (m *MprisMonitor) client() DBusClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	conn := m.client()
	if conn == nil {
		return ErrNotConnected
	}

	names, err := conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		playerCount++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		uniqueName, err := conn.GetNameOwner(name)
		if err != nil {
			m.logger.Warn("Failed to resolve player owner",
				zap.String("player", name),
				zap.Error(err))
			continue
		}
		m.announcePlayer(name, uniqueName)
		if playbackStatus(conn, uniqueName) == statusPlaying {
			m.handOver(uniqueName)
		}
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// announcePlayer records a player and queues it for Next
func (m *MprisMonitor) announcePlayer(wellKnown, unique string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.playerNames[unique]; known {
		return
	}
	m.playerNames[unique] = wellKnown
	m.queueLocked(unique, false)

	m.logger.Debug("Mapped player name",
		zap.String("unique", unique),
		zap.String("wellKnown", wellKnown))
}

// removePlayer forgets a player and ends its session, if any
func (m *MprisMonitor) removePlayer(unique string) {
	m.mu.Lock()
	delete(m.playerNames, unique)
	m.unqueueLocked(unique)
	sess := m.sessions[unique]
	delete(m.sessions, unique)
	m.mu.Unlock()

	if sess != nil {
		m.logger.Info("Player left, ending session", zap.String("player", sess.ID()))
		sess.end()
	}
}

// primeSession feeds the player's current state into a fresh session
func (m *MprisMonitor) primeSession(conn DBusClient, sess *playerSession) error {
	player := sess.creds.Token

	variant, err := conn.GetProperty(player, mprisPath, metadataProp)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types when idle
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map, skipping", zap.String("player", sess.ID()))
		return nil
	}

	statusVariant, err := conn.GetProperty(player, mprisPath, statusProp)
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}

	status, ok := statusVariant.Value().(string)
	if !ok {
		return fmt.Errorf("invalid playback status format")
	}

	if status == statusStopped {
		return nil
	}
	sess.update(metadata, status)
	return nil
}

// monitorSignals listens for D-Bus signals and dispatches them
func (m *MprisMonitor) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer m.wg.Done()

	m.logger.Info("Signal monitoring goroutine started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Signal monitoring goroutine stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				m.logger.Warn("Session bus connection lost")
				m.markClosed()
				m.endSessions()
				return
			}
			if sig == nil {
				continue
			}
			switch sig.Name {
			case nameOwnerSignal:
				m.handleNameOwnerChanged(sig)
			case propertiesSignal:
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks players joining and leaving the bus
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case oldOwner == "" && newOwner != "":
		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))
		m.announcePlayer(name, newOwner)
	case oldOwner != "" && newOwner == "":
		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))
		m.removePlayer(oldOwner)
	case oldOwner != "" && newOwner != "":
		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
		m.removePlayer(oldOwner)
		m.announcePlayer(name, newOwner)
	}
}

// handleSignal routes a PropertiesChanged signal to the sender's session
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	// Body: interface name, changed properties, invalidated properties
	if sig.Name != propertiesSignal || len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	sess := m.sessionFor(sig.Sender)
	if sess == nil {
		if m.startedPlaying(sig.Sender, changedProps) {
			m.handOver(sig.Sender)
			return
		}
		m.logger.Debug("Ignoring signal from player without session", zap.String("sender", sig.Sender))
		return
	}

	metadataVariant, hasMetadata := changedProps["Metadata"]
	statusVariant, hasStatus := changedProps["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	var metadata map[string]dbus.Variant
	var status string

	if hasMetadata {
		metadata, ok = metadataVariant.Value().(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	}

	if hasStatus {
		status, ok = statusVariant.Value().(string)
		if !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	}

	// A bare resume after a stop needs the metadata to re-announce the track
	if !hasMetadata && status != statusStopped {
		if conn := m.client(); conn != nil {
			variant, err := conn.GetProperty(sig.Sender, mprisPath, metadataProp)
			if err == nil {
				if md, ok := variant.Value().(map[string]dbus.Variant); ok {
					metadata = md
				}
			}
		}
	}

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("player", sess.ID()),
		zap.Bool("metadata", hasMetadata),
		zap.String("status", status))

	sess.update(metadata, status)
}

// startedPlaying reports whether a change from a known player leaves it
// playing. A metadata change without a status is checked against the bus.
func (m *MprisMonitor) startedPlaying(sender string, changed map[string]dbus.Variant) bool {
	if !m.isPresent(sender) {
		return false
	}
	if v, ok := changed["PlaybackStatus"]; ok {
		status, _ := v.Value().(string)
		return status == statusPlaying
	}
	if _, ok := changed["Metadata"]; !ok {
		return false
	}
	conn := m.client()
	if conn == nil {
		return false
	}
	return playbackStatus(conn, sender) == statusPlaying
}

// playbackStatus reads a player's PlaybackStatus, "" when unavailable
func playbackStatus(conn DBusClient, player string) string {
	v, err := conn.GetProperty(player, mprisPath, statusProp)
	if err != nil {
		return ""
	}
	status, _ := v.Value().(string)
	return status
}
