package monitor

import (
	"github.com/godbus/dbus/v5"
)

// DBusClient is the subset of a session bus connection the monitor uses.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/ethist/internal/monitor DBusClient
type DBusClient interface {
	Close() error

	// AddMatchSignal subscribes the connection to the signals matching options
	AddMatchSignal(options ...dbus.MatchOption) error

	// Signal routes every received signal to ch
	Signal(ch chan<- *dbus.Signal)

	ListNames() ([]string, error)

	// GetNameOwner resolves a well-known name to its unique name (":1.45")
	GetNameOwner(name string) (string, error)

	// GetProperty reads prop ("org.mpris.MediaPlayer2.Player.Metadata") of
	// the object at path owned by player. player may be a well-known or a
	// unique bus name.
	GetProperty(player, path, prop string) (dbus.Variant, error)
}

// sessionBus is the godbus backed DBusClient
type sessionBus struct {
	conn *dbus.Conn
}

// NewStdDBusClient opens a private connection to the session bus.
// The monitor owns it and closes it on shutdown.
func NewStdDBusClient() (DBusClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &sessionBus{conn: conn}, nil
}

func (b *sessionBus) Close() error {
	return b.conn.Close()
}

func (b *sessionBus) AddMatchSignal(options ...dbus.MatchOption) error {
	return b.conn.AddMatchSignal(options...)
}

func (b *sessionBus) Signal(ch chan<- *dbus.Signal) {
	b.conn.Signal(ch)
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

func (b *sessionBus) GetNameOwner(name string) (string, error) {
	var owner string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

func (b *sessionBus) GetProperty(player, path, prop string) (dbus.Variant, error) {
	return b.conn.Object(player, dbus.ObjectPath(path)).GetProperty(prop)
}
