package groundstation

import "fmt"

type SessionState int32

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Logging
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Logging:
		return "LOGGING"
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
